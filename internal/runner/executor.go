// Package runner executes one automation end to end: text, images, audio,
// publish, then bookkeeping.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"autoblog/internal/automation"
	"autoblog/internal/errlog"
	"autoblog/internal/lease"
	"autoblog/internal/llm"
	"autoblog/internal/media"
	"autoblog/internal/publish"
	"autoblog/internal/usage"
)

var (
	ErrNoCredential     = errors.New("no generation credential configured")
	ErrAlreadyCompleted = errors.New("one-shot automation already completed")
	ErrRunInProgress    = errors.New("automation run already in progress")
)

type Stage string

const (
	StagePrecondition Stage = "precondition"
	StageText         Stage = "text"
	StageAudio        Stage = "audio"
	StagePublish      Stage = "publish"
	StageBookkeeping  Stage = "bookkeeping"
)

// RunError is the failure RunNow surfaces. Kind is empty for precondition
// failures, which are never classified or logged.
type RunError struct {
	AutomationID string      `json:"automation_id"`
	Stage        Stage       `json:"stage"`
	Kind         errlog.Kind `json:"kind,omitempty"`
	Err          error       `json:"-"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.AutomationID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Media is the resilient generation client.
type Media interface {
	Configured() bool
	GenerateText(ctx context.Context, settings automation.Settings, prompt string, opts media.TextOptions) (string, error)
	GenerateImage(ctx context.Context, settings automation.Settings, prompt string, ratio string) (media.ImageArtifact, error)
	GenerateAudio(ctx context.Context, settings automation.Settings, text string, format string) (media.Artifact, error)
}

type Config struct {
	Store     *automation.Store
	Media     Media
	Publisher publish.Service
	Usage     *usage.Meter
	Errors    *errlog.Log
	Runs      *RunLog
	Lease     lease.Locker
	LeaseTTL  time.Duration
	Logger    zerolog.Logger
	// ImageCount returns how many images to attempt. Defaults to a uniform
	// pick in [1,3].
	ImageCount func() int
	Now        func() time.Time
}

type Executor struct {
	store      *automation.Store
	media      Media
	publisher  publish.Service
	usage      *usage.Meter
	errors     *errlog.Log
	runs       *RunLog
	lease      lease.Locker
	leaseTTL   time.Duration
	logger     zerolog.Logger
	imageCount func() int
	now        func() time.Time
}

func New(cfg Config) *Executor {
	e := &Executor{
		store:      cfg.Store,
		media:      cfg.Media,
		publisher:  cfg.Publisher,
		usage:      cfg.Usage,
		errors:     cfg.Errors,
		runs:       cfg.Runs,
		lease:      cfg.Lease,
		leaseTTL:   cfg.LeaseTTL,
		logger:     cfg.Logger.With().Str("component", "runner").Logger(),
		imageCount: cfg.ImageCount,
		now:        cfg.Now,
	}
	if e.lease == nil {
		e.lease = lease.NewLocal()
	}
	if e.leaseTTL <= 0 {
		e.leaseTTL = lease.DefaultTTL
	}
	if e.imageCount == nil {
		e.imageCount = func() int { return 1 + rand.IntN(3) }
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

type Result struct {
	Automation automation.Entry      `json:"automation"`
	Article    publish.Published     `json:"article"`
	Images     []media.ImageArtifact `json:"images"`
	Audio      media.Artifact        `json:"audio"`
	Run        RunRecord             `json:"run"`
}

// run carries the state of one execution.
type run struct {
	rec      RunRecord
	entry    automation.Entry
	settings automation.Settings
	events   []usage.Event
	logger   zerolog.Logger
}

// RunNow executes automation id once. Concurrent calls for the same id are
// rejected with ErrRunInProgress.
func (e *Executor) RunNow(ctx context.Context, id string) (Result, error) {
	id = strings.TrimSpace(id)
	held, err := e.lease.Acquire(ctx, id, e.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			err = ErrRunInProgress
		}
		return Result{}, &RunError{AutomationID: id, Stage: StagePrecondition, Err: err}
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn().Err(err).Str("automation_id", id).Msg("release lease")
		}
	}()

	r, err := e.prepare(ctx, id)
	if err != nil {
		return Result{}, &RunError{AutomationID: id, Stage: StagePrecondition, Err: err}
	}
	r.logger.Info().Str("title", r.entry.Title).Msg("run started")

	res, err := e.execute(ctx, r)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			r.rec.Stage = runErr.Stage
		}
		r.rec.Status = RunFailed
		r.rec.Error = err.Error()
		r.rec.FinishedAt = e.now().UTC()
		if appendErr := e.runs.Append(context.WithoutCancel(ctx), r.rec); appendErr != nil {
			r.logger.Error().Err(appendErr).Msg("record failed run")
		}
		r.logger.Error().Err(err).Msg("run failed")
		return Result{}, err
	}
	r.logger.Info().Str("slug", res.Article.Slug).Int("images", len(res.Images)).Msg("run published")
	return res, nil
}

func (e *Executor) prepare(ctx context.Context, id string) (*run, error) {
	if e.media == nil || !e.media.Configured() {
		return nil, ErrNoCredential
	}
	entry, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Schedule.Type == automation.ScheduleOnce && (entry.Status == automation.StatusCompleted || entry.LastRun != nil) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	runID := ulid.Make().String()
	return &run{
		rec: RunRecord{
			ID:           runID,
			AutomationID: entry.ID,
			Title:        entry.Title,
			StartedAt:    e.now().UTC(),
		},
		entry:    entry,
		settings: settings,
		logger:   e.logger.With().Str("automation_id", entry.ID).Str("run_id", runID).Logger(),
	}, nil
}

func (e *Executor) execute(ctx context.Context, r *run) (Result, error) {
	// Text.
	prompt := articlePrompt(r.settings, r.entry)
	raw, err := e.media.GenerateText(ctx, r.settings, prompt, media.TextOptions{System: articleSystem})
	if err != nil {
		return Result{}, e.fail(ctx, r, StageText, err, errlog.Context{
			Action:       errlog.ActionGenerateText,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"prompt": prompt, "system": articleSystem},
		})
	}
	r.events = append(r.events, usage.TextEvent(articleSystem+prompt, raw))
	article := ParseArticle(raw)
	if article.Body == "" {
		return Result{}, e.fail(ctx, r, StageText, fmt.Errorf("article body: %w", llm.ErrEmptyResponse), errlog.Context{
			Action:       errlog.ActionGenerateText,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"prompt": prompt, "system": articleSystem},
		})
	}
	if article.Title == "" {
		article.Title = r.entry.Title
	}
	r.rec.Title = article.Title

	// Images fail individually.
	images := e.generateImages(ctx, r, article)

	// Audio summary.
	sumPrompt := summaryPrompt(r.settings, article)
	summary, err := e.media.GenerateText(ctx, r.settings, sumPrompt, media.TextOptions{})
	if err == nil && strings.TrimSpace(summary) == "" {
		err = fmt.Errorf("audio summary: %w", llm.ErrEmptyResponse)
	}
	if err != nil {
		return Result{}, e.fail(ctx, r, StageAudio, err, errlog.Context{
			Action:       errlog.ActionGenerateText,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"prompt": sumPrompt},
		})
	}
	r.events = append(r.events, usage.TextEvent(sumPrompt, summary))
	summary = TruncateRunes(summary, SummaryLimit)
	audio, err := e.media.GenerateAudio(ctx, r.settings, summary, r.settings.AudioFormat)
	if err != nil {
		return Result{}, e.fail(ctx, r, StageAudio, err, errlog.Context{
			Action:       errlog.ActionGenerateAudio,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"text": summary, "format": r.settings.AudioFormat},
		})
	}
	r.events = append(r.events, usage.AudioEvent(summary))
	if article.Summary == "" {
		article.Summary = summary
	}

	// Assembly and publish.
	published, err := e.publishArticle(ctx, r, article, images, audio)
	if err != nil {
		return Result{}, e.fail(ctx, r, StagePublish, err, errlog.Context{
			Action:       errlog.ActionRunAutomation,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"automation_id": r.entry.ID},
		})
	}

	// Bookkeeping.
	r.rec.Status = RunSucceeded
	r.rec.Slug = published.Slug
	r.rec.URL = published.URL
	entry, err := e.store.RecordRun(ctx, r.entry.ID, automation.RunInfo{
		At: r.rec.StartedAt,
		Blog: &automation.BlogReference{
			DraftID:     published.DraftID,
			Slug:        published.Slug,
			URL:         published.URL,
			PublishedAt: published.PublishedAt,
		},
	})
	if err != nil {
		return Result{}, e.fail(ctx, r, StageBookkeeping, err, errlog.Context{
			Action:       errlog.ActionRunAutomation,
			AutomationID: r.entry.ID,
			Inputs:       map[string]string{"automation_id": r.entry.ID, "slug": published.Slug},
		})
	}
	r.rec.FinishedAt = e.now().UTC()
	if err := e.runs.Append(ctx, r.rec); err != nil {
		r.logger.Error().Err(err).Msg("append run log")
	}
	if e.usage != nil {
		if err := e.usage.Record(ctx, r.events...); err != nil {
			r.logger.Error().Err(err).Msg("record usage")
		}
	}
	return Result{
		Automation: entry,
		Article:    published,
		Images:     images,
		Audio:      audio,
		Run:        r.rec,
	}, nil
}

func (e *Executor) generateImages(ctx context.Context, r *run, article Article) []media.ImageArtifact {
	n := e.imageCount()
	if n < 0 {
		n = 0
	}
	var images []media.ImageArtifact
	for i, excerpt := range Excerpts(article.Body, n) {
		prompt := imagePrompt(article.Title, excerpt)
		img, err := e.media.GenerateImage(ctx, r.settings, prompt, r.settings.ImageRatio)
		if err != nil {
			r.rec.ImageFailures++
			r.logger.Warn().Err(err).Int("image", i+1).Msg("image generation failed")
			e.logError(ctx, err, errlog.Context{
				Action:       errlog.ActionGenerateImage,
				AutomationID: r.entry.ID,
				Inputs:       map[string]string{"prompt": prompt, "ratio": r.settings.ImageRatio},
			})
			continue
		}
		if img.UsedFallback {
			r.rec.UsedFallback = true
		}
		images = append(images, img)
	}
	if len(images) > 0 {
		r.events = append(r.events, usage.ImageEvent(len(images)))
	}
	return images
}

func (e *Executor) publishArticle(ctx context.Context, r *run, article Article, images []media.ImageArtifact, audio media.Artifact) (publish.Published, error) {
	figures := make([]figure, 0, len(images))
	for _, img := range images {
		permanent, err := e.publisher.PromoteAsset(ctx, img.Path)
		if err != nil {
			return publish.Published{}, err
		}
		figures = append(figures, figure{Path: permanent, Alt: article.Title})
		r.rec.Images = append(r.rec.Images, permanent)
	}
	audioPath, err := e.publisher.PromoteAsset(ctx, audio.Path)
	if err != nil {
		return publish.Published{}, err
	}
	r.rec.Audio = audioPath

	draftID, err := e.publisher.CreateDraft(ctx, publish.Draft{
		Title:        article.Title,
		Summary:      article.Summary,
		Body:         assembleBody(article.Body, figures),
		Category:     r.settings.Category,
		Tags:         articleTags(r.settings, r.entry),
		Language:     r.settings.Language,
		Images:       r.rec.Images,
		Audio:        audioPath,
		AutomationID: r.entry.ID,
	})
	if err != nil {
		return publish.Published{}, err
	}
	return e.publisher.Publish(ctx, draftID)
}

// fail logs err to the error log and wraps it as the run's hard failure.
func (e *Executor) fail(ctx context.Context, r *run, stage Stage, err error, c errlog.Context) error {
	kind := e.logError(ctx, err, c)
	return &RunError{AutomationID: r.entry.ID, Stage: stage, Kind: kind, Err: err}
}

func (e *Executor) logError(ctx context.Context, err error, c errlog.Context) errlog.Kind {
	if e.errors == nil {
		return errlog.HeuristicClassifier{}.Classify(err)
	}
	entry, logErr := e.errors.Record(context.WithoutCancel(ctx), err, c)
	if logErr != nil {
		e.logger.Error().Err(logErr).Msg("append error log")
		return errlog.HeuristicClassifier{}.Classify(err)
	}
	return entry.Kind
}
