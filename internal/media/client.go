// Package media wraps the content generation service with per-call
// timeouts, bounded retries, rate limiting and the image size cascade, and
// stores every generated binary as an artifact.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"autoblog/internal/automation"
	"autoblog/internal/llm"
)

type Options struct {
	TextTimeout  time.Duration
	ImageTimeout time.Duration
	AudioTimeout time.Duration
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff           time.Duration
	RequestsPerMinute float64
	Burst             int
	// Retryable decides whether a failure is transient. Defaults to
	// llm.IsLikelyTransientError.
	Retryable func(error) bool
	// SizeRejected decides whether an image failure should move the cascade
	// to the next candidate. Defaults to llm.IsLikelySizeError.
	SizeRejected func(error) bool
}

func DefaultOptions() Options {
	return Options{
		TextTimeout:  90 * time.Second,
		ImageTimeout: 120 * time.Second,
		AudioTimeout: 60 * time.Second,
		MaxRetries:   2,
		Backoff:      time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TextTimeout <= 0 {
		o.TextTimeout = d.TextTimeout
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = d.ImageTimeout
	}
	if o.AudioTimeout <= 0 {
		o.AudioTimeout = d.AudioTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.Retryable == nil {
		o.Retryable = llm.IsLikelyTransientError
	}
	if o.SizeRejected == nil {
		o.SizeRejected = llm.IsLikelySizeError
	}
	return o
}

// Artifact is a stored binary referenced by its relative path.
type Artifact struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
}

type ImageArtifact struct {
	Artifact
	// Size is nil when the service chose the size.
	Size         *llm.Size `json:"size,omitempty"`
	UsedFallback bool      `json:"used_fallback"`
	Attempts     int       `json:"attempts"`
}

type TextOptions struct {
	System    string
	MaxTokens int
}

type Client struct {
	svc     llm.Service
	assets  AssetStore
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(svc llm.Service, assets AssetStore, opts Options, logger zerolog.Logger) *Client {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(opts.RequestsPerMinute / 60)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		svc:     svc,
		assets:  assets,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "media").Logger(),
	}
}

func (c *Client) Configured() bool { return c != nil && c.svc != nil && c.svc.Configured() }

func (c *Client) GenerateText(ctx context.Context, settings automation.Settings, prompt string, opts TextOptions) (string, error) {
	var text string
	_, err := c.call(ctx, "text", c.opts.TextTimeout, func(ctx context.Context) error {
		out, err := c.svc.GenerateText(ctx, llm.TextRequest{
			System:      opts.System,
			Prompt:      prompt,
			Model:       settings.TextModel,
			MaxTokens:   opts.MaxTokens,
			Temperature: settings.Temperature,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return llm.ErrEmptyResponse
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateImage walks the candidate sizes for ratio (settings.ImageRatio when
// empty). Only size-classified failures advance the cascade; any other
// failure ends it.
func (c *Client) GenerateImage(ctx context.Context, settings automation.Settings, prompt string, ratio string) (ImageArtifact, error) {
	if strings.TrimSpace(ratio) == "" {
		ratio = settings.ImageRatio
	}
	candidates := ImageCandidates(ratio)
	total := 0
	var lastErr error
	for i, size := range candidates {
		var bin llm.Binary
		attempts, err := c.call(ctx, "image", c.opts.ImageTimeout, func(ctx context.Context) error {
			out, err := c.svc.GenerateImage(ctx, llm.ImageRequest{
				Prompt:  prompt,
				Model:   settings.ImageModel,
				Quality: settings.ImageQuality,
				Size:    size,
			})
			if err != nil {
				return err
			}
			if len(out.Data) == 0 {
				return llm.ErrEmptyResponse
			}
			bin = out
			return nil
		})
		total += attempts
		if err == nil {
			art, err := c.store(ctx, AssetImage, bin)
			if err != nil {
				return ImageArtifact{}, err
			}
			if i > 0 {
				c.logger.Info().Str("size", sizeLabel(size)).Int("candidate", i).Msg("image generated with fallback size")
			}
			return ImageArtifact{Artifact: art, Size: size, UsedFallback: i > 0, Attempts: total}, nil
		}
		lastErr = err
		if ctx.Err() != nil || !c.opts.SizeRejected(err) {
			return ImageArtifact{}, err
		}
		c.logger.Warn().Err(err).Str("size", sizeLabel(size)).Msg("image size rejected")
	}
	return ImageArtifact{}, fmt.Errorf("all %d image sizes rejected: %w", len(candidates), lastErr)
}

// GenerateAudio converts text to speech. format falls back to
// settings.AudioFormat.
func (c *Client) GenerateAudio(ctx context.Context, settings automation.Settings, text string, format string) (Artifact, error) {
	if strings.TrimSpace(format) == "" {
		format = settings.AudioFormat
	}
	var bin llm.Binary
	_, err := c.call(ctx, "audio", c.opts.AudioTimeout, func(ctx context.Context) error {
		out, err := c.svc.GenerateAudio(ctx, llm.AudioRequest{
			Text:   text,
			Model:  settings.AudioModel,
			Voice:  settings.AudioVoice,
			Format: format,
		})
		if err != nil {
			return err
		}
		if len(out.Data) == 0 {
			return llm.ErrEmptyResponse
		}
		bin = out
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return c.store(ctx, AssetAudio, bin)
}

func (c *Client) store(ctx context.Context, kind AssetKind, bin llm.Binary) (Artifact, error) {
	if c.assets == nil {
		return Artifact{}, errors.New("asset store is not configured")
	}
	rel, err := c.assets.Save(ctx, kind, bin.Data, bin.MimeType)
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s artifact: %w", kind, err)
	}
	return Artifact{Path: rel, MimeType: bin.MimeType, Bytes: len(bin.Data)}, nil
}

// call runs fn with a per-attempt timeout and retries transient failures.
// It returns the number of attempts made.
func (c *Client) call(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) (int, error) {
	if !c.Configured() {
		return 0, llm.ErrNotConfigured
	}
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return attempt - 1, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || attempt > c.opts.MaxRetries || !c.opts.Retryable(err) {
			return attempt, err
		}
		wait := c.opts.Backoff * time.Duration(attempt)
		c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("transient failure, retrying")
		if err := sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sizeLabel(size *llm.Size) string {
	if size == nil {
		return "auto"
	}
	return size.String()
}
