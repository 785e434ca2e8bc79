package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"autoblog/internal/errlog"
	"autoblog/internal/media"
)

// RetryOutcome reports what replaying the newest error produced. Exactly one
// of Run, Text or Artifact is set on success.
type RetryOutcome struct {
	Entry    errlog.Entry    `json:"entry"`
	Run      *Result         `json:"run,omitempty"`
	Text     string          `json:"text,omitempty"`
	Artifact *media.Artifact `json:"artifact,omitempty"`
}

// RetryLast replays the newest error-log entry. Failures tied to an
// automation rerun that automation; standalone generation failures replay
// the single call with its captured inputs.
func (e *Executor) RetryLast(ctx context.Context) (RetryOutcome, error) {
	if e.errors == nil {
		return RetryOutcome{}, errors.New("error log is not configured")
	}
	var out RetryOutcome
	entry, err := e.errors.RetryLast(ctx, e.retryHandlers(&out))
	out.Entry = entry
	return out, err
}

func (e *Executor) retryHandlers(out *RetryOutcome) map[string]errlog.RetryFunc {
	rerun := func(ctx context.Context, entry errlog.Entry) error {
		id := entry.Context.AutomationID
		if id == "" {
			id = entry.Context.Inputs["automation_id"]
		}
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: entry %s has no automation id", errlog.ErrNotRetryable, entry.ID)
		}
		res, err := e.RunNow(ctx, id)
		if err != nil {
			return err
		}
		out.Run = &res
		return nil
	}
	return map[string]errlog.RetryFunc{
		errlog.ActionRunAutomation: rerun,
		errlog.ActionGenerateText: func(ctx context.Context, entry errlog.Entry) error {
			if entry.Context.AutomationID != "" {
				return rerun(ctx, entry)
			}
			settings, err := e.store.Settings(ctx)
			if err != nil {
				return err
			}
			in := entry.Context.Inputs
			maxTokens, _ := strconv.Atoi(in["max_tokens"])
			text, err := e.media.GenerateText(ctx, settings, in["prompt"], media.TextOptions{System: in["system"], MaxTokens: maxTokens})
			if err != nil {
				e.logError(ctx, err, entry.Context)
				return err
			}
			out.Text = text
			return nil
		},
		errlog.ActionGenerateAudio: func(ctx context.Context, entry errlog.Entry) error {
			if entry.Context.AutomationID != "" {
				return rerun(ctx, entry)
			}
			settings, err := e.store.Settings(ctx)
			if err != nil {
				return err
			}
			art, err := e.media.GenerateAudio(ctx, settings, entry.Context.Inputs["text"], entry.Context.Inputs["format"])
			if err != nil {
				e.logError(ctx, err, entry.Context)
				return err
			}
			out.Artifact = &art
			return nil
		},
		// A failed image never blocked its run, so only the image is replayed.
		errlog.ActionGenerateImage: func(ctx context.Context, entry errlog.Entry) error {
			settings, err := e.store.Settings(ctx)
			if err != nil {
				return err
			}
			img, err := e.media.GenerateImage(ctx, settings, entry.Context.Inputs["prompt"], entry.Context.Inputs["ratio"])
			if err != nil {
				e.logError(ctx, err, entry.Context)
				return err
			}
			out.Artifact = &img.Artifact
			return nil
		},
	}
}
