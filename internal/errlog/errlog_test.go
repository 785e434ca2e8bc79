package errlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"autoblog/internal/docstore"
	"autoblog/internal/llm"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	backend, err := docstore.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	return New(backend)
}

func TestAppendCapsAtCapacity(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	for i := 0; i < Capacity+5; i++ {
		if _, err := log.Append(ctx, KindAPIFailure, fmt.Sprintf("failure %d", i), Context{Action: ActionGenerateText}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	all, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != Capacity {
		t.Fatalf("len = %d, want %d", len(all), Capacity)
	}
	if all[0].Message != fmt.Sprintf("failure %d", Capacity+4) {
		t.Fatalf("newest = %q", all[0].Message)
	}
	if all[len(all)-1].Message != "failure 5" {
		t.Fatalf("oldest = %q", all[len(all)-1].Message)
	}
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	for i := 0; i < 3; i++ {
		_, _ = log.Append(ctx, KindTimeout, fmt.Sprintf("m%d", i), Context{})
	}
	got, err := log.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Message != "m2" || got[1].Message != "m1" {
		t.Fatalf("Recent(2) = %+v", got)
	}
}

func TestRetryLastEmpty(t *testing.T) {
	log := newTestLog(t)
	if _, err := log.RetryLast(context.Background(), nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestRetryLastDispatchesNewest(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	_, _ = log.Append(ctx, KindTimeout, "old", Context{Action: ActionGenerateText})
	_, _ = log.Append(ctx, KindRateLimit, "new", Context{Action: ActionGenerateImage, Inputs: map[string]string{"prompt": "cat"}})

	var got Entry
	handlers := map[string]RetryFunc{
		ActionGenerateImage: func(_ context.Context, e Entry) error {
			got = e
			return nil
		},
	}
	if _, err := log.RetryLast(ctx, handlers); err != nil {
		t.Fatalf("RetryLast: %v", err)
	}
	if got.Message != "new" || got.Context.Inputs["prompt"] != "cat" {
		t.Fatalf("handler saw %+v", got)
	}
}

func TestRetryLastUnknownAction(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	_, _ = log.Append(ctx, KindAPIFailure, "boom", Context{Action: "publish"})
	if _, err := log.RetryLast(ctx, map[string]RetryFunc{}); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("err = %v, want ErrNotRetryable", err)
	}
}

func TestRecordClassifies(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	backend, _ := docstore.NewFileBackend(t.TempDir())
	log := New(backend, WithClock(func() time.Time { return fixed }))

	entry, err := log.Record(ctx, fmt.Errorf("image: %w", context.DeadlineExceeded), Context{Action: ActionGenerateImage})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.Kind != KindTimeout || !entry.CreatedAt.Equal(fixed) || entry.ID == "" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry, _ := log.Record(ctx, nil, Context{}); entry.ID != "" {
		t.Fatalf("nil error recorded: %+v", entry)
	}
	all, _ := log.Recent(ctx, 0)
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
}

func TestHeuristicClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"status_429", &llm.APIError{Provider: "openai", StatusCode: 429}, KindRateLimit},
		{"status_504", &llm.APIError{Provider: "openai", StatusCode: 504}, KindTimeout},
		{"status_beats_text", &llm.APIError{Provider: "openai", StatusCode: 429, Message: "request timed out"}, KindRateLimit},
		{"empty_sentinel", fmt.Errorf("text: %w", llm.ErrEmptyResponse), KindEmptyResponse},
		{"quota_text", errors.New("You exceeded your current quota"), KindRateLimit},
		{"timeout_text", errors.New("request timed out after 90s"), KindTimeout},
		{"empty_text", errors.New("model returned empty content"), KindEmptyResponse},
		{"other", &llm.APIError{Provider: "openai", StatusCode: 401, Message: "invalid key"}, KindAPIFailure},
	}
	var c HeuristicClassifier
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
