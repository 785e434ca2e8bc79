// Package errlog keeps a bounded record of failed generation calls so the
// most recent one can be inspected and retried.
package errlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"autoblog/internal/docstore"
	"autoblog/internal/llm"
)

const (
	DocumentName = "errors"
	// Capacity bounds the log; the oldest entries are discarded first.
	Capacity = 100
)

var (
	ErrEmpty        = errors.New("error log is empty")
	ErrNotRetryable = errors.New("last error has no retry handler")
)

type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindRateLimit     Kind = "rate_limit"
	KindEmptyResponse Kind = "empty_response"
	KindAPIFailure    Kind = "api_failure"
)

// Retry actions. Inputs recorded with each action are enough to replay it.
const (
	ActionGenerateText  = "generate_text"
	ActionGenerateImage = "generate_image"
	ActionGenerateAudio = "generate_audio"
	ActionRunAutomation = "run_automation"
)

type Context struct {
	Action       string            `json:"action"`
	AutomationID string            `json:"automation_id,omitempty"`
	Inputs       map[string]string `json:"inputs,omitempty"`
}

type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// Classifier maps a failure to a Kind.
type Classifier interface {
	Classify(err error) Kind
}

// HeuristicClassifier trusts structured signals (deadline, HTTP status) before
// falling back to message heuristics.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(err error) Kind {
	switch {
	case err == nil:
		return KindAPIFailure
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	switch llm.StatusCode(err) {
	case 429:
		return KindRateLimit
	case 408, 504:
		return KindTimeout
	}
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return KindEmptyResponse
	case llm.IsLikelyRateLimitError(err):
		return KindRateLimit
	case llm.IsLikelyTimeoutError(err):
		return KindTimeout
	case llm.IsLikelyEmptyResponseError(err):
		return KindEmptyResponse
	default:
		return KindAPIFailure
	}
}

type document struct {
	Entries []Entry `json:"entries"`
}

// RetryFunc replays a logged action.
type RetryFunc func(ctx context.Context, entry Entry) error

type Log struct {
	backend    docstore.Backend
	name       string
	classifier Classifier
	now        func() time.Time
}

type Option func(*Log)

func WithClassifier(c Classifier) Option {
	return func(l *Log) {
		if c != nil {
			l.classifier = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

func New(backend docstore.Backend, opts ...Option) *Log {
	l := &Log{
		backend:    backend,
		name:       DocumentName,
		classifier: HeuristicClassifier{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record classifies err and appends it. A nil err is ignored.
func (l *Log) Record(ctx context.Context, err error, c Context) (Entry, error) {
	if err == nil {
		return Entry{}, nil
	}
	return l.Append(ctx, l.classifier.Classify(err), err.Error(), c)
}

func (l *Log) Append(ctx context.Context, kind Kind, message string, c Context) (Entry, error) {
	if l == nil || l.backend == nil {
		return Entry{}, errors.New("error log is not configured")
	}
	entry := Entry{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Message:   strings.TrimSpace(message),
		Context:   c,
		CreatedAt: l.now().UTC(),
	}
	err := docstore.UpdateJSON(ctx, l.backend, l.name, func(doc *document) error {
		doc.Entries = append(doc.Entries, entry)
		if over := len(doc.Entries) - Capacity; over > 0 {
			doc.Entries = append([]Entry(nil), doc.Entries[over:]...)
		}
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append error entry: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var doc document
	if _, err := docstore.ReadJSON(ctx, l.backend, l.name, &doc); err != nil {
		return nil, err
	}
	n := len(doc.Entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, doc.Entries[i])
	}
	return out, nil
}

func (l *Log) Last(ctx context.Context) (Entry, error) {
	recent, err := l.Recent(ctx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(recent) == 0 {
		return Entry{}, ErrEmpty
	}
	return recent[0], nil
}

func (l *Log) Clear(ctx context.Context) error {
	return docstore.UpdateJSON(ctx, l.backend, l.name, func(doc *document) error {
		doc.Entries = nil
		return nil
	})
}

// RetryLast replays the newest entry through the handler registered for its
// action. A retry failure is reported to the caller; the handler decides
// whether to log it again.
func (l *Log) RetryLast(ctx context.Context, handlers map[string]RetryFunc) (Entry, error) {
	entry, err := l.Last(ctx)
	if err != nil {
		return Entry{}, err
	}
	handler, ok := handlers[entry.Context.Action]
	if !ok || handler == nil {
		return entry, fmt.Errorf("%w: %q", ErrNotRetryable, entry.Context.Action)
	}
	return entry, handler(ctx, entry)
}
