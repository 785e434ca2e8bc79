package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoblog/internal/docstore"
)

const (
	RunLogDocument = "runs"
	RunLogCapacity = 200
)

type RunStatus string

const (
	RunSucceeded RunStatus = "ok"
	RunFailed    RunStatus = "error"
)

type RunRecord struct {
	ID            string    `json:"id"`
	AutomationID  string    `json:"automation_id"`
	Title         string    `json:"title"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Status        RunStatus `json:"status"`
	Stage         Stage     `json:"stage,omitempty"`
	Slug          string    `json:"slug,omitempty"`
	URL           string    `json:"url,omitempty"`
	Images        []string  `json:"images,omitempty"`
	ImageFailures int       `json:"image_failures,omitempty"`
	Audio         string    `json:"audio,omitempty"`
	UsedFallback  bool      `json:"used_fallback,omitempty"`
	Error         string    `json:"error,omitempty"`
}

type runLogDoc struct {
	Runs []RunRecord `json:"runs"`
}

// RunLog is the bounded history of executions, oldest dropped first.
type RunLog struct {
	backend docstore.Backend
}

func NewRunLog(backend docstore.Backend) *RunLog {
	return &RunLog{backend: backend}
}

func (l *RunLog) Append(ctx context.Context, rec RunRecord) error {
	if l == nil {
		return nil
	}
	err := docstore.UpdateJSON(ctx, l.backend, RunLogDocument, func(doc *runLogDoc) error {
		doc.Runs = append(doc.Runs, rec)
		if over := len(doc.Runs) - RunLogCapacity; over > 0 {
			doc.Runs = append([]RunRecord(nil), doc.Runs[over:]...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}

// List returns runs newest first, optionally restricted to one automation.
// limit <= 0 means no limit.
func (l *RunLog) List(ctx context.Context, automationID string, limit int) ([]RunRecord, error) {
	if l == nil {
		return nil, nil
	}
	var doc runLogDoc
	if _, err := docstore.ReadJSON(ctx, l.backend, RunLogDocument, &doc); err != nil {
		return nil, err
	}
	automationID = strings.TrimSpace(automationID)
	out := make([]RunRecord, 0)
	for i := len(doc.Runs) - 1; i >= 0; i-- {
		if automationID != "" && doc.Runs[i].AutomationID != automationID {
			continue
		}
		out = append(out, doc.Runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
