// Package poller is the optional background trigger: on a cron spec it runs
// every automation whose next run is due. It sits on top of the store and
// executor and owns no schedule state of its own.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"autoblog/internal/automation"
	"autoblog/internal/runner"
)

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type DueLister interface {
	Due(ctx context.Context, now time.Time) ([]automation.Entry, error)
}

type Runner interface {
	RunNow(ctx context.Context, id string) (runner.Result, error)
}

// TickReport summarizes one pass.
type TickReport struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
}

type Poller struct {
	due    DueLister
	runner Runner
	spec   string
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(due DueLister, r Runner, spec string, logger zerolog.Logger) (*Poller, error) {
	if _, err := specParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse poller spec %q: %w", spec, err)
	}
	return &Poller{
		due:    due,
		runner: r,
		spec:   spec,
		logger: logger.With().Str("component", "poller").Logger(),
		now:    time.Now,
	}, nil
}

// Start schedules ticks until ctx is done or Stop is called. Overlapping
// ticks are skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("poller already started")
	}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(p.spec, func() { p.Tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	p.cron = c
	p.logger.Info().Str("spec", p.spec).Msg("poller started")
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info().Msg("poller stopped")
}

// Tick runs due automations one at a time. Failures are logged and never
// stop the pass.
func (p *Poller) Tick(ctx context.Context) TickReport {
	var report TickReport
	due, err := p.due.Due(ctx, p.now())
	if err != nil {
		p.logger.Error().Err(err).Msg("list due automations")
		return report
	}
	report.Due = len(due)
	for _, entry := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := p.runner.RunNow(ctx, entry.ID)
		switch {
		case err == nil:
			report.Succeeded++
		case errors.Is(err, runner.ErrRunInProgress), errors.Is(err, runner.ErrAlreadyCompleted):
			report.Skipped++
			p.logger.Debug().Err(err).Str("automation_id", entry.ID).Msg("skipped")
		default:
			report.Failed++
			p.logger.Error().Err(err).Str("automation_id", entry.ID).Msg("scheduled run failed")
		}
	}
	if report.Due > 0 {
		p.logger.Info().Int("due", report.Due).Int("ok", report.Succeeded).Int("failed", report.Failed).Int("skipped", report.Skipped).Msg("tick")
	}
	return report
}
