// Package usage accumulates generation volume and cost into daily, monthly
// and all-time buckets.
package usage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"autoblog/internal/docstore"
)

const DocumentName = "usage"

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Counters is one accumulation window.
type Counters struct {
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	Cost        float64 `json:"cost"`
	TextCalls   int64   `json:"text_calls"`
	ImageCalls  int64   `json:"image_calls"`
	AudioCalls  int64   `json:"audio_calls"`
}

type Daily struct {
	Date string `json:"date"`
	Counters
}

type Monthly struct {
	Month string `json:"month"`
	Counters
}

// Metrics is the persisted document. Aggregate never resets.
type Metrics struct {
	Daily     Daily     `json:"daily"`
	Monthly   Monthly   `json:"monthly"`
	Aggregate Counters  `json:"aggregate"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PriceTable prices generation calls. Text is priced per 1K approximate
// tokens, audio per 1K input characters.
type PriceTable struct {
	Currency        string  `json:"currency" yaml:"currency"`
	TextInputPer1K  float64 `json:"text_input_per_1k" yaml:"text_input_per_1k"`
	TextOutputPer1K float64 `json:"text_output_per_1k" yaml:"text_output_per_1k"`
	PerImage        float64 `json:"per_image" yaml:"per_image"`
	AudioPer1KChars float64 `json:"audio_per_1k_chars" yaml:"audio_per_1k_chars"`
}

func DefaultPriceTable() PriceTable {
	return PriceTable{
		Currency:        "USD",
		TextInputPer1K:  0.00015,
		TextOutputPer1K: 0.0006,
		PerImage:        0.04,
		AudioPer1KChars: 0.015,
	}
}

// Event describes one generation call.
type Event struct {
	Kind        Kind
	InputChars  int
	OutputChars int
	Images      int
}

func TextEvent(prompt, output string) Event {
	return Event{Kind: KindText, InputChars: utf8.RuneCountInString(prompt), OutputChars: utf8.RuneCountInString(output)}
}

func ImageEvent(count int) Event {
	return Event{Kind: KindImage, Images: count}
}

func AudioEvent(text string) Event {
	return Event{Kind: KindAudio, InputChars: utf8.RuneCountInString(text)}
}

// Units approximates a token count from a character length: ceil(n/4).
func Units(chars int) int64 {
	if chars <= 0 {
		return 0
	}
	return int64((chars + 3) / 4)
}

// Summary is the read surface.
type Summary struct {
	Metrics
	Prices PriceTable `json:"prices"`
}

type Meter struct {
	backend docstore.Backend
	prices  PriceTable
	loc     *time.Location
	locFn   func(ctx context.Context) *time.Location
	now     func() time.Time
}

type Option func(*Meter)

func WithClock(now func() time.Time) Option {
	return func(m *Meter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLocation sets the timezone in which day and month keys roll over.
func WithLocation(loc *time.Location) Option {
	return func(m *Meter) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithLocationFunc resolves the rollover timezone on every call, so a
// settings change applies without a restart. A nil result falls back to the
// WithLocation value.
func WithLocationFunc(fn func(ctx context.Context) *time.Location) Option {
	return func(m *Meter) { m.locFn = fn }
}

func NewMeter(backend docstore.Backend, prices PriceTable, opts ...Option) *Meter {
	m := &Meter{
		backend: backend,
		prices:  prices,
		loc:     time.Local,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Meter) Prices() PriceTable { return m.prices }

func (m *Meter) location(ctx context.Context) *time.Location {
	if m.locFn != nil {
		if loc := m.locFn(ctx); loc != nil {
			return loc
		}
	}
	return m.loc
}

func (m *Meter) RecordText(ctx context.Context, prompt, output string) error {
	return m.Record(ctx, TextEvent(prompt, output))
}

func (m *Meter) RecordImage(ctx context.Context, count int) error {
	return m.Record(ctx, ImageEvent(count))
}

func (m *Meter) RecordAudio(ctx context.Context, text string) error {
	return m.Record(ctx, AudioEvent(text))
}

// Record rolls stale buckets over and adds every event to all three buckets
// in one write.
func (m *Meter) Record(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	now := m.now()
	loc := m.location(ctx)
	return docstore.UpdateJSON(ctx, m.backend, DocumentName, func(doc *Metrics) error {
		rollover(doc, now.In(loc))
		for _, ev := range events {
			delta, err := m.price(ev)
			if err != nil {
				return err
			}
			doc.Daily.Counters.add(delta)
			doc.Monthly.Counters.add(delta)
			doc.Aggregate.add(delta)
		}
		doc.UpdatedAt = now.UTC()
		return nil
	})
}

// Summary returns the current buckets as of now. Stale daily or monthly
// buckets are reported as zero without rewriting the document.
func (m *Meter) Summary(ctx context.Context) (Summary, error) {
	var doc Metrics
	if _, err := docstore.ReadJSON(ctx, m.backend, DocumentName, &doc); err != nil {
		return Summary{}, err
	}
	rollover(&doc, m.now().In(m.location(ctx)))
	return Summary{Metrics: doc, Prices: m.prices}, nil
}

func rollover(doc *Metrics, now time.Time) {
	day := now.Format(dayLayout)
	month := now.Format(monthLayout)
	if doc.Daily.Date != day {
		doc.Daily = Daily{Date: day}
	}
	if doc.Monthly.Month != month {
		doc.Monthly = Monthly{Month: month}
	}
}

func (m *Meter) price(ev Event) (Counters, error) {
	var c Counters
	switch ev.Kind {
	case KindText:
		c.InputUnits = Units(ev.InputChars)
		c.OutputUnits = Units(ev.OutputChars)
		c.Cost = float64(c.InputUnits)/1000*m.prices.TextInputPer1K + float64(c.OutputUnits)/1000*m.prices.TextOutputPer1K
		c.TextCalls = 1
	case KindImage:
		n := ev.Images
		if n <= 0 {
			n = 1
		}
		c.OutputUnits = int64(n)
		c.Cost = float64(n) * m.prices.PerImage
		c.ImageCalls = int64(n)
	case KindAudio:
		c.InputUnits = Units(ev.InputChars)
		c.Cost = float64(ev.InputChars) / 1000 * m.prices.AudioPer1KChars
		c.AudioCalls = 1
	default:
		return Counters{}, fmt.Errorf("unknown usage kind %q", ev.Kind)
	}
	if c.Cost < 0 {
		c.Cost = 0
	}
	return c, nil
}

func (c *Counters) add(d Counters) {
	c.InputUnits += d.InputUnits
	c.OutputUnits += d.OutputUnits
	c.Cost += d.Cost
	c.TextCalls += d.TextCalls
	c.ImageCalls += d.ImageCalls
	c.AudioCalls += d.AudioCalls
}
