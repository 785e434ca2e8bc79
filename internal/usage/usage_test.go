package usage

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"autoblog/internal/docstore"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestMeter(t *testing.T, c *clock) *Meter {
	t.Helper()
	backend, err := docstore.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	prices := PriceTable{TextInputPer1K: 1, TextOutputPer1K: 2, PerImage: 0.5, AudioPer1KChars: 10}
	return NewMeter(backend, prices, WithClock(c.now), WithLocation(time.UTC))
}

func TestUnits(t *testing.T) {
	cases := map[int]int64{0: 0, 1: 1, 4: 1, 5: 2, 8: 2, 9: 3, 4000: 1000}
	for chars, want := range cases {
		if got := Units(chars); got != want {
			t.Fatalf("Units(%d) = %d, want %d", chars, got, want)
		}
	}
}

func TestRecordTextAddsToAllBuckets(t *testing.T) {
	c := &clock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
	m := newTestMeter(t, c)
	ctx := context.Background()

	if err := m.RecordText(ctx, strings.Repeat("a", 4000), strings.Repeat("b", 2000)); err != nil {
		t.Fatalf("RecordText: %v", err)
	}
	s, err := m.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	for name, got := range map[string]Counters{"daily": s.Daily.Counters, "monthly": s.Monthly.Counters, "aggregate": s.Aggregate} {
		if got.InputUnits != 1000 || got.OutputUnits != 500 || got.TextCalls != 1 {
			t.Fatalf("%s = %#v", name, got)
		}
		if math.Abs(got.Cost-2.0) > 1e-9 {
			t.Fatalf("%s cost = %v, want 2", name, got.Cost)
		}
	}
	if s.Daily.Date != "2025-01-10" || s.Monthly.Month != "2025-01" {
		t.Fatalf("bucket keys = %q %q", s.Daily.Date, s.Monthly.Month)
	}
}

func TestRolloverResetsBeforeIncrement(t *testing.T) {
	c := &clock{t: time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)}
	m := newTestMeter(t, c)
	ctx := context.Background()

	if err := m.RecordImage(ctx, 2); err != nil {
		t.Fatalf("RecordImage: %v", err)
	}

	c.t = time.Date(2025, 2, 1, 0, 30, 0, 0, time.UTC)
	s, err := m.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Daily.ImageCalls != 0 || s.Monthly.ImageCalls != 0 {
		t.Fatalf("stale buckets should read as zero: %#v %#v", s.Daily, s.Monthly)
	}
	if s.Aggregate.ImageCalls != 2 {
		t.Fatalf("aggregate image calls = %d, want 2", s.Aggregate.ImageCalls)
	}

	if err := m.RecordImage(ctx, 1); err != nil {
		t.Fatalf("RecordImage: %v", err)
	}
	s, err = m.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Daily.Date != "2025-02-01" || s.Daily.ImageCalls != 1 {
		t.Fatalf("daily after rollover = %#v", s.Daily)
	}
	if s.Monthly.Month != "2025-02" || s.Monthly.ImageCalls != 1 {
		t.Fatalf("monthly after rollover = %#v", s.Monthly)
	}
	if s.Aggregate.ImageCalls != 3 || math.Abs(s.Aggregate.Cost-1.5) > 1e-9 {
		t.Fatalf("aggregate = %#v", s.Aggregate)
	}
}

func TestDailyRolloverKeepsMonth(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)}
	m := newTestMeter(t, c)
	ctx := context.Background()
	if err := m.RecordAudio(ctx, strings.Repeat("x", 1000)); err != nil {
		t.Fatalf("RecordAudio: %v", err)
	}
	c.t = c.t.Add(24 * time.Hour)
	if err := m.RecordAudio(ctx, strings.Repeat("x", 1000)); err != nil {
		t.Fatalf("RecordAudio: %v", err)
	}
	s, err := m.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Daily.AudioCalls != 1 || s.Monthly.AudioCalls != 2 || s.Aggregate.AudioCalls != 2 {
		t.Fatalf("daily=%d monthly=%d aggregate=%d", s.Daily.AudioCalls, s.Monthly.AudioCalls, s.Aggregate.AudioCalls)
	}
	if math.Abs(s.Monthly.Cost-20) > 1e-9 {
		t.Fatalf("monthly cost = %v, want 20", s.Monthly.Cost)
	}
}

func TestAggregateNeverDecreases(t *testing.T) {
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestMeter(t, c)
	ctx := context.Background()

	var prev Counters
	for i := 0; i < 40; i++ {
		c.t = c.t.Add(time.Duration(i%3) * 20 * time.Hour)
		var err error
		switch i % 3 {
		case 0:
			err = m.RecordText(ctx, "prompt", "output text")
		case 1:
			err = m.RecordImage(ctx, 0)
		default:
			err = m.Record(ctx, AudioEvent("hello"), TextEvent("", ""))
		}
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		s, err := m.Summary(ctx)
		if err != nil {
			t.Fatalf("Summary: %v", err)
		}
		a := s.Aggregate
		if a.Cost < prev.Cost || a.InputUnits < prev.InputUnits || a.OutputUnits < prev.OutputUnits {
			t.Fatalf("aggregate decreased at %d: %#v -> %#v", i, prev, a)
		}
		prev = a
	}
}

func TestRecordUnknownKind(t *testing.T) {
	c := &clock{t: time.Now()}
	m := newTestMeter(t, c)
	if err := m.Record(context.Background(), Event{Kind: "video"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLocationFuncFollowsChanges(t *testing.T) {
	backend, err := docstore.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	// 2025-01-10 23:30 UTC is already 2025-01-11 in Tokyo.
	c := &clock{t: time.Date(2025, 1, 10, 23, 30, 0, 0, time.UTC)}
	loc := time.UTC
	m := NewMeter(backend, DefaultPriceTable(), WithClock(c.now), WithLocationFunc(func(context.Context) *time.Location { return loc }))
	ctx := context.Background()

	if err := m.RecordImage(ctx, 1); err != nil {
		t.Fatalf("RecordImage: %v", err)
	}
	s, _ := m.Summary(ctx)
	if s.Daily.Date != "2025-01-10" {
		t.Fatalf("daily key = %q, want 2025-01-10", s.Daily.Date)
	}

	loc = time.FixedZone("JST", 9*60*60)
	if err := m.RecordImage(ctx, 1); err != nil {
		t.Fatalf("RecordImage: %v", err)
	}
	s, _ = m.Summary(ctx)
	if s.Daily.Date != "2025-01-11" || s.Daily.ImageCalls != 1 {
		t.Fatalf("daily = %+v, want a fresh 2025-01-11 bucket", s.Daily)
	}
	if s.Aggregate.ImageCalls != 2 {
		t.Fatalf("aggregate image calls = %d, want 2", s.Aggregate.ImageCalls)
	}
}
