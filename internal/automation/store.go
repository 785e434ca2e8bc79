package automation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"autoblog/internal/docstore"
)

var (
	ErrNotFound = errors.New("automation not found")
	ErrInvalid  = errors.New("invalid automation")
)

// NewID generates a ULID-based automation identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Store owns the automation document. Every mutation is a full
// read-modify-write of the collection under the backend's document lock.
type Store struct {
	backend docstore.Backend
	name    string
	now     func() time.Time
}

type StoreOption func(*Store)

// WithClock overrides the wall clock used for timestamps and next_run.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(backend docstore.Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		name:    DocumentName,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the normalized document with next_run recomputed and the
// automations sorted by schedule order. Records stored without an id or
// created_at are repaired and persisted once so the assigned values stay put.
func (s *Store) Load(ctx context.Context) (Document, error) {
	var doc Document
	if _, err := docstore.ReadJSON(ctx, s.backend, s.name, &doc); err != nil {
		return Document{}, err
	}
	if needsRepair(doc) {
		return s.mutate(ctx, func(*Document, time.Time) error { return nil })
	}
	normalizeDocument(&doc, s.now())
	return doc, nil
}

func needsRepair(doc Document) bool {
	for _, e := range doc.Automations {
		if strings.TrimSpace(e.ID) == "" || e.CreatedAt.IsZero() {
			return true
		}
	}
	return false
}

func (s *Store) List(ctx context.Context) ([]Entry, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Automations, nil
}

func (s *Store) Find(ctx context.Context, id string) (Entry, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return Entry{}, err
	}
	if i := indexOf(doc.Automations, id); i >= 0 {
		return doc.Automations[i], nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(id))
}

// Settings returns the settings envelope with defaults applied.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return doc.Settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings Settings) (Settings, error) {
	if _, err := LoadLocation(settings.Timezone); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	doc, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		doc.Settings = settings
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return doc.Settings, nil
}

// Upsert inserts or replaces entries by id. Entries without an id get one.
// The stored created_at of a replaced entry is preserved.
func (s *Store) Upsert(ctx context.Context, entries ...Entry) ([]Entry, error) {
	ids := make([]string, 0, len(entries))
	doc, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		for _, in := range entries {
			e := in
			e.ID = strings.TrimSpace(e.ID)
			if e.ID == "" {
				e.ID = NewID()
			}
			e.UpdatedAt = now
			if i := indexOf(doc.Automations, e.ID); i >= 0 {
				if !doc.Automations[i].CreatedAt.IsZero() {
					e.CreatedAt = doc.Automations[i].CreatedAt
				}
				doc.Automations[i] = e
			} else {
				if e.CreatedAt.IsZero() {
					e.CreatedAt = now
				}
				doc.Automations = append(doc.Automations, e)
			}
			ids = append(ids, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if i := indexOf(doc.Automations, id); i >= 0 {
			out = append(out, doc.Automations[i])
		}
	}
	return out, nil
}

// Create validates operator input and stores it as a new automation.
func (s *Store) Create(ctx context.Context, e Entry) (Entry, error) {
	if err := Validate(e); err != nil {
		return Entry{}, err
	}
	e.ID = ""
	e.LastRun = nil
	e.NextRun = nil
	e.BlogReference = nil
	e.CreatedAt = time.Time{}
	if strings.TrimSpace(string(e.Status)) == "" {
		e.Status = StatusActive
	}
	out, err := s.Upsert(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	return out[0], nil
}

// Patch is an operator edit. Nil fields are left unchanged.
type Patch struct {
	Title    *string   `json:"title,omitempty"`
	Topic    *string   `json:"topic,omitempty"`
	Festival *string   `json:"festival,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty"`
	// ClearLastRun forgets run history, which re-arms a completed one-shot
	// when combined with an active status.
	ClearLastRun bool `json:"clear_last_run,omitempty"`
}

func (s *Store) Update(ctx context.Context, id string, p Patch) (Entry, error) {
	want := strings.TrimSpace(id)
	var out Entry
	_, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		i := indexOf(doc.Automations, want)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, want)
		}
		e := doc.Automations[i]
		if p.Title != nil {
			e.Title = *p.Title
		}
		if p.Topic != nil {
			e.Topic = *p.Topic
		}
		if p.Festival != nil {
			e.Festival = *p.Festival
		}
		if p.Status != nil {
			e.Status = *p.Status
		}
		if p.Schedule != nil {
			e.Schedule = *p.Schedule
		}
		if p.ClearLastRun {
			e.LastRun = nil
		}
		if err := Validate(e); err != nil {
			return err
		}
		e.UpdatedAt = now
		doc.Automations[i] = e
		out = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return s.Find(ctx, out.ID)
}

func (s *Store) SetStatus(ctx context.Context, id string, status Status) (Entry, error) {
	if !status.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return s.mutateEntry(ctx, id, func(e *Entry, now time.Time) {
		e.Status = status
		e.UpdatedAt = now
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	want := strings.TrimSpace(id)
	_, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		i := indexOf(doc.Automations, want)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, want)
		}
		doc.Automations = append(doc.Automations[:i], doc.Automations[i+1:]...)
		return nil
	})
	return err
}

// RecordRun stamps a successful execution. One-shot entries become completed.
func (s *Store) RecordRun(ctx context.Context, id string, info RunInfo) (Entry, error) {
	return s.mutateEntry(ctx, id, func(e *Entry, now time.Time) {
		at := info.At
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		e.LastRun = &at
		if e.Schedule.Type == ScheduleOnce {
			e.Status = StatusCompleted
		}
		if info.Blog != nil {
			ref := *info.Blog
			e.BlogReference = &ref
		}
		e.UpdatedAt = now
	})
}

// Due returns active entries with a pending fire time at or before now,
// including recurring entries whose missed occurrence has not run yet.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Entry, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	loc := doc.Settings.Location()
	var due []Entry
	for _, e := range doc.Automations {
		if at := DueAt(e, loc); at != nil && !at.After(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (s *Store) mutateEntry(ctx context.Context, id string, fn func(e *Entry, now time.Time)) (Entry, error) {
	want := strings.TrimSpace(id)
	doc, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		i := indexOf(doc.Automations, want)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, want)
		}
		fn(&doc.Automations[i], now)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if i := indexOf(doc.Automations, want); i >= 0 {
		return doc.Automations[i], nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, want)
}

func (s *Store) mutate(ctx context.Context, fn func(doc *Document, now time.Time) error) (Document, error) {
	var out Document
	err := docstore.UpdateJSON(ctx, s.backend, s.name, func(doc *Document) error {
		now := s.now()
		normalizeDocument(doc, now)
		if err := fn(doc, now); err != nil {
			return err
		}
		normalizeDocument(doc, now)
		out = *doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func indexOf(entries []Entry, id string) int {
	want := strings.TrimSpace(id)
	if want == "" {
		return -1
	}
	for i := range entries {
		if entries[i].ID == want {
			return i
		}
	}
	return -1
}

func normalizeDocument(doc *Document, now time.Time) {
	doc.Version = DocumentVersion
	doc.Settings = doc.Settings.WithDefaults()
	loc := doc.Settings.Location()
	for i := range doc.Automations {
		doc.Automations[i] = normalizeEntry(doc.Automations[i], now, loc)
	}
	sortBySchedule(doc.Automations)
}

// normalizeEntry coerces missing or invalid fields to safe defaults so one
// damaged record never blocks the whole list.
func normalizeEntry(e Entry, now time.Time, loc *time.Location) Entry {
	out := e
	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = NewID()
	}
	out.Topic = strings.TrimSpace(out.Topic)
	out.Title = strings.TrimSpace(out.Title)
	if out.Title == "" {
		out.Title = defaultTitle(out.Topic)
	}
	out.Festival = strings.TrimSpace(out.Festival)

	out.Status = Status(strings.ToLower(strings.TrimSpace(string(out.Status))))
	if !out.Status.Valid() {
		out.Status = StatusActive
	}

	out.Schedule.Frequency = Frequency(strings.ToLower(strings.TrimSpace(string(out.Schedule.Frequency))))
	if !out.Schedule.Frequency.Valid() {
		out.Schedule.Frequency = DefaultFrequency
	}
	out.Schedule.Type = ScheduleType(strings.ToLower(strings.TrimSpace(string(out.Schedule.Type))))
	if out.Schedule.Type != ScheduleOnce && out.Schedule.Type != ScheduleRecurring {
		out.Schedule.Type = ScheduleOnce
	}
	if validClock(out.Schedule.Time) {
		t, _ := time.Parse(clockLayout, strings.TrimSpace(out.Schedule.Time))
		out.Schedule.Time = t.Format(clockLayout)
	} else {
		out.Schedule.Time = DefaultTime
	}

	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	out.UpdatedAt = out.UpdatedAt.UTC()

	if validDate(out.Schedule.Date) {
		out.Schedule.Date = strings.TrimSpace(out.Schedule.Date)
	} else {
		out.Schedule.Date = out.CreatedAt.In(loc).Format(dateLayout)
	}

	if out.LastRun != nil {
		if out.LastRun.IsZero() {
			out.LastRun = nil
		} else {
			lr := out.LastRun.UTC()
			out.LastRun = &lr
		}
	}

	out.NextRun = nil
	if next := NextRun(out, now.In(loc)); next != nil {
		n := next.UTC()
		out.NextRun = &n
	}
	return out
}

func defaultTitle(topic string) string {
	t := strings.TrimSpace(topic)
	if t == "" {
		return "Untitled automation"
	}
	const max = 60
	r := []rune(t)
	if len(r) > max {
		return strings.TrimSpace(string(r[:max])) + "…"
	}
	return t
}

// sortBySchedule orders by ascending next_run with nulls last.
func sortBySchedule(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].NextRun, entries[j].NextRun
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// Validate checks the operator-facing fields an automation needs before it is
// stored. Stored records are coerced, not rejected; this is for new input.
func Validate(e Entry) error {
	if strings.TrimSpace(e.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalid)
	}
	switch ScheduleType(strings.ToLower(strings.TrimSpace(string(e.Schedule.Type)))) {
	case ScheduleOnce:
	case ScheduleRecurring:
		if f := Frequency(strings.ToLower(strings.TrimSpace(string(e.Schedule.Frequency)))); f != "" && !f.Valid() {
			return fmt.Errorf("%w: unknown frequency %q", ErrInvalid, e.Schedule.Frequency)
		}
	default:
		return fmt.Errorf("%w: schedule.type must be once or recurring", ErrInvalid)
	}
	if !validDate(e.Schedule.Date) {
		return fmt.Errorf("%w: schedule.date must be YYYY-MM-DD", ErrInvalid)
	}
	if strings.TrimSpace(e.Schedule.Time) != "" && !validClock(e.Schedule.Time) {
		return fmt.Errorf("%w: schedule.time must be HH:MM", ErrInvalid)
	}
	if s := Status(strings.ToLower(strings.TrimSpace(string(e.Status)))); s != "" && !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, e.Status)
	}
	return nil
}
