package automation

import (
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestNextRunOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleOnce, Date: "2025-01-10", Time: "09:00"},
	}

	got := NextRun(entry, now)
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("NextRun = %v, want overdue %v", got, want)
	}

	entry.LastRun = ptrTime(want.Add(time.Minute))
	if got := NextRun(entry, now); got != nil {
		t.Fatalf("NextRun after firing = %v, want nil", got)
	}
}

func TestNextRunInactive(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, status := range []Status{StatusPaused, StatusCompleted} {
		for _, typ := range []ScheduleType{ScheduleOnce, ScheduleRecurring} {
			entry := Entry{
				Status:   status,
				Schedule: Schedule{Type: typ, Date: "2025-04-01", Time: "09:00", Frequency: FrequencyDaily},
			}
			if got := NextRun(entry, now); got != nil {
				t.Fatalf("status=%s type=%s: NextRun = %v, want nil", status, typ, got)
			}
		}
	}
}

func TestNextRunRecurringAlwaysAfterNow(t *testing.T) {
	starts := []string{"2020-02-29", "2024-01-31", "2025-01-10", "2030-06-15"}
	nows := []time.Time{
		time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 10, 8, 59, 59, 0, time.UTC),
		time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC),
		time.Date(2031, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	lastRuns := []*time.Time{
		nil,
		ptrTime(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)),
		ptrTime(time.Date(2019, 5, 1, 18, 30, 0, 0, time.UTC)),
	}
	for _, freq := range []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly} {
		for _, start := range starts {
			for _, now := range nows {
				for _, lr := range lastRuns {
					entry := Entry{
						Status:   StatusActive,
						Schedule: Schedule{Type: ScheduleRecurring, Date: start, Time: "09:00", Frequency: freq},
						LastRun:  lr,
					}
					got := NextRun(entry, now)
					if got == nil {
						t.Fatalf("freq=%s start=%s now=%s: NextRun = nil", freq, start, now)
					}
					if !got.After(now) {
						t.Fatalf("freq=%s start=%s now=%s: NextRun = %s, not after now", freq, start, now, got)
					}
				}
			}
		}
	}
}

func TestNextRunRecurringFromLastRun(t *testing.T) {
	last := time.Date(2025, 1, 10, 9, 2, 0, 0, time.UTC)
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-01", Time: "09:00", Frequency: FrequencyDaily},
		LastRun:  &last,
	}
	now := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	got := NextRun(entry, now)
	want := time.Date(2025, 1, 11, 9, 2, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunWeeklyCatchUp(t *testing.T) {
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-01", Time: "09:00", Frequency: FrequencyWeekly},
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got := NextRun(entry, now)
	want := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunMonthlyEndOfMonth(t *testing.T) {
	cases := []struct {
		name    string
		start   string
		lastRun time.Time
		now     time.Time
		want    time.Time
	}{
		{
			name:    "jan31_to_feb28",
			start:   "2025-01-31",
			lastRun: time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "leap_year_feb29",
			start:   "2024-01-31",
			lastRun: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
			now:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "clamp_does_not_drift",
			start:   "2025-01-31",
			lastRun: time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "thirty_day_month",
			start:   "2025-01-31",
			lastRun: time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 4, 30, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lr := tc.lastRun
			entry := Entry{
				Status:   StatusActive,
				Schedule: Schedule{Type: ScheduleRecurring, Date: tc.start, Time: "09:00", Frequency: FrequencyMonthly},
				LastRun:  &lr,
			}
			got := NextRun(entry, tc.now)
			if got == nil || !got.Equal(tc.want) {
				t.Fatalf("NextRun = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextRunNeverRunMonthlyFromJan31(t *testing.T) {
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-31", Time: "09:00", Frequency: FrequencyMonthly},
	}
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	got := NextRun(entry, now)
	want := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunUsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleOnce, Date: "2025-01-10", Time: "09:00"},
	}
	got := NextRun(entry, time.Date(2025, 1, 1, 0, 0, 0, 0, loc))
	want := time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunInvalidSchedule(t *testing.T) {
	entry := Entry{
		Status:   StatusActive,
		Schedule: Schedule{Type: ScheduleOnce, Date: "not-a-date", Time: "09:00"},
	}
	if got := NextRun(entry, time.Now()); got != nil {
		t.Fatalf("NextRun = %v, want nil for unparsable schedule", got)
	}
}

func TestNextRunLongOutage(t *testing.T) {
	cases := []struct {
		name string
		freq Frequency
		want time.Time
	}{
		{name: "daily", freq: FrequencyDaily, want: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)},
		{name: "weekly", freq: FrequencyWeekly, want: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
		{name: "monthly", freq: FrequencyMonthly, want: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)},
	}
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := Entry{
				Status:   StatusActive,
				Schedule: Schedule{Type: ScheduleRecurring, Date: "1900-01-01", Time: "09:00", Frequency: tc.freq},
			}
			got := NextRun(entry, now)
			if got == nil || !got.Equal(tc.want) {
				t.Fatalf("NextRun = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDueAt(t *testing.T) {
	last := time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		entry Entry
		want  *time.Time
	}{
		{
			name:  "recurring_never_run",
			entry: Entry{Status: StatusActive, Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-03", Time: "09:00", Frequency: FrequencyWeekly}},
			want:  ptrTime(time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)),
		},
		{
			name:  "recurring_after_run",
			entry: Entry{Status: StatusActive, LastRun: &last, Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-03", Time: "09:00", Frequency: FrequencyWeekly}},
			want:  ptrTime(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)),
		},
		{
			name:  "once_fired",
			entry: Entry{Status: StatusActive, LastRun: &last, Schedule: Schedule{Type: ScheduleOnce, Date: "2025-01-03", Time: "09:00"}},
		},
		{
			name:  "paused",
			entry: Entry{Status: StatusPaused, Schedule: Schedule{Type: ScheduleRecurring, Date: "2025-01-03", Time: "09:00", Frequency: FrequencyDaily}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DueAt(tc.entry, time.UTC)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("DueAt = %v, want nil", got)
			case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
				t.Fatalf("DueAt = %v, want %v", got, *tc.want)
			}
		})
	}
}
