package automation

import "time"

const DocumentVersion = 1

// DocumentName is the docstore name holding automations and settings.
const DocumentName = "automations"

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Document is the persisted shape: the settings envelope plus every entry.
type Document struct {
	Version     int      `json:"version"`
	Settings    Settings `json:"settings"`
	Automations []Entry  `json:"automations"`
}

type Entry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Topic    string   `json:"topic"`
	Status   Status   `json:"status"`
	Schedule Schedule `json:"schedule"`
	Festival string   `json:"festival,omitempty"`

	LastRun *time.Time `json:"last_run"`
	// NextRun is derived on every load and never trusted from disk.
	NextRun *time.Time `json:"next_run"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BlogReference *BlogReference `json:"blog_reference,omitempty"`
}

type Schedule struct {
	Type      ScheduleType `json:"type"`      // once|recurring
	Date      string       `json:"date"`      // 2006-01-02
	Time      string       `json:"time"`      // 15:04
	Frequency Frequency    `json:"frequency"` // recurring only
}

// BlogReference points at the article produced by the latest successful run.
type BlogReference struct {
	DraftID     string    `json:"draft_id,omitempty"`
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// RunInfo is what a successful run reports back to the store.
type RunInfo struct {
	At   time.Time
	Blog *BlogReference
}

// Settings is the envelope stored next to the automations. It is loaded per
// run and handed down explicitly.
type Settings struct {
	Timezone string `json:"timezone,omitempty"`

	TextModel    string  `json:"text_model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	ImageModel   string  `json:"image_model,omitempty"`
	ImageRatio   string  `json:"image_ratio,omitempty"`
	ImageQuality string  `json:"image_quality,omitempty"`
	AudioModel   string  `json:"audio_model,omitempty"`
	AudioVoice   string  `json:"audio_voice,omitempty"`
	AudioFormat  string  `json:"audio_format,omitempty"`

	Language string   `json:"language,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		Timezone:     "Local",
		TextModel:    "gpt-4o-mini",
		Temperature:  0.7,
		ImageModel:   "dall-e-3",
		ImageRatio:   "16:9",
		ImageQuality: "standard",
		AudioModel:   "tts-1",
		AudioVoice:   "alloy",
		AudioFormat:  "mp3",
		Language:     "English",
		Category:     "Blog",
	}
}

// WithDefaults fills every empty field from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	out := s
	def := DefaultSettings()
	if out.Timezone == "" {
		out.Timezone = def.Timezone
	}
	if out.TextModel == "" {
		out.TextModel = def.TextModel
	}
	if out.Temperature <= 0 {
		out.Temperature = def.Temperature
	}
	if out.ImageModel == "" {
		out.ImageModel = def.ImageModel
	}
	if out.ImageRatio == "" {
		out.ImageRatio = def.ImageRatio
	}
	if out.ImageQuality == "" {
		out.ImageQuality = def.ImageQuality
	}
	if out.AudioModel == "" {
		out.AudioModel = def.AudioModel
	}
	if out.AudioVoice == "" {
		out.AudioVoice = def.AudioVoice
	}
	if out.AudioFormat == "" {
		out.AudioFormat = def.AudioFormat
	}
	if out.Language == "" {
		out.Language = def.Language
	}
	if out.Category == "" {
		out.Category = def.Category
	}
	return out
}

// Location resolves the configured timezone, falling back to time.Local.
func (s Settings) Location() *time.Location {
	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
