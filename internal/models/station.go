package models

import "time"

// Station represents a single radio station described by a playlist file.
type Station struct {
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	Verdict    Verdict   `json:"verdict"`
	Duration   string    `json:"duration,omitempty"`
	Label      string    `json:"label"`
	StreamURL  string    `json:"stream_url,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Playable reports whether the station has been confirmed to work.
func (s Station) Playable() bool {
	return s.StreamURL != "" && (s.Verdict == VerdictGood || s.Verdict == VerdictUse)
}

// Track represents the metadata exposed for a single local music file.
type Track struct {
	ID              string   `json:"id"`
	Filename        string   `json:"filename"`
	RelativePath    string   `json:"relative_path"`
	Title           string   `json:"title"`
	Artist          *string  `json:"artist,omitempty"`
	Album           *string  `json:"album,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}
