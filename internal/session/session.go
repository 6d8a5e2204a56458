// Package session holds the playback state owned by the interactive menu
// and persists it between runs.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const volumeStep = 5

// State is the part of the session written to disk.
type State struct {
	Station        string `yaml:"station,omitempty"`
	Volume         int    `yaml:"volume"`
	Muted          bool   `yaml:"muted,omitempty"`
	PreviousVolume int    `yaml:"previous_volume,omitempty"`
	Playlist       string `yaml:"playlist,omitempty"`
}

// Session is the mutable playback state. It is not safe for concurrent use;
// the menu loop owns it.
type Session struct {
	State
	DefaultPlaylist string

	path string
}

// New returns a session with defaults that is saved to path. An empty path
// disables persistence.
func New(path, defaultPlaylist string, defaultVolume int) *Session {
	return &Session{
		State: State{
			Volume:   clamp(defaultVolume),
			Playlist: defaultPlaylist,
		},
		DefaultPlaylist: defaultPlaylist,
		path:            path,
	}
}

// Load reads the session stored at path. A missing file yields the defaults.
func Load(path, defaultPlaylist string, defaultVolume int) (*Session, error) {
	s := New(path, defaultPlaylist, defaultVolume)
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}

	s.Station = state.Station
	s.Volume = clamp(state.Volume)
	s.Muted = state.Muted
	s.PreviousVolume = clamp(state.PreviousVolume)
	if state.Playlist != "" {
		s.Playlist = state.Playlist
	}
	return s, nil
}

// Path returns the file the session is saved to.
func (s *Session) Path() string {
	return s.path
}

// Save writes the session atomically.
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// VolumeUp raises the volume by one step and returns the new level. A muted
// session is unmuted first.
func (s *Session) VolumeUp() int {
	s.unmute()
	s.Volume = clamp(s.Volume + volumeStep)
	return s.Volume
}

// VolumeDown lowers the volume by one step and returns the new level.
func (s *Session) VolumeDown() int {
	s.unmute()
	s.Volume = clamp(s.Volume - volumeStep)
	return s.Volume
}

// ToggleMute mutes or restores the previous volume and returns the level to
// apply.
func (s *Session) ToggleMute() int {
	if s.Muted {
		s.unmute()
		return s.Volume
	}
	s.PreviousVolume = s.Volume
	s.Volume = 0
	s.Muted = true
	return s.Volume
}

// IsDefaultPlaylist reports whether name is the protected default playlist.
func (s *Session) IsDefaultPlaylist(name string) bool {
	return name == s.DefaultPlaylist
}

func (s *Session) unmute() {
	if !s.Muted {
		return
	}
	s.Volume = s.PreviousVolume
	s.PreviousVolume = 0
	s.Muted = false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
