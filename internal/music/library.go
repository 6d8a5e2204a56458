// Package music reads the local music directory used to build MPD playlists.
package music

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"station-check/internal/m3u"
	"station-check/internal/models"
)

// DefaultExtensions are the music file types picked up by Scan.
var DefaultExtensions = []string{".m4a", ".mp3", ".flac", ".ogg"}

// Library is a snapshot of the music directory.
type Library struct {
	Root   string
	Tracks []models.Track
}

// Scan walks root and reads every file with an allowed extension. Unreadable
// files are logged and left out.
func Scan(root string, allowed []string, logger *log.Logger) (*Library, error) {
	if logger == nil {
		logger = log.Default()
	}

	exts := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	var tracks []models.Track
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Printf("walk error for %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		track, err := BuildTrack(path, root)
		if err != nil {
			logger.Printf("metadata error for %s: %v", path, err)
			return nil
		}
		tracks = append(tracks, track)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].RelativePath < tracks[j].RelativePath
	})

	logger.Printf("music library scanned with %d tracks", len(tracks))
	return &Library{Root: root, Tracks: tracks}, nil
}

// URI returns the file:// URI MPD uses to add a track.
func (l *Library) URI(t models.Track) string {
	return fileURI(filepath.Join(l.Root, filepath.FromSlash(t.RelativePath)))
}

// FileURI resolves name below root and returns its file:// URI. The file
// must exist.
func FileURI(root, name string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(name))
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return fileURI(abs), nil
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// ListTracks returns a copy of the scanned tracks.
func (l *Library) ListTracks() []models.Track {
	result := make([]models.Track, len(l.Tracks))
	copy(result, l.Tracks)
	return result
}

// Find returns the first track whose file name or relative path equals name.
func (l *Library) Find(name string) (models.Track, bool) {
	for _, t := range l.Tracks {
		if t.Filename == name || t.RelativePath == name {
			return t, true
		}
	}
	return models.Track{}, false
}

// Entries converts the library into playlist entries.
func (l *Library) Entries() []m3u.Entry {
	entries := make([]m3u.Entry, 0, len(l.Tracks))
	for _, t := range l.Tracks {
		seconds := -1
		if t.DurationSeconds != nil {
			seconds = int(math.Round(*t.DurationSeconds))
		}
		entries = append(entries, m3u.Entry{Seconds: seconds, Title: DisplayTitle(t), URI: l.URI(t)})
	}
	return entries
}

// WritePlaylist writes the whole library as an extended M3U playlist.
func (l *Library) WritePlaylist(w io.Writer) error {
	return m3u.WritePlaylist(w, l.Entries())
}
