package music

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"station-check/internal/models"
)

// tagInfo is the subset of embedded tags a playlist entry needs.
type tagInfo struct {
	title  string
	artist string
	album  string
}

// BuildTrack reads the metadata of the music file at path. The track ID is the
// slash separated path relative to root. Files without usable tags fall back
// to their file name; only MP3 files get a duration.
func BuildTrack(path string, root string) (models.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Track{}, err
	}
	defer f.Close()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	track := models.Track{
		ID:           rel,
		Filename:     filepath.Base(path),
		RelativePath: rel,
	}

	info := readTags(f)
	track.Title = info.title
	if track.Title == "" {
		track.Title = strings.TrimSuffix(track.Filename, filepath.Ext(track.Filename))
	}
	track.Artist = optionalString(info.artist)
	track.Album = optionalString(info.album)

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if d, err := mp3Duration(f); err == nil && d > 0 {
				seconds := d.Seconds()
				track.DurationSeconds = &seconds
			}
		}
	}
	return track, nil
}

// DisplayTitle is the "artist - title" label used in playlists.
func DisplayTitle(t models.Track) string {
	if t.Artist != nil && *t.Artist != "" {
		return *t.Artist + " - " + t.Title
	}
	return t.Title
}

func readTags(r io.ReadSeeker) tagInfo {
	meta, err := tag.ReadFrom(r)
	if err != nil {
		return tagInfo{}
	}
	return tagInfo{
		title:  strings.TrimSpace(meta.Title()),
		artist: meta.Artist(),
		album:  meta.Album(),
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// mp3Duration sums the frame durations of an MPEG audio stream.
func mp3Duration(r io.Reader) (time.Duration, error) {
	dec := mp3.NewDecoder(r)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return 0, err
		}
		total += frame.Duration()
	}
}
