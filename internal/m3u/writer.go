package m3u

import (
	"bufio"
	"io"
	"strconv"

	"station-check/internal/models"
)

// Entry is one item of a multi-entry extended M3U playlist.
type Entry struct {
	// Seconds is the entry length, or -1 for live streams and unknown lengths.
	Seconds int
	Title   string
	URI     string
}

// WritePlaylist writes entries as an extended M3U playlist.
func WritePlaylist(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(HeaderMarker + "\n"); err != nil {
		return err
	}
	for _, e := range entries {
		seconds := e.Seconds
		if seconds <= 0 {
			seconds = -1
		}
		if _, err := bw.WriteString(FormatDescription(strconv.Itoa(seconds), e.Title) + "\n"); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.URI + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// StationEntries converts stations into playlist entries.
func StationEntries(stations []models.Station) []Entry {
	entries := make([]Entry, 0, len(stations))
	for _, st := range stations {
		entries = append(entries, Entry{Seconds: -1, Title: st.Label, URI: st.StreamURL})
	}
	return entries
}
