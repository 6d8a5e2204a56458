package m3u

import (
	"strings"

	"station-check/internal/models"
)

const (
	// HeaderMarker opens every station file.
	HeaderMarker = "#EXTM3U"
	// DescriptionMarker prefixes the duration and label of an entry.
	DescriptionMarker = "#EXTINF:"

	commentPrefix = "#"
	verdictSep    = ":"
	utf8BOM       = "\ufeff"
)

// LineKind classifies a trimmed line of a station file.
type LineKind int

const (
	LineBlank LineKind = iota
	LineHeader
	LineCheckedHeader
	LineDescription
	LineComment
	LineContent
)

func (k LineKind) String() string {
	switch k {
	case LineBlank:
		return "blank"
	case LineHeader:
		return "header"
	case LineCheckedHeader:
		return "checked header"
	case LineDescription:
		return "description"
	case LineComment:
		return "comment"
	case LineContent:
		return "content"
	}
	return "unknown"
}

// Classify returns the kind of a line that has already been trimmed.
func Classify(line string) LineKind {
	switch {
	case line == "":
		return LineBlank
	case strings.HasPrefix(line, HeaderMarker+verdictSep):
		return LineCheckedHeader
	case strings.HasPrefix(line, HeaderMarker):
		return LineHeader
	case strings.HasPrefix(line, DescriptionMarker):
		return LineDescription
	case strings.HasPrefix(line, commentPrefix):
		return LineComment
	}
	return LineContent
}

// ParseHeader splits a header line into the bare marker line and its verdict.
// The second result reports whether the header carried a verdict suffix at
// all, including an empty one.
func ParseHeader(line string) (string, models.Verdict, bool) {
	if !strings.HasPrefix(line, HeaderMarker+verdictSep) {
		return line, models.VerdictUnset, false
	}
	verdict, _ := models.ParseVerdict(line[len(HeaderMarker)+len(verdictSep):])
	return HeaderMarker, verdict, true
}

// FormatHeader appends a verdict to a bare header line.
func FormatHeader(header string, verdict models.Verdict) string {
	if header == "" {
		header = HeaderMarker
	}
	if verdict == models.VerdictUnset {
		return header
	}
	return header + verdictSep + " " + string(verdict)
}

// ParseDescription returns the duration field and label of an #EXTINF line.
func ParseDescription(line string) (string, string) {
	rest := strings.TrimPrefix(line, DescriptionMarker)
	duration, label, found := strings.Cut(rest, ",")
	if !found {
		return "", strings.TrimSpace(rest)
	}
	return strings.TrimSpace(duration), strings.TrimSpace(label)
}

// FormatDescription builds an #EXTINF line.
func FormatDescription(duration, label string) string {
	if duration == "" {
		duration = "-1"
	}
	return DescriptionMarker + duration + "," + label
}
