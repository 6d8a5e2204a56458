package m3u

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"station-check/internal/models"
)

// State is the position of the parser within the canonical three lines.
type State int

const (
	ExpectHeader State = iota
	ExpectDescription
	ExpectStream
	Done
)

func (s State) String() string {
	switch s {
	case ExpectHeader:
		return "expect header"
	case ExpectDescription:
		return "expect description"
	case ExpectStream:
		return "expect stream"
	case Done:
		return "done"
	}
	return "unknown"
}

type action int

const (
	actIgnore action = iota
	actAcceptHeader
	actAcceptDescription
	actViolation
	actComment
	actStream
	actSynthesizeHeader
	actHeaderlessDescription
	actSynthesizeDescription
	actExcess
)

type transition struct {
	act  action
	next State
}

type transitionKey struct {
	state State
	kind  LineKind
}

// transitions is the complete table; every (state, kind) pair has an entry.
// Checked headers are accepted like plain ones so that already verified
// files can still be read into the catalogue.
var transitions = buildTransitions()

func buildTransitions() map[transitionKey]transition {
	t := make(map[transitionKey]transition)
	for _, s := range []State{ExpectHeader, ExpectDescription, ExpectStream, Done} {
		t[transitionKey{s, LineBlank}] = transition{actIgnore, s}
		t[transitionKey{s, LineComment}] = transition{actComment, s}
		t[transitionKey{s, LineHeader}] = transition{actViolation, s}
		t[transitionKey{s, LineCheckedHeader}] = transition{actViolation, s}
		t[transitionKey{s, LineDescription}] = transition{actViolation, s}
	}

	t[transitionKey{ExpectHeader, LineHeader}] = transition{actAcceptHeader, ExpectDescription}
	t[transitionKey{ExpectHeader, LineCheckedHeader}] = transition{actAcceptHeader, ExpectDescription}
	t[transitionKey{ExpectDescription, LineDescription}] = transition{actAcceptDescription, ExpectStream}
	t[transitionKey{ExpectHeader, LineDescription}] = transition{actHeaderlessDescription, ExpectStream}

	t[transitionKey{ExpectHeader, LineContent}] = transition{actSynthesizeHeader, Done}
	t[transitionKey{ExpectDescription, LineContent}] = transition{actSynthesizeDescription, Done}
	t[transitionKey{ExpectStream, LineContent}] = transition{actStream, Done}
	t[transitionKey{Done, LineContent}] = transition{actExcess, Done}
	return t
}

// EventKind identifies a diagnostic produced while parsing.
type EventKind int

const (
	EventAccepted EventKind = iota
	EventBlank
	EventComment
	EventViolation
	EventSynthesized
	EventExcess
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventBlank:
		return "blank"
	case EventComment:
		return "comment"
	case EventViolation:
		return "format violation"
	case EventSynthesized:
		return "synthesized"
	case EventExcess:
		return "excess content"
	}
	return "unknown"
}

// Event records what happened to one input line.
type Event struct {
	Line  int
	Kind  EventKind
	State State
	Text  string
}

func (e Event) String() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Text)
	}
	return fmt.Sprintf("line %d (%s): %s: %s", e.Line, e.State, e.Kind, e.Text)
}

// Document is the retained content of a station file.
type Document struct {
	Header      string
	Description string
	Stream      string
	Extra       []string

	// Checked is set when the header already carries a verdict.
	Checked bool
	Verdict models.Verdict

	State  State
	Events []Event
}

// Violations returns the number of lines rejected at their position.
func (d *Document) Violations() int {
	n := 0
	for _, ev := range d.Events {
		if ev.Kind == EventViolation {
			n++
		}
	}
	return n
}

// HasStream reports whether a stream line was found.
func (d *Document) HasStream() bool {
	return d.Stream != ""
}

// Lines returns the canonical lines with the given verdict on the header.
// Missing parts are omitted so that an incomplete file keeps what it had.
func (d *Document) Lines(verdict models.Verdict) []string {
	lines := make([]string, 0, 3+len(d.Extra))
	if d.Header != "" {
		if !d.HasStream() {
			verdict = models.VerdictUnset
		}
		lines = append(lines, FormatHeader(d.Header, verdict))
	}
	if d.Description != "" {
		lines = append(lines, d.Description)
	}
	if d.Stream != "" {
		lines = append(lines, d.Stream)
	}
	return append(lines, d.Extra...)
}

// Render returns the file content for the given verdict, one line per entry
// each terminated by a newline.
func (d *Document) Render(verdict models.Verdict) []byte {
	var b strings.Builder
	for _, line := range d.Lines(verdict) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Station converts the document into a catalogue record.
func (d *Document) Station(name string) models.Station {
	duration, label := ParseDescription(d.Description)
	if label == "" {
		label = stationLabel(name)
	}
	return models.Station{
		Name:      stationLabel(name),
		Filename:  name,
		Verdict:   d.Verdict,
		Duration:  duration,
		Label:     label,
		StreamURL: d.Stream,
	}
}

// Parse reads a station file. name is the file name and is only used to
// label a synthesized description.
func Parse(r io.Reader, name string) (*Document, error) {
	doc := &Document{State: ExpectHeader}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		raw := scanner.Text()
		if lineNo == 0 {
			raw = strings.TrimPrefix(raw, utf8BOM)
		}
		lineNo++
		doc.feed(lineNo, strings.TrimSpace(raw), name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return doc, nil
}

func (d *Document) feed(lineNo int, line, name string) {
	kind := Classify(line)
	tr, ok := transitions[transitionKey{d.State, kind}]
	if !ok {
		tr = transition{actViolation, d.State}
	}

	// A verdict anywhere in the file means it was already checked. An empty
	// or unset suffix does not count.
	if kind == LineCheckedHeader {
		if _, verdict, _ := ParseHeader(line); verdict != models.VerdictUnset {
			d.Checked = true
		}
	}

	ev := Event{Line: lineNo, State: d.State, Text: line}
	switch tr.act {
	case actIgnore:
		ev.Kind = EventBlank
	case actComment:
		ev.Kind = EventComment
	case actViolation:
		ev.Kind = EventViolation
		ev.Text = fmt.Sprintf("unexpected %s: %s", kind, line)
	case actAcceptHeader:
		ev.Kind = EventAccepted
		header, verdict, _ := ParseHeader(line)
		d.Header = header
		d.Verdict = verdict
	case actAcceptDescription:
		ev.Kind = EventAccepted
		d.Description = line
	case actSynthesizeHeader:
		d.synthesizeHeader()
		d.synthesizeDescription(name)
		ev.Kind = EventAccepted
		d.Stream = line
	case actHeaderlessDescription:
		d.synthesizeHeader()
		ev.Kind = EventAccepted
		d.Description = line
	case actSynthesizeDescription:
		d.synthesizeDescription(name)
		ev.Kind = EventAccepted
		d.Stream = line
	case actStream:
		ev.Kind = EventAccepted
		d.Stream = line
	case actExcess:
		ev.Kind = EventExcess
		d.Extra = append(d.Extra, line)
	}
	d.Events = append(d.Events, ev)
	d.State = tr.next
}

func (d *Document) synthesizeHeader() {
	d.Header = HeaderMarker
	d.Events = append(d.Events, Event{Kind: EventSynthesized, State: d.State, Text: d.Header})
}

func (d *Document) synthesizeDescription(name string) {
	d.Description = FormatDescription("-1", stationLabel(name))
	d.Events = append(d.Events, Event{Kind: EventSynthesized, State: d.State, Text: d.Description})
}

func stationLabel(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
