// Package validator brings every station file of a directory into canonical
// form and records a connectivity verdict for files that were never checked.
package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"station-check/internal/journal"
	"station-check/internal/m3u"
	"station-check/internal/metrics"
	"station-check/internal/models"
	"station-check/internal/probe"
)

// ErrStationsDir is returned when the stations directory cannot be listed.
// It is the only condition that fails a run.
var ErrStationsDir = errors.New("cannot read stations directory")

// Recorder receives one entry per probe.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Status is what happened to a single file.
type Status int

const (
	StatusChecked Status = iota
	StatusSkipped
	StatusIncomplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusChecked:
		return metrics.ResultChecked
	case StatusSkipped:
		return metrics.ResultSkipped
	case StatusIncomplete:
		return metrics.ResultIncomplete
	case StatusFailed:
		return metrics.ResultFailed
	}
	return "unknown"
}

// FileResult describes the handling of one station file.
type FileResult struct {
	Path       string
	Status     Status
	Verdict    models.Verdict
	Probe      *probe.Result
	Violations int
	Rewritten  bool
	Err        error
}

// Summary counts the results of a run.
type Summary struct {
	RunID      string
	Processed  int
	Skipped    int
	Good       int
	Flagged    int
	Incomplete int
	Failed     int
	Violations int
	Verdicts   map[models.Verdict]int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d processed, %d skipped, %d good, %d flagged, %d incomplete, %d failed, %d format violations",
		s.Processed, s.Skipped, s.Good, s.Flagged, s.Incomplete, s.Failed, s.Violations)
}

func (s *Summary) add(res FileResult) {
	s.Processed++
	s.Violations += res.Violations
	switch res.Status {
	case StatusSkipped:
		s.Skipped++
	case StatusIncomplete:
		s.Incomplete++
	case StatusFailed:
		s.Failed++
	case StatusChecked:
		s.Verdicts[res.Verdict]++
		if res.Verdict == models.VerdictGood {
			s.Good++
		} else {
			s.Flagged++
		}
	}
}

// Validator scans a stations directory.
type Validator struct {
	prober     probe.Prober
	recorder   Recorder
	extensions map[string]struct{}
	logger     *log.Logger
}

// New creates a Validator. recorder may be nil.
func New(prober probe.Prober, extensions []string, recorder Recorder, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.Default()
	}

	v := &Validator{
		prober:     prober,
		recorder:   recorder,
		extensions: make(map[string]struct{}, len(extensions)),
		logger:     logger,
	}
	for _, ext := range extensions {
		v.extensions[strings.ToLower(ext)] = struct{}{}
	}
	return v
}

// IsStationFile reports whether path has one of the configured extensions.
func (v *Validator) IsStationFile(path string) bool {
	_, ok := v.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Run validates every station file in dir, one at a time, in directory
// listing order. Per-file failures are logged and counted; the returned
// error is non-nil only when dir cannot be listed or ctx is done.
func (v *Validator) Run(ctx context.Context, dir string) (Summary, error) {
	summary := Summary{
		RunID:    journal.NewRunID(),
		Verdicts: make(map[models.Verdict]int),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("%w %s: %w", ErrStationsDir, dir, err)
	}

	metrics.RunsTotal.Inc()
	v.logger.Printf("checking station files in %s", dir)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			v.logger.Printf("run interrupted: %s", summary)
			return summary, err
		}
		if entry.IsDir() || !v.IsStationFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		v.logger.Printf("%d: %s", summary.Processed+1, path)

		res := v.ValidateFile(ctx, path, summary.RunID)
		if res.Err != nil && errors.Is(res.Err, context.Canceled) {
			v.logger.Printf("run interrupted: %s", summary)
			return summary, res.Err
		}
		summary.add(res)
		metrics.FilesTotal.WithLabelValues(res.Status.String()).Inc()
	}

	metrics.LastRunTimestamp.SetToCurrentTime()
	v.logger.Printf("done: %s", summary)
	return summary, nil
}

// ValidateFile repairs a single file and, unless it was already checked,
// probes its stream and writes the verdict into the header.
func (v *Validator) ValidateFile(ctx context.Context, path, runID string) FileResult {
	res := FileResult{Path: path}
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return v.fail(res, fmt.Errorf("read %s: %w", name, err))
	}

	doc, err := m3u.Parse(bytes.NewReader(data), name)
	if err != nil {
		return v.fail(res, err)
	}

	if doc.Checked {
		v.logger.Printf("    already checked (%s), skipping", doc.Verdict)
		res.Status = StatusSkipped
		res.Verdict = doc.Verdict
		return res
	}

	res.Violations = doc.Violations()
	metrics.FormatViolationsTotal.Add(float64(res.Violations))
	v.logEvents(doc)

	verdict := models.VerdictUnset
	if doc.HasStream() {
		result := v.prober.Probe(ctx, doc.Stream)
		if result.Canceled() {
			res.Err = fmt.Errorf("probe %s: %w", name, context.Canceled)
			res.Status = StatusFailed
			return res
		}
		res.Probe = &result
		metrics.ProbeDuration.WithLabelValues(result.Outcome.String()).Observe(result.Elapsed.Seconds())
		v.logger.Printf("    probe %s: %s", doc.Stream, result)

		verdict = result.Verdict()
		if len(doc.Extra) > 0 {
			v.logger.Printf("    %d line(s) after the stream, marking %s", len(doc.Extra), models.VerdictUnsupported)
			verdict = models.VerdictUnsupported
		}
		v.record(ctx, runID, name, result, verdict)
		res.Status = StatusChecked
	} else {
		v.logger.Printf("    no stream line found")
		res.Status = StatusIncomplete
	}
	res.Verdict = verdict

	out := doc.Render(verdict)
	if bytes.Equal(out, data) {
		return res
	}
	if err := writeFile(path, out); err != nil {
		res.Status = StatusFailed
		return v.fail(res, err)
	}
	res.Rewritten = true
	if verdict != models.VerdictUnset {
		metrics.VerdictsTotal.WithLabelValues(string(verdict)).Inc()
		v.logger.Printf("    %s", m3u.FormatHeader(doc.Header, verdict))
	}
	return res
}

func (v *Validator) fail(res FileResult, err error) FileResult {
	v.logger.Printf("    error: %v", err)
	res.Status = StatusFailed
	res.Err = err
	return res
}

func (v *Validator) logEvents(doc *m3u.Document) {
	for _, ev := range doc.Events {
		switch ev.Kind {
		case m3u.EventAccepted:
			v.logger.Printf("    %s", ev.Text)
		case m3u.EventBlank:
		default:
			v.logger.Printf("    %s", ev)
		}
	}
}

func (v *Validator) record(ctx context.Context, runID, name string, result probe.Result, verdict models.Verdict) {
	if v.recorder == nil {
		return
	}
	entry := journal.Entry{
		RunID:      runID,
		File:       name,
		URL:        result.URL,
		Verdict:    string(verdict),
		StatusCode: result.StatusCode,
		Transport:  string(result.Transport),
		CheckedAt:  time.Now(),
	}
	if err := v.recorder.Record(ctx, entry); err != nil {
		v.logger.Printf("    journal error: %v", err)
	}
}

// writeFile replaces path through a temporary file in the same directory so
// an interrupted write leaves the original intact.
func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
