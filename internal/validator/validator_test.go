package validator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"station-check/internal/journal"
	"station-check/internal/models"
	"station-check/internal/probe"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]probe.Result
	calls   []string
}

func (f *fakeProber) Probe(ctx context.Context, rawURL string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if res, ok := f.results[rawURL]; ok {
		res.URL = rawURL
		return res
	}
	return probe.Result{URL: rawURL, Outcome: probe.OutcomeOK, StatusCode: http.StatusOK}
}

type fakeRecorder struct {
	entries []journal.Entry
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, e journal.Entry) error {
	f.entries = append(f.entries, e)
	return f.err
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeStation(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readStation(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunAnnotatesLiveStation(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "live.m3u", "#EXTM3U\n#EXTINF:-1,Live Station\nhttp://example.com/live\n")

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "#EXTM3U: good\n#EXTINF:-1,Live Station\nhttp://example.com/live\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
	if summary.Processed != 1 || summary.Good != 1 || summary.Flagged != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Verdicts[models.VerdictGood] != 1 {
		t.Fatalf("expected good verdict count, got %v", summary.Verdicts)
	}
}

func TestRunSkipsCheckedFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	original := "\n#EXTM3U: shelf\n\n# note\n#EXTINF:-1,Old\nhttp://example.com/old\nextra\n"
	path := writeStation(t, dir, "old.m3u", original)
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	prober := &fakeProber{}
	v := New(prober, []string{".m3u"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := readStation(t, path); got != original {
		t.Fatalf("checked file was modified:\n%q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().Equal(past) {
		t.Fatalf("checked file was rewritten")
	}
	if len(prober.calls) != 0 {
		t.Fatalf("checked file must not be probed, got %v", prober.calls)
	}
	if summary.Skipped != 1 {
		t.Fatalf("expected one skipped file, got %+v", summary)
	}
}

func TestRunChecksUnsetHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "u.m3u", "#EXTM3U: unset\n#EXTINF:-1,U\nhttp://example.com/u\n")

	prober := &fakeProber{}
	v := New(prober, []string{".m3u"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(prober.calls) != 1 || prober.calls[0] != "http://example.com/u" {
		t.Fatalf("expected the unset file to be probed, got %v", prober.calls)
	}
	if summary.Skipped != 0 || summary.Good != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	want := "#EXTM3U: good\n#EXTINF:-1,U\nhttp://example.com/u\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
}

func TestRunClassifiesRealServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	dir := t.TempDir()
	good := writeStation(t, dir, "good.m3u", "#EXTM3U\n#EXTINF:-1,Good\n"+srv.URL+"/live\n")
	missing := writeStation(t, dir, "missing.m3u", "#EXTM3U\n#EXTINF:-1,Missing\n"+srv.URL+"/gone\n")
	refused := writeStation(t, dir, "refused.m3u", "#EXTM3U\n#EXTINF:-1,Refused\nhttp://"+closedAddr+"/stream\n")

	recorder := &fakeRecorder{}
	v := New(probe.NewHTTPProber(2*time.Second, ""), []string{".m3u"}, recorder, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	checks := map[string]string{
		good:    "#EXTM3U: good\n",
		missing: "#EXTM3U: failed-request\n",
		refused: "#EXTM3U: unreachable\n",
	}
	for path, header := range checks {
		if got := readStation(t, path); !strings.HasPrefix(got, header) {
			t.Fatalf("%s: expected header %q, got %q", filepath.Base(path), header, got)
		}
	}
	if summary.Good != 1 || summary.Flagged != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(recorder.entries) != 3 {
		t.Fatalf("expected one journal entry per probe, got %d", len(recorder.entries))
	}
	for _, e := range recorder.entries {
		if e.RunID != summary.RunID {
			t.Fatalf("expected run id %s, got %s", summary.RunID, e.RunID)
		}
		if e.File == "missing.m3u" && e.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 to be journaled, got %+v", e)
		}
		if e.File == "refused.m3u" && e.Transport != string(probe.TransportRefused) {
			t.Fatalf("expected refused transport, got %+v", e)
		}
	}
}

func TestRunUnresolvableHostIsUnreachable(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "a.m3u", "#EXTM3U\n#EXTINF:-1,Test Station\nhttp://bad.invalid/stream\n")

	v := New(probe.NewHTTPProber(2*time.Second, ""), []string{".m3u"}, nil, discardLogger())
	if _, err := v.Run(context.Background(), dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "#EXTM3U: unreachable\n#EXTINF:-1,Test Station\nhttp://bad.invalid/stream\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
}

func TestRunDropsBlankLinesAndRepairs(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "messy.m3u", "\n\nhttp://example.com/messy\n\n")

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	if _, err := v.Run(context.Background(), dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "#EXTM3U: good\n#EXTINF:-1,messy\nhttp://example.com/messy\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
}

func TestRunKeepsDescriptionOfHeaderlessFile(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "d.m3u", "#EXTINF:-1,Real Label\nhttp://example.com/d\n")

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	if _, err := v.Run(context.Background(), dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "#EXTM3U: good\n#EXTINF:-1,Real Label\nhttp://example.com/d\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
}

func TestRunMarksExcessContentUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "four.m3u", "#EXTM3U\n#EXTINF:-1,Four\nhttp://example.com/a\nhttp://example.com/b\n")

	prober := &fakeProber{}
	v := New(prober, []string{".m3u"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "#EXTM3U: unsupported\n#EXTINF:-1,Four\nhttp://example.com/a\nhttp://example.com/b\n"
	if got := readStation(t, path); got != want {
		t.Fatalf("unexpected content:\n%q", got)
	}
	if len(prober.calls) != 1 || prober.calls[0] != "http://example.com/a" {
		t.Fatalf("expected exactly one probe of the stream line, got %v", prober.calls)
	}
	if summary.Flagged != 1 {
		t.Fatalf("expected unsupported file to be flagged, got %+v", summary)
	}
}

func TestRunLeavesIncompleteFileForNextRun(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "partial.m3u", "#EXTM3U\n\n#EXTINF:-1,Partial\n")

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := readStation(t, path); got != "#EXTM3U\n#EXTINF:-1,Partial\n" {
		t.Fatalf("unexpected content %q", got)
	}
	if summary.Incomplete != 1 {
		t.Fatalf("expected an incomplete file, got %+v", summary)
	}
}

func TestRunContinuesAfterFileError(t *testing.T) {
	dir := t.TempDir()
	if err := os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(dir, "broken.m3u")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	path := writeStation(t, dir, "z.m3u", "#EXTM3U\n#EXTINF:-1,Z\nhttp://example.com/z\n")

	var logs bytes.Buffer
	v := New(&fakeProber{}, []string{".m3u"}, nil, log.New(&logs, "", 0))
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Failed != 1 || summary.Good != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !strings.HasPrefix(readStation(t, path), "#EXTM3U: good\n") {
		t.Fatalf("expected later file to be processed")
	}
	if !strings.Contains(logs.String(), "broken.m3u") {
		t.Fatalf("expected failing file to be named in the log:\n%s", logs.String())
	}
}

func TestRunIgnoresOtherFilesAndMatchesExtensionCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	notes := writeStation(t, dir, "notes.txt", "http://example.com/\n")
	upper := writeStation(t, dir, "LOUD.M3U", "#EXTM3U\n#EXTINF:-1,Loud\nhttp://example.com/loud\n")
	if err := os.Mkdir(filepath.Join(dir, "folder.m3u"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	v := New(&fakeProber{}, []string{".M3U"}, nil, discardLogger())
	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 1 {
		t.Fatalf("expected only one station file, got %+v", summary)
	}
	if readStation(t, notes) != "http://example.com/\n" {
		t.Fatalf("non-station file was modified")
	}
	if !strings.HasPrefix(readStation(t, upper), "#EXTM3U: good") {
		t.Fatalf("expected upper-case extension to be validated")
	}
}

func TestRunMissingDirectory(t *testing.T) {
	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	_, err := v.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrStationsDir) {
		t.Fatalf("expected ErrStationsDir, got %v", err)
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "a.m3u", "#EXTM3U\n#EXTINF:-1,A\nhttp://example.com/a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	if _, err := v.Run(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if readStation(t, path) != "#EXTM3U\n#EXTINF:-1,A\nhttp://example.com/a\n" {
		t.Fatalf("file must not change after cancellation")
	}
}

func TestCanceledProbeDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	original := "#EXTM3U\n#EXTINF:-1,A\nhttp://example.com/a\n"
	path := writeStation(t, dir, "a.m3u", original)

	prober := &fakeProber{results: map[string]probe.Result{
		"http://example.com/a": {Outcome: probe.OutcomeTransportFailure, Transport: probe.TransportCanceled},
	}}
	v := New(prober, []string{".m3u"}, nil, discardLogger())
	res := v.ValidateFile(context.Background(), path, "run")
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", res.Err)
	}
	if readStation(t, path) != original {
		t.Fatalf("file must not change after a canceled probe")
	}
}

func TestValidateFilePreservesPermissions(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "perm.m3u", "#EXTM3U\n#EXTINF:-1,P\nhttp://example.com/p\n")
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	v := New(&fakeProber{}, []string{".m3u"}, nil, discardLogger())
	res := v.ValidateFile(context.Background(), path, "run")
	if res.Err != nil || !res.Rewritten {
		t.Fatalf("expected rewrite, got %+v", res)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected permissions to be preserved, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestJournalErrorsAreNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "a.m3u", "#EXTM3U\n#EXTINF:-1,A\nhttp://example.com/a\n")

	recorder := &fakeRecorder{err: errors.New("disk full")}
	v := New(&fakeProber{}, []string{".m3u"}, recorder, discardLogger())
	res := v.ValidateFile(context.Background(), path, "run")
	if res.Err != nil || res.Verdict != models.VerdictGood {
		t.Fatalf("journal failure must not fail the file: %+v", res)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeStation(t, dir, "a.m3u", "#EXTM3U\n#EXTINF:-1,A\nhttp://example.com/a\n")

	prober := &fakeProber{}
	v := New(prober, []string{".m3u"}, nil, discardLogger())
	if _, err := v.Run(context.Background(), dir); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := readStation(t, path)

	summary, err := v.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if readStation(t, path) != first {
		t.Fatalf("second run modified a checked file")
	}
	if summary.Skipped != 1 || len(prober.calls) != 1 {
		t.Fatalf("expected second run to skip, summary %+v calls %v", summary, prober.calls)
	}
}
