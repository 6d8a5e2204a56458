package m3u

import (
	"reflect"
	"strings"
	"testing"

	"station-check/internal/models"
)

func mustParse(t *testing.T, content, name string) *Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(content), name)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestParseCanonicalFile(t *testing.T) {
	doc := mustParse(t, "#EXTM3U\n#EXTINF:-1,Test Station\nhttp://example.com/stream\n", "a.m3u")

	if doc.Checked {
		t.Fatalf("expected unchecked document")
	}
	if doc.State != Done {
		t.Fatalf("expected state done, got %s", doc.State)
	}
	want := "#EXTM3U: good\n#EXTINF:-1,Test Station\nhttp://example.com/stream\n"
	if got := string(doc.Render(models.VerdictGood)); got != want {
		t.Fatalf("unexpected render:\n%q\nwant\n%q", got, want)
	}
	if doc.Violations() != 0 {
		t.Fatalf("expected no violations, got %d", doc.Violations())
	}
}

func TestParseDetectsCheckedHeader(t *testing.T) {
	doc := mustParse(t, "#EXTM3U: shelf\n#EXTINF:-1,Old\nhttp://example.com/\n", "old.m3u")
	if !doc.Checked {
		t.Fatalf("expected checked document")
	}
	if doc.Verdict != models.VerdictShelf {
		t.Fatalf("expected shelf verdict, got %q", doc.Verdict)
	}

	doc = mustParse(t, "#EXTM3U: failed request\n#EXTINF:-1,Old\nhttp://example.com/\n", "old.m3u")
	if doc.Verdict != models.VerdictFailedRequest {
		t.Fatalf("expected legacy spelling to parse, got %q", doc.Verdict)
	}

	doc = mustParse(t, "#EXTM3U\n#EXTINF:-1,Old\n#EXTM3U: good\nhttp://example.com/\n", "old.m3u")
	if !doc.Checked {
		t.Fatalf("expected a late verdict header to mark the file checked")
	}
}

func TestParseIgnoresBlankLinesAndComments(t *testing.T) {
	content := "\n\n#EXTM3U\n\n# downloaded from somewhere\n\n#EXTINF:-1,Station\n  \n#EXTVLCOPT:network-caching=1000\nhttp://example.com/live\n\n"
	doc := mustParse(t, content, "s.m3u")

	want := []string{"#EXTM3U: good", "#EXTINF:-1,Station", "http://example.com/live"}
	if got := doc.Lines(models.VerdictGood); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}
	if doc.Violations() != 0 {
		t.Fatalf("blank lines and comments must not count as violations")
	}
}

func TestParseReportsOutOfPlaceMarkers(t *testing.T) {
	content := "#EXTM3U\n#EXTM3U\n#EXTINF:-1,First\n#EXTINF:-1,Second\nhttp://example.com/\n"
	doc := mustParse(t, content, "dup.m3u")

	if doc.Violations() != 2 {
		t.Fatalf("expected 2 violations, got %d", doc.Violations())
	}
	want := []string{"#EXTM3U: good", "#EXTINF:-1,First", "http://example.com/"}
	if got := doc.Lines(models.VerdictGood); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestParseSynthesizesMissingLines(t *testing.T) {
	doc := mustParse(t, "http://example.com/stream\n", "/stations/Jazz FM.m3u")
	want := []string{"#EXTM3U: good", "#EXTINF:-1,Jazz FM", "http://example.com/stream"}
	if got := doc.Lines(models.VerdictGood); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}

	doc = mustParse(t, "#EXTM3U\nhttp://example.com/stream\n", "rock.m3u")
	want = []string{"#EXTM3U: unreachable", "#EXTINF:-1,rock", "http://example.com/stream"}
	if got := doc.Lines(models.VerdictUnreachable); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}

	synthesized := 0
	for _, ev := range doc.Events {
		if ev.Kind == EventSynthesized {
			synthesized++
		}
	}
	if synthesized != 1 {
		t.Fatalf("expected one synthesized line, got %d", synthesized)
	}
}

func TestParseKeepsExcessContent(t *testing.T) {
	content := "#EXTM3U\n#EXTINF:-1,Station\nhttp://example.com/a\nhttp://example.com/b\n"
	doc := mustParse(t, content, "x.m3u")

	if len(doc.Extra) != 1 || doc.Extra[0] != "http://example.com/b" {
		t.Fatalf("expected the fourth line to be retained, got %#v", doc.Extra)
	}
	lines := doc.Lines(models.VerdictUnsupported)
	if len(lines) != 4 || lines[3] != "http://example.com/b" {
		t.Fatalf("expected fourth line after the stream, got %#v", lines)
	}
}

func TestParseWithoutStreamDropsVerdict(t *testing.T) {
	doc := mustParse(t, "#EXTM3U\n#EXTINF:-1,Nothing yet\n", "empty.m3u")
	if doc.HasStream() {
		t.Fatalf("expected no stream")
	}
	want := "#EXTM3U\n#EXTINF:-1,Nothing yet\n"
	if got := string(doc.Render(models.VerdictGood)); got != want {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestParseStripsByteOrderMark(t *testing.T) {
	doc := mustParse(t, "\ufeff#EXTM3U\r\n#EXTINF:-1,BOM\r\nhttp://example.com/\r\n", "bom.m3u")
	if doc.Header != HeaderMarker {
		t.Fatalf("expected BOM to be stripped, got %q", doc.Header)
	}
	if doc.Stream != "http://example.com/" {
		t.Fatalf("expected carriage returns trimmed, got %q", doc.Stream)
	}
}

func TestTransitionTableIsComplete(t *testing.T) {
	kinds := []LineKind{LineBlank, LineHeader, LineCheckedHeader, LineDescription, LineComment, LineContent}
	for _, s := range []State{ExpectHeader, ExpectDescription, ExpectStream, Done} {
		for _, k := range kinds {
			if _, ok := transitions[transitionKey{s, k}]; !ok {
				t.Fatalf("missing transition for %s/%s", s, k)
			}
		}
	}
	for s := ExpectHeader; s <= Done; s++ {
		tr := transitions[transitionKey{s, LineBlank}]
		if tr.next != s {
			t.Fatalf("blank line must not change state %s", s)
		}
	}
}

func TestDocumentStation(t *testing.T) {
	doc := mustParse(t, "#EXTM3U: use\n#EXTINF:-1,Radio One\nhttp://example.com/r1\n", "radio1.m3u")
	st := doc.Station("radio1.m3u")
	if st.Name != "radio1" || st.Label != "Radio One" || st.Duration != "-1" {
		t.Fatalf("unexpected station %+v", st)
	}
	if st.Verdict != models.VerdictUse || st.StreamURL != "http://example.com/r1" {
		t.Fatalf("unexpected station %+v", st)
	}
}

func TestParseUnsetHeaderIsNotChecked(t *testing.T) {
	for _, header := range []string{"#EXTM3U: unset", "#EXTM3U:", "#EXTM3U:  UNSET "} {
		doc := mustParse(t, header+"\n#EXTINF:-1,U\nhttp://example.com/u\n", "u.m3u")
		if doc.Checked {
			t.Fatalf("%q: expected document to need a check", header)
		}
		want := "#EXTM3U: good\n#EXTINF:-1,U\nhttp://example.com/u\n"
		if got := string(doc.Render(models.VerdictGood)); got != want {
			t.Fatalf("%q: unexpected render %q", header, got)
		}
	}
}

func TestParseKeepsLabelWhenHeaderMissing(t *testing.T) {
	doc := mustParse(t, "#EXTINF:-1,Real Label\nhttp://example.com/live\n", "d.m3u")

	want := []string{"#EXTM3U: good", "#EXTINF:-1,Real Label", "http://example.com/live"}
	if got := doc.Lines(models.VerdictGood); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}
	if doc.Violations() != 0 {
		t.Fatalf("expected no violations, got %d", doc.Violations())
	}
	if doc.Events[0].Kind != EventSynthesized || doc.Events[0].Text != HeaderMarker {
		t.Fatalf("expected a synthesized header event first, got %v", doc.Events[0])
	}
}
