package chunker

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lectern-ai/lectern/internal/storage"
)

func TestChunkPages_SinglePageFits(t *testing.T) {
	pages := []Page{{Number: 1, Text: "short page text"}}
	drafts := ChunkPages(pages, Config{MaxChunkChars: 1000, OverlapChars: 200})

	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if drafts[0].Text != "short page text" {
		t.Errorf("Text = %q", drafts[0].Text)
	}
	p := drafts[0].Provenance
	if p.Kind != storage.ProvenancePage || p.Page != 1 {
		t.Errorf("provenance = %+v, want page 1", p)
	}
}

func TestChunkPages_OversizedPageKeepsPageTag(t *testing.T) {
	// An 800-char page with a 500-char window splits into two drafts,
	// both tagged with the page that owns them.
	long := strings.Repeat("a", 800)
	pages := []Page{{Number: 2, Text: long}}
	drafts := ChunkPages(pages, Config{MaxChunkChars: 500, OverlapChars: 100})

	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	for i, d := range drafts {
		if d.Ordinal != i {
			t.Errorf("draft %d ordinal = %d", i, d.Ordinal)
		}
		if d.Provenance.Page != 2 {
			t.Errorf("draft %d page = %d, want 2", i, d.Provenance.Page)
		}
		if len(d.Text) > 500 {
			t.Errorf("draft %d is %d chars, exceeds max", i, len(d.Text))
		}
	}
	if len(drafts[0].Text) != 500 {
		t.Errorf("first draft is %d chars, want 500", len(drafts[0].Text))
	}
}

func TestChunkPages_OverlapSharedBetweenWindows(t *testing.T) {
	long := strings.Repeat("x", 450) + strings.Repeat("y", 450)
	pages := []Page{{Number: 1, Text: long}}
	drafts := ChunkPages(pages, Config{MaxChunkChars: 500, OverlapChars: 100})

	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	tail := drafts[0].Text[len(drafts[0].Text)-100:]
	head := drafts[1].Text[:100]
	if tail != head {
		t.Error("consecutive windows do not share the configured overlap")
	}
}

func TestChunkPages_WindowsNeverSpanPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: strings.Repeat("a", 450)},
		{Number: 2, Text: strings.Repeat("b", 600)},
	}
	drafts := ChunkPages(pages, Config{MaxChunkChars: 500, OverlapChars: 100})

	// Page 1 fits one window; page 2 restarts the walk and splits in two.
	if len(drafts) != 3 {
		t.Fatalf("got %d drafts, want 3", len(drafts))
	}
	wantPages := []int{1, 2, 2}
	for i, d := range drafts {
		if d.Provenance.Page != wantPages[i] {
			t.Errorf("draft %d page = %d, want %d", i, d.Provenance.Page, wantPages[i])
		}
		if strings.Contains(d.Text, "a") && strings.Contains(d.Text, "b") {
			t.Errorf("draft %d mixes text from two pages", i)
		}
	}
}

func TestChunkPages_MiddleOversizedPageSplitsWithinPage(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "x"},
		{Number: 2, Text: strings.Repeat("a", 800)},
		{Number: 3, Text: strings.Repeat("b", 300)},
	}
	drafts := ChunkPages(pages, Config{MaxChunkChars: 500, OverlapChars: 50})

	var page2 int
	for _, d := range drafts {
		if d.Provenance.Page == 2 {
			page2++
			if strings.ContainsAny(d.Text, "xb") {
				t.Errorf("page 2 draft carries neighboring pages' text: %q", d.Text[:10])
			}
		}
	}
	if page2 < 2 {
		t.Errorf("800-char page produced %d drafts, want >= 2 each tagged page 2", page2)
	}
	first, last := drafts[0], drafts[len(drafts)-1]
	if first.Provenance.Page != 1 || last.Provenance.Page != 3 {
		t.Errorf("boundary pages tagged %d and %d, want 1 and 3",
			first.Provenance.Page, last.Provenance.Page)
	}
}

func TestChunkPages_DegenerateOverlapStillTerminates(t *testing.T) {
	pages := []Page{{Number: 1, Text: strings.Repeat("a", 250)}}

	drafts := ChunkPages(pages, Config{MaxChunkChars: 100, OverlapChars: 100})
	if len(drafts) != 3 {
		t.Fatalf("overlap == max produced %d drafts, want 3 disjoint windows", len(drafts))
	}
	for i, d := range drafts {
		if len(d.Text) > 100 {
			t.Errorf("draft %d is %d chars, exceeds max", i, len(d.Text))
		}
	}

	if drafts := ChunkPages(pages, Config{MaxChunkChars: 0, OverlapChars: 10}); len(drafts) != 0 {
		t.Errorf("zero window size produced %d drafts", len(drafts))
	}
}

func TestChunkPages_EmptyInput(t *testing.T) {
	cfg := Config{MaxChunkChars: 1000, OverlapChars: 200}

	if drafts := ChunkPages(nil, cfg); len(drafts) != 0 {
		t.Errorf("nil pages produced %d drafts", len(drafts))
	}
	blank := []Page{{Number: 1, Text: "   \n\t  "}}
	if drafts := ChunkPages(blank, cfg); len(drafts) != 0 {
		t.Errorf("whitespace-only page produced %d drafts", len(drafts))
	}
}

func TestChunkPages_Deterministic(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: strings.Repeat("lorem ipsum ", 100)},
		{Number: 2, Text: strings.Repeat("dolor sit ", 80)},
	}
	cfg := Config{MaxChunkChars: 300, OverlapChars: 50}

	a := ChunkPages(pages, cfg)
	b := ChunkPages(pages, cfg)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical input produced different chunk boundaries")
	}
}

func TestChunkSegments_AccumulatesUntilFull(t *testing.T) {
	segments := []Segment{
		{Text: "hello there", Start: 0, End: 5},
		{Text: "general remarks", Start: 5, End: 12},
		{Text: "closing words", Start: 12, End: 20},
	}
	drafts := ChunkSegments(segments, Config{MaxChunkChars: 1000})

	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	d := drafts[0]
	if d.Text != "hello there general remarks closing words" {
		t.Errorf("Text = %q", d.Text)
	}
	if d.Provenance.Kind != storage.ProvenanceTime {
		t.Errorf("Kind = %q, want time", d.Provenance.Kind)
	}
	if d.Provenance.Start != 0 || d.Provenance.End != 20 {
		t.Errorf("time range = [%v, %v], want [0, 20]", d.Provenance.Start, d.Provenance.End)
	}
}

func TestChunkSegments_SplitsAtSegmentBoundary(t *testing.T) {
	segments := []Segment{
		{Text: strings.Repeat("a", 40), Start: 0, End: 10},
		{Text: strings.Repeat("b", 40), Start: 10, End: 20},
		{Text: strings.Repeat("c", 40), Start: 20, End: 30},
	}
	drafts := ChunkSegments(segments, Config{MaxChunkChars: 90})

	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if drafts[0].Provenance.Start != 0 || drafts[0].Provenance.End != 20 {
		t.Errorf("first chunk range = [%v, %v], want [0, 20]",
			drafts[0].Provenance.Start, drafts[0].Provenance.End)
	}
	// The third segment starts a fresh chunk; its time range is its own.
	if drafts[1].Provenance.Start != 20 || drafts[1].Provenance.End != 30 {
		t.Errorf("second chunk range = [%v, %v], want [20, 30]",
			drafts[1].Provenance.Start, drafts[1].Provenance.End)
	}
}

func TestChunkSegments_OversizedSegmentStandsAlone(t *testing.T) {
	segments := []Segment{
		{Text: strings.Repeat("a", 500), Start: 0, End: 60},
		{Text: "tail", Start: 60, End: 65},
	}
	drafts := ChunkSegments(segments, Config{MaxChunkChars: 100})

	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if len(drafts[0].Text) != 500 {
		t.Errorf("oversized segment was split; len = %d", len(drafts[0].Text))
	}
}

func TestChunkSegments_EmptyInput(t *testing.T) {
	cfg := Config{MaxChunkChars: 100}

	if drafts := ChunkSegments(nil, cfg); len(drafts) != 0 {
		t.Errorf("nil segments produced %d drafts", len(drafts))
	}
	blank := []Segment{{Text: "  ", Start: 0, End: 1}}
	if drafts := ChunkSegments(blank, cfg); len(drafts) != 0 {
		t.Errorf("whitespace-only segment produced %d drafts", len(drafts))
	}
}
