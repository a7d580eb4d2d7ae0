// Package chunker splits normalized document content into bounded, overlapping
// retrieval units. It is pure: identical input and config produce identical
// chunk boundaries.
package chunker

import (
	"strings"

	"github.com/lectern-ai/lectern/internal/storage"
)

type Config struct {
	MaxChunkChars int
	OverlapChars  int
}

// Page is one page of extracted document text, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Segment is one time-coded transcript segment.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Draft is a chunk before persistence: no ID, no timestamps. Ordinals are
// contiguous from 0 in the order drafts are emitted.
type Draft struct {
	Ordinal    int
	Text       string
	Provenance storage.Provenance
}

// ChunkPages splits each page independently into windows of at most
// MaxChunkChars runes with OverlapChars shared between consecutive windows of
// the same page. Windows never span a page boundary, so every draft of an
// oversized page carries that page's number. Ordinals run contiguously across
// the whole document.
func ChunkPages(pages []Page, cfg Config) []Draft {
	if cfg.MaxChunkChars <= 0 {
		return nil
	}
	step := cfg.MaxChunkChars - cfg.OverlapChars
	if step <= 0 {
		// An overlap at or above the window size would stall the walk.
		step = cfg.MaxChunkChars
	}

	var drafts []Draft
	for _, p := range pages {
		runes := []rune(strings.TrimSpace(p.Text))
		if len(runes) == 0 {
			continue
		}
		for start := 0; start < len(runes); start += step {
			end := start + cfg.MaxChunkChars
			if end > len(runes) {
				end = len(runes)
			}
			text := strings.TrimSpace(string(runes[start:end]))
			if text != "" {
				drafts = append(drafts, Draft{
					Ordinal:    len(drafts),
					Text:       text,
					Provenance: storage.Provenance{Kind: storage.ProvenancePage, Page: p.Number},
				})
			}
			if end == len(runes) {
				break
			}
		}
	}
	return drafts
}

// ChunkSegments groups transcript segments into chunks, accumulating segments
// until adding the next would exceed MaxChunkChars. A chunk's time range spans
// the accumulated segments' [min start, max end]. Chunks begin only at segment
// boundaries: a single oversized segment becomes a chunk of its own rather than
// being split mid-segment.
func ChunkSegments(segments []Segment, cfg Config) []Draft {
	var drafts []Draft
	var texts []string
	var accLen int
	var start, end float64

	flush := func() {
		if len(texts) == 0 {
			return
		}
		drafts = append(drafts, Draft{
			Ordinal:    len(drafts),
			Text:       strings.Join(texts, " "),
			Provenance: storage.Provenance{Kind: storage.ProvenanceTime, Start: start, End: end},
		})
		texts = nil
		accLen = 0
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segLen := len([]rune(text))
		if len(texts) > 0 && accLen+1+segLen > cfg.MaxChunkChars {
			flush()
		}
		if len(texts) == 0 {
			start = seg.Start
			accLen = segLen
		} else {
			accLen += 1 + segLen
		}
		if len(texts) == 0 || seg.End > end {
			end = seg.End
		}
		texts = append(texts, text)
	}
	flush()
	return drafts
}
