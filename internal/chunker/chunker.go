// Package chunker splits entry bodies into token-bounded, overlapping chunks,
// preferring paragraph boundaries and falling back to sentence boundaries
// for any paragraph that alone exceeds the configured maximum.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/watercooler-dev/wc-memory-go/internal/domain"
)

// Config controls chunking behavior.
type Config struct {
	MaxTokens      int
	OverlapTokens  int
	IncludeHeader  bool
	Mode           string
}

// WatercoolerPreset is the default configuration used for thread ingestion.
var WatercoolerPreset = Config{
	MaxTokens:     768,
	OverlapTokens: 64,
	IncludeHeader: true,
	Mode:          "watercooler",
}

var sentenceBoundaryRe = regexp.MustCompile(`(?:[.!?])\s+`)

// countTokens approximates token count as len(text)/4, a coarse stand-in
// for a true BPE tokenizer (see DESIGN.md).
func countTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitSentences(text string) []string {
	locs := sentenceBoundaryRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, loc := range locs {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return trimNonEmpty(out)
}

func trimNonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func chunkID(entryID string, index int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", entryID, index, text)))
	return hex.EncodeToString(h[:])[:16]
}

// flushBuffer accumulates segments (paragraphs or sentences) with an
// overlap-preserving buffer and returns the finalized chunk texts.
func flushBuffer(segments []string, maxTokens, overlapTokens int) []string {
	var chunks []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(buf, "\n\n")))
	}

	for _, seg := range segments {
		segTokens := countTokens(seg)

		if segTokens > maxTokens {
			// Single oversized segment: flush what we have, then split this
			// segment further by sentence and flush those individually.
			flush()
			buf = nil
			bufTokens = 0

			sentences := splitSentences(seg)
			if len(sentences) <= 1 {
				// No sentence boundary to split on: emit the segment whole.
				chunks = append(chunks, strings.TrimSpace(seg))
				continue
			}
			sentChunks := flushBuffer(sentences, maxTokens, overlapTokens)
			chunks = append(chunks, sentChunks...)
			continue
		}

		if bufTokens+segTokens > maxTokens && len(buf) > 0 {
			flush()
			// Seed next buffer with trailing segments up to overlapTokens.
			var overlapBuf []string
			overlapCount := 0
			for i := len(buf) - 1; i >= 0; i-- {
				t := countTokens(buf[i])
				if overlapCount+t > overlapTokens {
					break
				}
				overlapBuf = append([]string{buf[i]}, overlapBuf...)
				overlapCount += t
			}
			buf = overlapBuf
			bufTokens = overlapCount
		}

		buf = append(buf, seg)
		bufTokens += segTokens
	}
	flush()
	return chunks
}

// ChunkText splits raw text into chunk strings per cfg. If the whole text
// fits within MaxTokens, a single chunk is returned.
func ChunkText(cfg Config, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if countTokens(text) <= cfg.MaxTokens {
		return []string{text}
	}
	paragraphs := splitParagraphs(text)
	return flushBuffer(paragraphs, cfg.MaxTokens, cfg.OverlapTokens)
}

// headerChunkText renders the synthetic provenance header chunk prepended to
// an entry's chunk sequence when cfg.IncludeHeader is set.
func headerChunkText(e domain.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent: %s\n", e.Agent)
	fmt.Fprintf(&b, "role: %s\n", e.Role)
	fmt.Fprintf(&b, "type: %s\n", e.EntryType)
	fmt.Fprintf(&b, "title: %s\n", e.Title)
	fmt.Fprintf(&b, "timestamp: %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	return b.String()
}

// ChunkEntry produces the Chunk sequence for one Entry.
func ChunkEntry(cfg Config, e domain.Entry) []domain.Chunk {
	var texts []string
	if cfg.IncludeHeader {
		texts = append(texts, headerChunkText(e))
	}
	texts = append(texts, ChunkText(cfg, e.Body)...)

	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.Chunk{
			ChunkID:    chunkID(e.EntryID, i, t),
			EntryID:    e.EntryID,
			ThreadID:   e.ThreadID,
			Index:      i,
			Text:       t,
			TokenCount: countTokens(t),
		}
	}
	return chunks
}

// ChunkEntries chunks every entry, returning chunks grouped per entry ID in
// input order plus a flat CONTAINS edge list.
func ChunkEntries(cfg Config, entries []domain.Entry) (map[string][]domain.Chunk, []domain.Edge) {
	result := make(map[string][]domain.Chunk, len(entries))
	var edges []domain.Edge
	for _, e := range entries {
		chunks := ChunkEntry(cfg, e)
		result[e.EntryID] = chunks
		for _, c := range chunks {
			edges = append(edges, domain.Edge{Kind: domain.EdgeContains, FromID: e.EntryID, ToID: c.ChunkID})
		}
	}
	return result, edges
}
