// Package parser converts watercooler markdown thread files into the
// Thread/Entry/Edge node model defined in internal/domain.
package parser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/watercooler-dev/wc-memory-go/internal/domain"
)

var (
	headerLineRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*):\s*(.*)$`)
	entryMarkerRe = regexp.MustCompile(`^Entry:\s*(\S+)\s+(.+)$`)
	legacyMarkerRe = regexp.MustCompile(`^-\s*Updated:\s*(.+?)\s+by\s+(\S+)\s*$`)
	entryIDCommentRe = regexp.MustCompile(`<!--\s*Entry-ID:\s*(\S+)\s*-->`)
)

// ParseThread parses a single markdown thread file.
//
// Malformed input never errors: an unreadable or empty file yields a Thread
// defaulted from the filename with zero entries, and a warning is logged.
func ParseThread(log *slog.Logger, path string) (domain.Thread, []domain.Entry, []domain.Edge, []domain.Hyperedge) {
	if log == nil {
		log = slog.Default()
	}
	topic := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("parser: read failed, defaulting thread", "path", path, "error", err)
		return defaultThread(topic), nil, nil, nil
	}
	return ParseThreadBytes(log, topic, data)
}

// ParseThreadBytes parses already-loaded file content for the given topic.
func ParseThreadBytes(log *slog.Logger, topic string, data []byte) (domain.Thread, []domain.Entry, []domain.Edge, []domain.Hyperedge) {
	if log == nil {
		log = slog.Default()
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		log.Warn("parser: empty thread file, defaulting thread", "topic", topic)
		return defaultThread(topic), nil, nil, nil
	}

	lines := strings.Split(string(data), "\n")
	th := defaultThread(topic)

	i := 0
	header := map[string]string{}
	for ; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			i++
			break
		}
		if m := headerLineRe.FindStringSubmatch(line); m != nil {
			header[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
		}
	}
	applyHeader(&th, header)

	entries := splitEntries(lines[i:])
	parsed := make([]domain.Entry, 0, len(entries))
	for idx, raw := range entries {
		e, err := parseEntry(topic, idx, raw)
		if err != nil {
			log.Warn("parser: skipping malformed entry", "topic", topic, "index", idx, "error", err)
			continue
		}
		parsed = append(parsed, e)
	}

	// Second pass: re-index contiguously, link preceding/following, collect IDs.
	edges := make([]domain.Edge, 0, len(parsed)*2)
	hyper := make([]domain.Hyperedge, 0, 1)
	entryIDs := make([]string, 0, len(parsed))
	for i := range parsed {
		parsed[i].Index = i
		parsed[i].SequenceIndex = i
		if i > 0 {
			parsed[i].PrecedingEntryID = parsed[i-1].EntryID
			edges = append(edges, domain.Edge{Kind: domain.EdgeFollows, FromID: parsed[i-1].EntryID, ToID: parsed[i].EntryID})
		}
		if i < len(parsed)-1 {
			parsed[i].FollowingEntryID = parsed[i+1].EntryID
		}
		edges = append(edges, domain.Edge{Kind: domain.EdgeContains, FromID: th.ThreadID, ToID: parsed[i].EntryID})
		entryIDs = append(entryIDs, parsed[i].EntryID)
	}
	th.EntryIDs = entryIDs
	if len(entryIDs) > 0 {
		hyper = append(hyper, domain.Hyperedge{Kind: domain.EdgeContains, FromID: th.ThreadID, ToIDs: entryIDs})
	}

	return th, parsed, edges, hyper
}

func defaultThread(topic string) domain.Thread {
	now := time.Time{}
	return domain.Thread{
		ThreadID:  topic,
		Title:     topic,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func applyHeader(th *domain.Thread, header map[string]string) {
	if v, ok := header["title"]; ok && v != "" {
		th.Title = v
	}
	if v, ok := header["status"]; ok && v != "" {
		th.Status = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := header["ball"]; ok {
		th.Ball = v
	}
	if v, ok := header["updated"]; ok {
		if ts, err := parseTimestamp(v); err == nil {
			th.UpdatedAt = ts
		}
	}
}

// splitEntries splits the body lines on "---" separators, returning the
// lines belonging to each entry block (the marker line plus its body).
func splitEntries(lines []string) [][]string {
	var blocks [][]string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, cur)
			cur = nil
		}
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

func parseEntry(topic string, idx int, block []string) (domain.Entry, error) {
	if len(block) == 0 {
		return domain.Entry{}, fmt.Errorf("empty entry block")
	}

	e := domain.Entry{ThreadID: topic, Index: idx}

	bodyStart := 0
	matched := false
	for i, line := range block {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := entryMarkerRe.FindStringSubmatch(trimmed); m != nil {
			e.Agent = m[1]
			if ts, err := parseTimestamp(m[2]); err == nil {
				e.Timestamp = ts
			}
			bodyStart = i + 1
			matched = true
			break
		}
		if m := legacyMarkerRe.FindStringSubmatch(trimmed); m != nil {
			e.Agent = m[2]
			if ts, err := parseTimestamp(m[1]); err == nil {
				e.Timestamp = ts
			}
			bodyStart = i + 1
			matched = true
			break
		}
		// Non-marker leading line: this block has no recognizable entry header.
		break
	}
	if !matched {
		return domain.Entry{}, fmt.Errorf("no Entry:/legacy marker found")
	}

	// Optional Role:/Type:/Title: lines immediately following the marker.
	for bodyStart < len(block) {
		trimmed := strings.TrimSpace(block[bodyStart])
		if trimmed == "" {
			bodyStart++
			break
		}
		if m := headerLineRe.FindStringSubmatch(trimmed); m != nil {
			switch strings.ToLower(m[1]) {
			case "role":
				e.Role = domain.Role(strings.ToLower(strings.TrimSpace(m[2])))
			case "type":
				e.EntryType = domain.EntryType(strings.TrimSpace(m[2]))
			case "title":
				e.Title = strings.TrimSpace(m[2])
			default:
				goto bodyLoop
			}
			bodyStart++
			continue
		}
	bodyLoop:
		break
	}

	body := strings.Join(block[bodyStart:], "\n")
	if m := entryIDCommentRe.FindStringSubmatch(body); m != nil {
		e.EntryID = m[1]
	} else {
		e.EntryID = fmt.Sprintf("%s:%d", topic, idx)
	}
	e.Body = strings.TrimSpace(body)
	return e, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05", "2006-01-02"}
	var lastErr error
	for _, f := range formats {
		if ts, err := time.Parse(f, s); err == nil {
			return ts, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// ParseThreads walks dir for *.md thread files, skipping names starting with
// "_" and "index.md". Failures on individual files are logged and skipped;
// the walk itself always returns the threads it could parse.
func ParseThreads(log *slog.Logger, dir string, filter func(name string) bool) ([]domain.Thread, map[string][]domain.Entry, []domain.Edge, []domain.Hyperedge, error) {
	if log == nil {
		log = slog.Default()
	}
	entriesByFile, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parser: read dir %s: %w", dir, err)
	}

	var threads []domain.Thread
	entryMap := make(map[string][]domain.Entry)
	var allEdges []domain.Edge
	var allHyper []domain.Hyperedge

	for _, de := range entriesByFile {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, "_") || name == "index.md" {
			continue
		}
		if filter != nil && !filter(name) {
			continue
		}

		path := filepath.Join(dir, name)
		th, entries, edges, hyper := ParseThread(log, path)
		threads = append(threads, th)
		entryMap[th.ThreadID] = entries
		allEdges = append(allEdges, edges...)
		allHyper = append(allHyper, hyper...)
	}

	return threads, entryMap, allEdges, allHyper, nil
}
