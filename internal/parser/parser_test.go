package parser

import "testing"

const sampleThread = `Title: Fix the flaky CI job
Status: Open
Ball: implementer
Updated: 2026-01-02T10:00:00Z

Entry: planner 2026-01-01T09:00:00Z
Role: planner
Type: Plan

Let's look into the flaky test first.
---
Entry: implementer 2026-01-02T10:00:00Z
Role: implementer
Type: Note

Found the race, fix incoming.
`

func TestParseThreadBytesHappyPath(t *testing.T) {
	th, entries, edges, hyper := ParseThreadBytes(nil, "alpha", []byte(sampleThread))

	if th.Title != "Fix the flaky CI job" {
		t.Errorf("title = %q", th.Title)
	}
	if th.Status != "open" {
		t.Errorf("status = %q, want normalized 'open'", th.Status)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Index != 0 || entries[1].Index != 1 {
		t.Errorf("entry indices not contiguous: %d, %d", entries[0].Index, entries[1].Index)
	}
	if entries[0].FollowingEntryID != entries[1].EntryID {
		t.Errorf("entries[0].FollowingEntryID = %q, want %q", entries[0].FollowingEntryID, entries[1].EntryID)
	}
	if entries[1].PrecedingEntryID != entries[0].EntryID {
		t.Errorf("entries[1].PrecedingEntryID = %q, want %q", entries[1].PrecedingEntryID, entries[0].EntryID)
	}

	var follows, contains int
	for _, e := range edges {
		switch e.Kind {
		case "FOLLOWS":
			follows++
		case "CONTAINS":
			contains++
		}
	}
	if follows != 1 {
		t.Errorf("FOLLOWS edges = %d, want 1", follows)
	}
	if contains != 2 {
		t.Errorf("CONTAINS edges = %d, want 2", contains)
	}
	if len(hyper) != 1 || len(hyper[0].ToIDs) != 2 {
		t.Errorf("hyperedge = %+v, want one hyperedge with 2 members", hyper)
	}
}

func TestParseThreadBytesEmpty(t *testing.T) {
	th, entries, edges, hyper := ParseThreadBytes(nil, "empty-topic", []byte("   \n\n  "))
	if th.ThreadID != "empty-topic" {
		t.Errorf("ThreadID = %q", th.ThreadID)
	}
	if len(entries) != 0 || len(edges) != 0 || len(hyper) != 0 {
		t.Errorf("expected no entries/edges/hyperedges for empty file, got %d/%d/%d", len(entries), len(edges), len(hyper))
	}
}

func TestParseThreadBytesSkipsMalformedEntry(t *testing.T) {
	data := `Title: T
Status: open

not an entry marker at all, just prose
---
Entry: implementer 2026-01-02T10:00:00Z

Valid body.
`
	_, entries, _, _ := ParseThreadBytes(nil, "mixed", []byte(data))
	if len(entries) != 1 {
		t.Fatalf("expected 1 valid entry after skipping malformed block, got %d", len(entries))
	}
	if entries[0].Index != 0 {
		t.Errorf("surviving entry should be re-indexed to 0, got %d", entries[0].Index)
	}
}
