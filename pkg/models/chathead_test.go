package models

import "testing"

func TestContextIDs(t *testing.T) {
	h := ChatHead{MessageIDs: []string{"a", "b", BoundaryMarker, "c", "d"}}
	got := h.ContextIDs()
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("context after boundary wrong: %v", got)
	}

	// no boundary means the whole chain is context
	h = ChatHead{MessageIDs: []string{"a", "b"}}
	got = h.ContextIDs()
	if len(got) != 2 || got[0] != "a" {
		t.Fatalf("full-chain context wrong: %v", got)
	}

	// trailing boundary empties the context
	h = ChatHead{MessageIDs: []string{"a", BoundaryMarker}}
	if got := h.ContextIDs(); len(got) != 0 {
		t.Fatalf("context after trailing boundary must be empty: %v", got)
	}

	// repeated boundaries: only the last one counts
	h = ChatHead{MessageIDs: []string{"a", BoundaryMarker, "b", BoundaryMarker, "c"}}
	got = h.ContextIDs()
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("last boundary must win: %v", got)
	}
}

func TestMessageRefs(t *testing.T) {
	h := ChatHead{MessageIDs: []string{"a", BoundaryMarker, "b"}}
	got := h.MessageRefs()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("refs must skip boundaries: %v", got)
	}
}

func TestSummaryStripsMessageIDs(t *testing.T) {
	h := ChatHead{ID: "x", Title: "t", MessageIDs: []string{"a"}}
	s := h.Summary()
	if s.MessageIDs != nil {
		t.Fatalf("summary must strip message ids")
	}
	if s.ID != "x" || s.Title != "t" {
		t.Fatalf("summary lost fields: %+v", s)
	}
	if len(h.MessageIDs) != 1 {
		t.Fatalf("summary must not mutate the head")
	}
}
