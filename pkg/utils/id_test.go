package utils

import (
	"sort"
	"testing"
)

func TestNewIDSortableAndUnique(t *testing.T) {
	const n = 1000
	ids := make([]string, n)
	seen := map[string]struct{}{}
	for i := range ids {
		ids[i] = NewID()
		if _, dup := seen[ids[i]]; dup {
			t.Fatalf("duplicate id %s", ids[i])
		}
		seen[ids[i]] = struct{}{}
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids generated in sequence must sort in creation order")
	}
	if len(ids[0]) != 26 {
		t.Fatalf("unexpected id length %d", len(ids[0]))
	}
}
