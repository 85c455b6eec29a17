package patcher

import (
	"testing"

	"github.com/l1nkz/rpatchur/gruf/thor"
)

func TestFilterAlreadyApplied(t *testing.T) {
	list := thor.PatchList{
		{Index: 1, FileName: "a.thor"},
		{Index: 2, FileName: "b.thor"},
		{Index: 3, FileName: "c.thor"},
	}

	filtered := filterAlreadyApplied(list, 2)
	if len(filtered) != 1 || filtered[0].Index != 3 {
		t.Fatalf("filterAlreadyApplied(list, 2) = %+v", filtered)
	}

	// An index absent from the list leaves it untouched: it likely means
	// the list was regenerated rather than that everything is done.
	unchanged := filterAlreadyApplied(list, 99)
	if len(unchanged) != len(list) {
		t.Fatalf("filterAlreadyApplied with an unknown index should not filter: got %+v", unchanged)
	}
}
