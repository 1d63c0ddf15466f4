package tiers

import (
	"encoding/json"
	"testing"
)

func TestTier_SpliceKeepsHoles(t *testing.T) {
	tr := newTier()
	tr.set(0, Entry{Title: "A"})
	tr.set(3, Entry{Title: "D"})

	tr.insert(1, Entry{Title: "B"})
	if tr.Len() != 5 {
		t.Fatalf("expected 5 slots, got %d", tr.Len())
	}
	if e, ok := tr.At(4); !ok || e.Title != "D" {
		t.Fatalf("expected D shifted to 4, got %#v", e)
	}
	if _, ok := tr.At(2); ok {
		t.Fatalf("expected hole to shift to 2")
	}

	if _, ok := tr.remove(2); ok {
		t.Fatalf("removing a hole should report no entry")
	}
	if tr.Len() != 4 {
		t.Fatalf("expected 4 slots after removing hole, got %d", tr.Len())
	}
	if e, ok := tr.At(3); !ok || e.Title != "D" {
		t.Fatalf("expected D at 3, got %#v", e)
	}
}

func TestTier_JSONNullPadding(t *testing.T) {
	tr := newTier()
	tr.set(2, Entry{Title: "C", ImageURL: "u", Source: "s"})

	b, err := json.Marshal(tr.padded())
	if err != nil {
		t.Fatal(err)
	}
	want := `[null,null,{"imageUrl":"u","title":"C","source":"s"}]`
	if string(b) != want {
		t.Fatalf("unexpected json.\nwant: %s\ngot:  %s", want, b)
	}

	var arr []*Entry
	if err := json.Unmarshal(b, &arr); err != nil {
		t.Fatal(err)
	}
	back := fromPadded(arr)
	if back.Len() != 3 || len(back.Slots()) != 1 {
		t.Fatalf("unexpected tier after round trip: len=%d slots=%#v", back.Len(), back.Slots())
	}
}
