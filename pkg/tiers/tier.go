package tiers

import "sort"

// Tier is an ordered sequence of slots stored sparsely: absent indices below
// Len are empty slots. Empty slots are never compacted implicitly.
type Tier struct {
	slots map[int]Entry
	n     int
}

func newTier() *Tier {
	return &Tier{slots: make(map[int]Entry)}
}

// Len is the number of slots, empty ones included.
func (t *Tier) Len() int { return t.n }

// At returns the entry at i; ok is false for empty or out of range slots.
func (t *Tier) At(i int) (Entry, bool) {
	e, ok := t.slots[i]
	return e, ok
}

// Slots returns the non-empty slots in order.
func (t *Tier) Slots() []Slot {
	idx := make([]int, 0, len(t.slots))
	for i := range t.slots {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]Slot, 0, len(idx))
	for _, i := range idx {
		out = append(out, Slot{Index: i, Entry: t.slots[i]})
	}
	return out
}

// set writes e at i, growing the tier with empty slots when i is past the end.
func (t *Tier) set(i int, e Entry) {
	t.slots[i] = e
	if i >= t.n {
		t.n = i + 1
	}
}

// insert splices e in at i, shifting slots at or after i right by one.
// i is clamped to Len.
func (t *Tier) insert(i int, e Entry) {
	if i > t.n {
		i = t.n
	}
	t.shift(i, +1)
	t.slots[i] = e
	t.n++
}

// remove splices out slot i, shifting later slots left by one.
func (t *Tier) remove(i int) (Entry, bool) {
	if i < 0 || i >= t.n {
		return Entry{}, false
	}
	e, ok := t.slots[i]
	delete(t.slots, i)
	t.shift(i+1, -1)
	t.n--
	return e, ok
}

// shift moves every occupied slot with index >= from by delta.
func (t *Tier) shift(from, delta int) {
	moved := make(map[int]Entry)
	for i, e := range t.slots {
		if i >= from {
			moved[i+delta] = e
			delete(t.slots, i)
		}
	}
	for i, e := range moved {
		t.slots[i] = e
	}
}

// padded is the persisted form: empty slots become nil.
func (t *Tier) padded() []*Entry {
	arr := make([]*Entry, t.n)
	for i, e := range t.slots {
		e := e
		arr[i] = &e
	}
	return arr
}

func fromPadded(arr []*Entry) *Tier {
	t := newTier()
	t.n = len(arr)
	for i, e := range arr {
		if e != nil {
			t.slots[i] = *e
		}
	}
	return t
}
