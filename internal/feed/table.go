package feed

import (
	"github.com/akaris/globetrack/internal/units"
)

// Table is an insertion-ordered unit table. IDs are unique at any instant
// and the table never grows past its configured maximum: inserting beyond
// the cap evicts the oldest-inserted entries first. The owning feed is the
// only writer; readers get snapshot copies.
type Table struct {
	entries []*units.Unit
	index   map[string]int
	max     int
}

// NewTable creates an empty table capped at max units (0 = unlimited).
func NewTable(max int) *Table {
	return &Table{
		index: make(map[string]int),
		max:   max,
	}
}

// Len returns the number of units currently in the table.
func (t *Table) Len() int { return len(t.entries) }

// Get returns the unit with the given id, if present.
func (t *Table) Get(id string) (*units.Unit, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.entries[i], true
}

// Upsert inserts or replaces a unit, returning the deltas that describe
// what happened (including any eviction forced by the cap). Updates keep
// the unit's insertion position so eviction order stays stable.
func (t *Table) Upsert(u *units.Unit) []units.Delta {
	if i, ok := t.index[u.ID]; ok {
		t.entries[i] = u
		return []units.Delta{{Type: "updated", ID: u.ID, Unit: u}}
	}

	var deltas []units.Delta
	for t.max > 0 && len(t.entries) >= t.max {
		oldest := t.entries[0]
		t.removeAt(0)
		deltas = append(deltas, units.Delta{Type: "removed", ID: oldest.ID})
	}

	t.index[u.ID] = len(t.entries)
	t.entries = append(t.entries, u)
	deltas = append(deltas, units.Delta{Type: "added", ID: u.ID, Unit: u})
	return deltas
}

// Remove deletes a unit by id.
func (t *Table) Remove(id string) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	t.removeAt(i)
	return true
}

func (t *Table) removeAt(i int) {
	delete(t.index, t.entries[i].ID)
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].ID] = j
	}
}

// Reset clears the table wholesale.
func (t *Table) Reset() {
	t.entries = t.entries[:0]
	t.index = make(map[string]int)
}

// SetMax changes the cap. Existing overflow is evicted oldest-first and
// returned as removal deltas.
func (t *Table) SetMax(max int) []units.Delta {
	t.max = max
	var deltas []units.Delta
	for t.max > 0 && len(t.entries) > t.max {
		oldest := t.entries[0]
		t.removeAt(0)
		deltas = append(deltas, units.Delta{Type: "removed", ID: oldest.ID})
	}
	return deltas
}

// ForEach visits units in insertion order. The callback may mutate the
// units in place but must not add or remove entries.
func (t *Table) ForEach(fn func(*units.Unit)) {
	for _, u := range t.entries {
		fn(u)
	}
}

// IDs returns the unit ids in insertion order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.entries))
	for i, u := range t.entries {
		ids[i] = u.ID
	}
	return ids
}

// Snapshot returns value copies of all units in insertion order, safe to
// hand to readers on other goroutines.
func (t *Table) Snapshot() []*units.Unit {
	out := make([]*units.Unit, len(t.entries))
	for i, u := range t.entries {
		cp := *u
		out[i] = &cp
	}
	return out
}
