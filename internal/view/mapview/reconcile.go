package mapview

import (
	"sort"
	"sync"
)

// Diff tells the map renderer what to create-or-update and what to remove.
type Diff struct {
	Upserts  []Marker `json:"upserts"`
	Removals []string `json:"removals"`
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Upserts) == 0 && len(d.Removals) == 0
}

// Reconcile upserts every present marker and removes every known id that is
// no longer present. Retained ids are sensors still in the snapshot without
// coordinates; their markers stay where they are.
func Reconcile(known map[string]struct{}, markers []Marker, retained []string) Diff {
	present := make(map[string]struct{}, len(markers)+len(retained))
	upserts := make([]Marker, 0, len(markers))
	for _, m := range markers {
		present[m.SensorID] = struct{}{}
		upserts = append(upserts, m)
	}
	for _, id := range retained {
		present[id] = struct{}{}
	}

	removals := []string{}
	for id := range known {
		if _, ok := present[id]; !ok {
			removals = append(removals, id)
		}
	}
	sort.Strings(removals)

	return Diff{Upserts: upserts, Removals: removals}
}

// Tracker remembers which markers a renderer currently shows.
type Tracker struct {
	mu    sync.Mutex
	known map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{known: make(map[string]struct{})}
}

// Apply reconciles markers against what is shown and records the new set.
func (t *Tracker) Apply(markers []Marker, retained []string) Diff {
	t.mu.Lock()
	defer t.mu.Unlock()

	diff := Reconcile(t.known, markers, retained)
	for _, id := range diff.Removals {
		delete(t.known, id)
	}
	for _, m := range diff.Upserts {
		t.known[m.SensorID] = struct{}{}
	}
	return diff
}

// Known returns the shown ids in ascending order.
func (t *Tracker) Known() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.known))
	for id := range t.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
