// Package flowtable mirrors the forwarding state installed on the
// switches. The controller consults the mirror when a link changes to
// find the host pairs whose routes traverse it, so the mirror must
// track every flow mod that was actually written.
package flowtable

import (
	"slices"
	"sync"
)

// Pair identifies a directed host-to-host flow.
type Pair struct {
	Src int `json:"src"`
	Dst int `json:"dst"`
}

// Compare orders pairs by source then destination host.
func (p Pair) Compare(q Pair) int {
	if p.Src != q.Src {
		return p.Src - q.Src
	}
	return p.Dst - q.Dst
}

// Table records, per switch, the output port installed for each
// directed host pair. Entries are updated only after the
// corresponding flow mod was accepted by the connection, so the
// mirror never claims state a switch cannot have.
type Table struct {
	mu    sync.RWMutex
	flows map[int]map[Pair]int
}

func New() *Table {
	return &Table{flows: make(map[int]map[Pair]int)}
}

// Add records the entry for (src, dst) on dpid, replacing any
// previous output port for the same pair.
func (t *Table) Add(dpid, src, dst, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.flows[dpid]
	if !ok {
		entries = make(map[Pair]int)
		t.flows[dpid] = entries
	}
	entries[Pair{Src: src, Dst: dst}] = port
}

// Remove drops the entry for (src, dst) on dpid, if present.
func (t *Table) Remove(dpid, src, dst int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.flows[dpid]
	if !ok {
		return
	}
	delete(entries, Pair{Src: src, Dst: dst})
	if len(entries) == 0 {
		delete(t.flows, dpid)
	}
}

// RemoveSwitch drops every entry recorded for dpid. Used when a
// switch disconnects and its installed state is no longer known.
func (t *Table) RemoveSwitch(dpid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, dpid)
}

// PortFor reports the output port installed for (src, dst) on dpid.
func (t *Table) PortFor(dpid, src, dst int) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	port, ok := t.flows[dpid][Pair{Src: src, Dst: dst}]
	return port, ok
}

// EntriesOn returns every pair with an entry on dpid, sorted.
func (t *Table) EntriesOn(dpid int) []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pairs := make([]Pair, 0, len(t.flows[dpid]))
	for pair := range t.flows[dpid] {
		pairs = append(pairs, pair)
	}
	slices.SortFunc(pairs, Pair.Compare)
	return pairs
}

// EntriesVia returns the pairs on dpid whose entry outputs through
// port, sorted.
func (t *Table) EntriesVia(dpid, port int) []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var pairs []Pair
	for pair, out := range t.flows[dpid] {
		if out == port {
			pairs = append(pairs, pair)
		}
	}
	slices.SortFunc(pairs, Pair.Compare)
	return pairs
}

// Len reports the total number of entries across all switches.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, entries := range t.flows {
		n += len(entries)
	}
	return n
}

// Dump returns a copy of the table keyed by switch, for inspection.
func (t *Table) Dump() map[int]map[Pair]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]map[Pair]int, len(t.flows))
	for dpid, entries := range t.flows {
		copied := make(map[Pair]int, len(entries))
		for pair, port := range entries {
			copied[pair] = port
		}
		out[dpid] = copied
	}
	return out
}
