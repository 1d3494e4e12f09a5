// Package dcell implements the DCell addressing algebra: the geometry
// derived from the (k, n) parameters, the bijection between linear host
// IDs and (k+1)-digit tuple coordinates, and the canonical links that
// join sub-cells at each level.
package dcell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidLevel    = errors.New("dcell: level must be >= 0")
	ErrInvalidCellSize = errors.New("dcell: cell size must be >= 2")
)

// Tuple is the coordinate of a host inside a DCell, most significant
// digit first. A full coordinate in a DCell_k has k+1 digits.
type Tuple []int

// Equal reports whether two tuples have the same digits.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the digits joined by dots, e.g. "3.2".
func (t Tuple) String() string {
	digits := make([]string, len(t))
	for i, d := range t {
		digits[i] = strconv.Itoa(d)
	}
	return strings.Join(digits, ".")
}

// CommonPrefix returns the longest shared prefix of two tuples as a new
// tuple.
func CommonPrefix(a, b Tuple) Tuple {
	n := min(len(a), len(b))
	p := make(Tuple, 0, n)
	for i := 0; i < n && a[i] == b[i]; i++ {
		p = append(p, a[i])
	}
	return p
}

// Topology holds the derived geometry of a DCell_k built from cells of
// n hosts. Hosts are numbered 1..NumHosts. The switch carrying host h
// has dpid h; the mini switches of the DCell_0 cells follow with dpids
// NumHosts+1..NumSwitches, in cell order.
type Topology struct {
	k     int
	n     int
	hosts []int // hosts[i]: number of hosts in a DCell_i
	cells []int // cells[i]: number of DCell_(i-1) cells in a DCell_i
}

// New derives the geometry for a DCell_k with n hosts per DCell_0.
func New(k, n int) (*Topology, error) {
	if k < 0 {
		return nil, ErrInvalidLevel
	}
	if n < 2 {
		return nil, ErrInvalidCellSize
	}
	hosts := make([]int, k+1)
	cells := make([]int, k+1)
	hosts[0], cells[0] = n, 1
	for i := 1; i <= k; i++ {
		cells[i] = hosts[i-1] + 1
		hosts[i] = cells[i] * hosts[i-1]
	}
	return &Topology{k: k, n: n, hosts: hosts, cells: cells}, nil
}

func (t *Topology) K() int { return t.k }
func (t *Topology) N() int { return t.n }

// NumHosts returns the number of hosts in the full DCell_k.
func (t *Topology) NumHosts() int { return t.hosts[t.k] }

// NumMiniSwitches returns the number of DCell_0 cells, one mini switch
// each.
func (t *Topology) NumMiniSwitches() int { return t.hosts[t.k] / t.n }

// NumSwitches returns the total switch count: one per host plus one
// mini switch per DCell_0.
func (t *Topology) NumSwitches() int { return t.NumHosts() + t.NumMiniSwitches() }

// HostsAt returns the number of hosts in a single DCell_level.
func (t *Topology) HostsAt(level int) int { return t.hosts[level] }

// CellsAt returns the number of DCell_(level-1) cells that make up a
// DCell_level.
func (t *Topology) CellsAt(level int) int { return t.cells[level] }

// TupleOf converts a host id in [1, NumHosts] to its full (k+1)-digit
// coordinate.
func (t *Topology) TupleOf(host int) Tuple { return t.TupleAt(host, t.k) }

// TupleAt converts a host id, counted within a single DCell_level, to
// its (level+1)-digit coordinate. The id is 1-indexed.
func (t *Topology) TupleAt(host, level int) Tuple {
	tu := make(Tuple, level+1)
	h := host - 1
	for i := 0; i < level; i++ {
		tu[i] = h / t.hosts[level-i-1]
		h %= t.hosts[level-i-1]
	}
	tu[level] = h % t.n
	return tu
}

// HostOf is the inverse of TupleOf: it folds a coordinate back into a
// 1-indexed host id.
func (t *Topology) HostOf(tu Tuple) int {
	id := tu[len(tu)-1]
	mul := t.n
	for i := len(tu) - 2; i >= 0; i-- {
		id += tu[i] * mul
		mul *= mul + 1
	}
	return id + 1
}

// MiniDPID returns the dpid of the mini switch in the DCell_0 that
// contains the given host.
func (t *Topology) MiniDPID(host int) int {
	return t.NumHosts() + 1 + (host-1)/t.n
}

// MiddleLink returns the coordinates of the two hosts joined by the
// canonical link between sub-cells s and d of the DCell identified by
// prefix. The first return value lies in sub-cell s, the second in
// sub-cell d. MiddleLink(p, s, d) and MiddleLink(p, d, s) return the
// same pair swapped.
func (t *Topology) MiddleLink(prefix Tuple, s, d int) (Tuple, Tuple) {
	swapped := s > d
	if swapped {
		s, d = d, s
	}
	suffixLevel := t.k - len(prefix) - 1
	src := joinTuple(prefix, s, t.TupleAt(d, suffixLevel))
	dst := joinTuple(prefix, d, t.TupleAt(s+1, suffixLevel))
	if swapped {
		src, dst = dst, src
	}
	return src, dst
}

func joinTuple(prefix Tuple, digit int, suffix Tuple) Tuple {
	tu := make(Tuple, 0, len(prefix)+1+len(suffix))
	tu = append(tu, prefix...)
	tu = append(tu, digit)
	tu = append(tu, suffix...)
	return tu
}

// Validate checks that a tuple is a well-formed full coordinate for
// this geometry.
func (t *Topology) Validate(tu Tuple) error {
	if len(tu) != t.k+1 {
		return fmt.Errorf("dcell: tuple %v has %d digits, want %d", tu, len(tu), t.k+1)
	}
	for i, d := range tu {
		limit := t.n
		if i < t.k {
			limit = t.cells[t.k-i]
		}
		if d < 0 || d >= limit {
			return fmt.Errorf("dcell: tuple %v digit %d out of range [0,%d)", tu, i, limit)
		}
	}
	return nil
}
