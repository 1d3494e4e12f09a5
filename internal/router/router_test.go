package router_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dfr/internal/dcell"
	"github.com/malbeclabs/dfr/internal/flowtable"
	"github.com/malbeclabs/dfr/internal/linkstate"
	"github.com/malbeclabs/dfr/internal/router"
)

type install struct {
	dpid, src, dst, port int
}

// mirror records installs in order and keeps a flow table so tests can
// walk the resulting forwarding state hop by hop.
type mirror struct {
	tbl      *flowtable.Table
	installs []install
	fail     error
}

func newMirror() *mirror {
	return &mirror{tbl: flowtable.New()}
}

func (m *mirror) Install(dpid, src, dst, port int) error {
	if m.fail != nil {
		return m.fail
	}
	m.installs = append(m.installs, install{dpid: dpid, src: src, dst: dst, port: port})
	m.tbl.Add(dpid, src, dst, port)
	return nil
}

func newRouter(t *testing.T, k, n int, links *linkstate.Set) (*router.Router, *mirror, *dcell.Topology) {
	t.Helper()
	topo, err := dcell.New(k, n)
	require.NoError(t, err)
	m := newMirror()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return router.New(log, topo, links, m), m, topo
}

// followPath walks the installed forwarding state from src's switch
// until the frame is delivered, returning the dpids visited.
func followPath(t *testing.T, topo *dcell.Topology, tbl *flowtable.Table, src, dst int) []int {
	t.Helper()
	peers := topo.PortPeers()
	path := []int{src}
	dpid := src
	for steps := 0; ; steps++ {
		require.Less(t, steps, 64, "forwarding loop between %d and %d", src, dst)
		port, ok := tbl.PortFor(dpid, src, dst)
		require.True(t, ok, "no entry on dpid %d for (%d,%d)", dpid, src, dst)
		if port == dcell.HostPort {
			require.Equal(t, dst, dpid, "delivered on the wrong switch")
			return path
		}
		peer, ok := peers[dcell.PortID{DPID: dpid, Port: port}]
		require.True(t, ok, "dpid %d port %d is not cabled", dpid, port)
		dpid = peer.DPID
		path = append(path, dpid)
	}
}

func requireAvoids(t *testing.T, path []int, a, b int) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		hop := linkstate.LinkBetween(path[i-1], path[i])
		require.NotEqual(t, linkstate.LinkBetween(a, b), hop, "path %v crosses broken link", path)
	}
}

func TestRouter_SameCellPair(t *testing.T) {
	t.Parallel()

	r, m, _ := newRouter(t, 1, 4, linkstate.New())
	require.NoError(t, r.Build(1, 2))

	// Hosts 1 and 2 are [0.0] and [0.1]; their mini switch is dpid 21.
	require.Equal(t, []install{
		{dpid: 21, src: 1, dst: 2, port: 2},
		{dpid: 21, src: 2, dst: 1, port: 1},
		{dpid: 1, src: 1, dst: 2, port: 2},
		{dpid: 2, src: 2, dst: 1, port: 2},
		{dpid: 2, src: 1, dst: 2, port: 1},
		{dpid: 1, src: 2, dst: 1, port: 1},
	}, m.installs)
}

func TestRouter_CrossCellPair(t *testing.T) {
	t.Parallel()

	r, m, topo := newRouter(t, 1, 4, linkstate.New())
	require.NoError(t, r.Build(1, 17))

	// Hosts 1 [0.0] and 17 [4.0] connect through the level-1 link
	// between hosts 4 [0.3] and 17, port 3 on both ends.
	require.Equal(t, []install{
		{dpid: 4, src: 1, dst: 17, port: 3},
		{dpid: 17, src: 17, dst: 1, port: 3},
		{dpid: 21, src: 1, dst: 17, port: 4},
		{dpid: 21, src: 17, dst: 1, port: 1},
		{dpid: 1, src: 1, dst: 17, port: 2},
		{dpid: 4, src: 17, dst: 1, port: 2},
		{dpid: 17, src: 1, dst: 17, port: 1},
		{dpid: 1, src: 17, dst: 1, port: 1},
	}, m.installs)

	require.Equal(t, []int{1, 21, 4, 17}, followPath(t, topo, m.tbl, 1, 17))
	require.Equal(t, []int{17, 4, 21, 1}, followPath(t, topo, m.tbl, 17, 1))
}

func TestRouter_AllPairsDeliver(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		k, n int
	}{
		{k: 0, n: 3},
		{k: 1, n: 3},
		{k: 1, n: 4},
		{k: 2, n: 2},
	} {
		t.Run(fmt.Sprintf("k=%d n=%d", tc.k, tc.n), func(t *testing.T) {
			t.Parallel()

			r, m, topo := newRouter(t, tc.k, tc.n, linkstate.New())
			for i := 1; i <= topo.NumHosts(); i++ {
				for j := i + 1; j <= topo.NumHosts(); j++ {
					require.NoError(t, r.Build(i, j))
				}
			}
			for i := 1; i <= topo.NumHosts(); i++ {
				for j := 1; j <= topo.NumHosts(); j++ {
					if i == j {
						continue
					}
					followPath(t, topo, m.tbl, i, j)
				}
			}
		})
	}
}

func TestRouter_DetourAroundBrokenLink(t *testing.T) {
	t.Parallel()

	links := linkstate.New()
	links.MarkDown(4, 17)

	r, m, topo := newRouter(t, 1, 4, links)
	require.NoError(t, r.Build(1, 17))

	// The direct link between cells 0 and 4 is down, so the route
	// detours through cell 1.
	path := followPath(t, topo, m.tbl, 1, 17)
	require.Equal(t, []int{1, 5, 22, 8, 18, 25, 17}, path)
	requireAvoids(t, path, 4, 17)

	back := followPath(t, topo, m.tbl, 17, 1)
	require.Equal(t, []int{17, 25, 18, 8, 22, 5, 1}, back)
	requireAvoids(t, back, 4, 17)
}

func TestRouter_NoProxyAbandons(t *testing.T) {
	t.Parallel()

	links := linkstate.New()
	links.MarkDown(2, 5) // cells 0-2
	links.MarkDown(1, 3) // cells 0-1

	r, m, _ := newRouter(t, 1, 2, links)
	require.NoError(t, r.Build(1, 5))

	// Every level-1 link out of cell 0 is down; only the delivery
	// legs are written and the pair stays black-holed.
	require.Equal(t, []install{
		{dpid: 5, src: 1, dst: 5, port: 1},
		{dpid: 1, src: 5, dst: 1, port: 1},
	}, m.installs)
	_, ok := m.tbl.PortFor(1, 1, 5)
	require.False(t, ok)
}

func TestRouter_RackFailureAbandons(t *testing.T) {
	t.Parallel()

	links := linkstate.New()
	links.MarkDown(1, 13) // host 1 to its mini switch

	r, m, _ := newRouter(t, 1, 3, links)
	require.NoError(t, r.Build(1, 2))

	require.Equal(t, []install{
		{dpid: 2, src: 1, dst: 2, port: 1},
		{dpid: 1, src: 2, dst: 1, port: 1},
	}, m.installs)
}

func TestRouter_SelfPairIsNoop(t *testing.T) {
	t.Parallel()

	r, m, _ := newRouter(t, 1, 3, linkstate.New())
	require.NoError(t, r.Build(5, 5))
	require.Empty(t, m.installs)
}

func TestRouter_WriteErrorPropagates(t *testing.T) {
	t.Parallel()

	r, m, _ := newRouter(t, 1, 3, linkstate.New())
	sentinel := errors.New("session gone")
	m.fail = sentinel

	require.ErrorIs(t, r.Build(1, 2), sentinel)
	require.Empty(t, m.installs)
}

func TestRouter_RebuildReroutesAroundFailure(t *testing.T) {
	t.Parallel()

	links := linkstate.New()
	r, m, topo := newRouter(t, 1, 4, links)

	require.NoError(t, r.Build(1, 17))
	require.Equal(t, []int{1, 21, 4, 17}, followPath(t, topo, m.tbl, 1, 17))

	// Rebuilding after a failure replaces the entries along the new
	// path; stale entries elsewhere are unreachable from the source.
	links.MarkDown(4, 17)
	require.NoError(t, r.Build(1, 17))

	path := followPath(t, topo, m.tbl, 1, 17)
	requireAvoids(t, path, 4, 17)
	requireAvoids(t, followPath(t, topo, m.tbl, 17, 1), 4, 17)
}