package dcell_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dfr/internal/dcell"
)

func TestDCell_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := dcell.New(-1, 3)
	require.ErrorIs(t, err, dcell.ErrInvalidLevel)

	_, err = dcell.New(1, 1)
	require.ErrorIs(t, err, dcell.ErrInvalidCellSize)

	_, err = dcell.New(0, 2)
	require.NoError(t, err)
}

func TestDCell_Geometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		k, n     int
		hosts    int
		minis    int
		switches int
	}{
		{k: 0, n: 2, hosts: 2, minis: 1, switches: 3},
		{k: 0, n: 3, hosts: 3, minis: 1, switches: 4},
		{k: 1, n: 2, hosts: 6, minis: 3, switches: 9},
		{k: 1, n: 3, hosts: 12, minis: 4, switches: 16},
		{k: 1, n: 4, hosts: 20, minis: 5, switches: 25},
		{k: 2, n: 2, hosts: 42, minis: 21, switches: 63},
		{k: 2, n: 3, hosts: 156, minis: 52, switches: 208},
		{k: 3, n: 2, hosts: 1806, minis: 903, switches: 2709},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%d,n=%d", tt.k, tt.n), func(t *testing.T) {
			t.Parallel()

			topo, err := dcell.New(tt.k, tt.n)
			require.NoError(t, err)
			require.Equal(t, tt.hosts, topo.NumHosts())
			require.Equal(t, tt.minis, topo.NumMiniSwitches())
			require.Equal(t, tt.switches, topo.NumSwitches())
		})
	}
}

func TestDCell_TupleValues(t *testing.T) {
	t.Parallel()

	topo, err := dcell.New(1, 3)
	require.NoError(t, err)

	require.Equal(t, dcell.Tuple{0, 0}, topo.TupleOf(1))
	require.Equal(t, dcell.Tuple{1, 0}, topo.TupleOf(4))
	require.Equal(t, dcell.Tuple{1, 1}, topo.TupleOf(5))
	require.Equal(t, dcell.Tuple{3, 2}, topo.TupleOf(12))

	require.Equal(t, 8, topo.HostOf(dcell.Tuple{2, 1}))
	require.Equal(t, 1, topo.HostOf(dcell.Tuple{0, 0}))
	require.Equal(t, 12, topo.HostOf(dcell.Tuple{3, 2}))
}

func TestDCell_TupleRoundTrip(t *testing.T) {
	t.Parallel()

	for k := 0; k <= 3; k++ {
		for n := 2; n <= 4; n++ {
			t.Run(fmt.Sprintf("k=%d,n=%d", k, n), func(t *testing.T) {
				t.Parallel()

				topo, err := dcell.New(k, n)
				require.NoError(t, err)
				for h := 1; h <= topo.NumHosts(); h++ {
					tu := topo.TupleOf(h)
					require.NoError(t, topo.Validate(tu))
					require.Equal(t, h, topo.HostOf(tu), "tuple %v", tu)
				}
			})
		}
	}
}

func TestDCell_CommonPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b dcell.Tuple
		want dcell.Tuple
	}{
		{name: "disjoint", a: dcell.Tuple{0, 1}, b: dcell.Tuple{1, 1}, want: dcell.Tuple{}},
		{name: "partial", a: dcell.Tuple{2, 0, 1}, b: dcell.Tuple{2, 1, 1}, want: dcell.Tuple{2}},
		{name: "full", a: dcell.Tuple{1, 2}, b: dcell.Tuple{1, 2}, want: dcell.Tuple{1, 2}},
		{name: "same cell", a: dcell.Tuple{3, 0}, b: dcell.Tuple{3, 2}, want: dcell.Tuple{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, dcell.CommonPrefix(tt.a, tt.b))
		})
	}
}

func TestDCell_MiniDPID(t *testing.T) {
	t.Parallel()

	topo, err := dcell.New(1, 3)
	require.NoError(t, err)
	require.Equal(t, 13, topo.MiniDPID(1))
	require.Equal(t, 13, topo.MiniDPID(3))
	require.Equal(t, 14, topo.MiniDPID(4))
	require.Equal(t, 16, topo.MiniDPID(12))

	topo, err = dcell.New(1, 4)
	require.NoError(t, err)
	require.Equal(t, 22, topo.MiniDPID(5))
	require.Equal(t, 25, topo.MiniDPID(17))
}

func TestDCell_MiddleLink(t *testing.T) {
	t.Parallel()

	t.Run("known endpoints", func(t *testing.T) {
		t.Parallel()

		topo, err := dcell.New(1, 4)
		require.NoError(t, err)

		src, dst := topo.MiddleLink(dcell.Tuple{}, 0, 4)
		require.Equal(t, dcell.Tuple{0, 3}, src)
		require.Equal(t, dcell.Tuple{4, 0}, dst)
		require.Equal(t, 4, topo.HostOf(src))
		require.Equal(t, 17, topo.HostOf(dst))

		src, dst = topo.MiddleLink(dcell.Tuple{}, 0, 1)
		require.Equal(t, dcell.Tuple{0, 0}, src)
		require.Equal(t, dcell.Tuple{1, 0}, dst)
	})

	t.Run("symmetry", func(t *testing.T) {
		t.Parallel()

		for _, geo := range []struct{ k, n int }{{1, 3}, {1, 4}, {2, 2}, {2, 3}} {
			topo, err := dcell.New(geo.k, geo.n)
			require.NoError(t, err)
			for level := 1; level <= geo.k; level++ {
				cellHosts := topo.HostsAt(level)
				for cell := 0; cell < topo.NumHosts()/cellHosts; cell++ {
					prefix := topo.TupleOf(cell*cellHosts + 1)[:geo.k-level]
					for s := 0; s < topo.CellsAt(level); s++ {
						for d := 0; d < topo.CellsAt(level); d++ {
							if s == d {
								continue
							}
							a1, b1 := topo.MiddleLink(prefix, s, d)
							b2, a2 := topo.MiddleLink(prefix, d, s)
							require.Equal(t, a1, a2)
							require.Equal(t, b1, b2)
						}
					}
				}
			}
		}
	})
}

func TestDCell_SwitchLinks(t *testing.T) {
	t.Parallel()

	t.Run("counts and uniqueness", func(t *testing.T) {
		t.Parallel()

		topo, err := dcell.New(1, 3)
		require.NoError(t, err)
		links := topo.SwitchLinks()

		// 12 host-to-mini cables plus one link per pair of the 4 cells.
		require.Len(t, links, 12+6)

		seen := make(map[dcell.PortID]struct{})
		for _, l := range links {
			require.Less(t, l.LowDPID, l.HighDPID)
			for _, end := range []dcell.PortID{
				{DPID: l.LowDPID, Port: l.LowPort},
				{DPID: l.HighDPID, Port: l.HighPort},
			} {
				_, dup := seen[end]
				require.False(t, dup, "port %v used twice", end)
				seen[end] = struct{}{}
			}
		}
	})

	t.Run("known link endpoints", func(t *testing.T) {
		t.Parallel()

		topo, err := dcell.New(1, 4)
		require.NoError(t, err)

		var found bool
		for _, l := range topo.SwitchLinks() {
			if l.LowDPID == 4 && l.HighDPID == 17 {
				found = true
				require.Equal(t, 3, l.LowPort)
				require.Equal(t, 3, l.HighPort)
				require.Equal(t, 1, l.Level)
			}
		}
		require.True(t, found, "level-1 link between dpids 4 and 17 not enumerated")
	})

	t.Run("port peers are symmetric", func(t *testing.T) {
		t.Parallel()

		topo, err := dcell.New(2, 2)
		require.NoError(t, err)
		peers := topo.PortPeers()
		for end, peer := range peers {
			require.Equal(t, end, peers[peer])
		}

		// Every host-switch carries its host port plus k+1 uplinks; every
		// mini switch carries n host-switch ports.
		wantEnds := topo.NumHosts()*(topo.K()+1) + topo.NumMiniSwitches()*topo.N()
		require.Len(t, peers, wantEnds)
	})
}
