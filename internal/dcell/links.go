package dcell

// Switch port assignments. A host-switch uses port 1 for its host and
// port 2 for the mini switch of its DCell_0; the link joining two
// sub-cells at level l terminates on port l+2 at both ends. A mini
// switch numbers its host-facing ports 1..n in local-index order.
const (
	HostPort = 1
	MiniPort = 2
)

// LevelPort returns the host-switch port used by the inter-cell link at
// the given level (1..k).
func LevelPort(level int) int { return level + 2 }

// Link is a physical cable between two switches, held with the lower
// dpid first. Level 0 is a host-switch to mini-switch cable; levels
// 1..k are the inter-cell links.
type Link struct {
	LowDPID  int
	HighDPID int
	LowPort  int
	HighPort int
	Level    int
}

// SwitchLinks enumerates every switch-to-switch link in the topology:
// each host-switch to its mini switch, then the inter-cell links level
// by level.
func (t *Topology) SwitchLinks() []Link {
	links := make([]Link, 0, t.NumHosts()*(t.k+2)/2)

	for h := 1; h <= t.NumHosts(); h++ {
		links = append(links, Link{
			LowDPID:  h,
			HighDPID: t.MiniDPID(h),
			LowPort:  MiniPort,
			HighPort: (h-1)%t.n + 1,
			Level:    0,
		})
	}

	for level := 1; level <= t.k; level++ {
		cellHosts := t.hosts[level]
		for cell := 0; cell < t.NumHosts()/cellHosts; cell++ {
			prefix := t.TupleOf(cell*cellHosts + 1)[:t.k-level]
			for s := 0; s < t.cells[level]-1; s++ {
				for d := s + 1; d < t.cells[level]; d++ {
					a, b := t.MiddleLink(prefix, s, d)
					links = append(links, Link{
						LowDPID:  t.HostOf(a),
						HighDPID: t.HostOf(b),
						LowPort:  LevelPort(level),
						HighPort: LevelPort(level),
						Level:    level,
					})
				}
			}
		}
	}
	return links
}

// PortPeers returns a lookup from each (dpid, port) endpoint to the
// switch and port on the other end of the cable.
func (t *Topology) PortPeers() map[PortID]PortID {
	peers := make(map[PortID]PortID)
	for _, l := range t.SwitchLinks() {
		low := PortID{DPID: l.LowDPID, Port: l.LowPort}
		high := PortID{DPID: l.HighDPID, Port: l.HighPort}
		peers[low] = high
		peers[high] = low
	}
	return peers
}

// PortID names one end of a link.
type PortID struct {
	DPID int
	Port int
}
