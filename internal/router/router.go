// Package router computes DCell routes and installs them on the
// switches through a FlowWriter. A route between two sub-cells runs
// through the single link joining them; when that link is marked down
// the route detours through a neighbor sub-cell instead, which is the
// fault-tolerant part of the scheme.
package router

import (
	"log/slog"

	"github.com/malbeclabs/dfr/internal/dcell"
)

// FlowWriter installs one forwarding entry: frames from host src to
// host dst leave switch dpid through port. Installing replaces any
// previous entry for the same pair on the same switch.
type FlowWriter interface {
	Install(dpid, src, dst, port int) error
}

// BadLinks is the view of link health consulted while routing.
type BadLinks interface {
	IsBad(a, b int) bool
}

// Router turns host pairs into forwarding entries.
type Router struct {
	log   *slog.Logger
	topo  *dcell.Topology
	links BadLinks
	flows FlowWriter
}

func New(log *slog.Logger, topo *dcell.Topology, links BadLinks, flows FlowWriter) *Router {
	return &Router{log: log, topo: topo, links: links, flows: flows}
}

// Build installs the entries carrying traffic between src and dst, in
// both directions. A pair that cannot be routed around a failure is
// logged and left unrouted until a link recovery triggers a rebuild.
// The returned error is always a switch write failure.
func (r *Router) Build(src, dst int) error {
	if src == dst {
		return nil
	}
	if err := r.route(r.topo.TupleOf(src), r.topo.TupleOf(dst), src, dst); err != nil {
		return err
	}

	// Delivery legs: the final switch hands the frame to its host.
	if err := r.flows.Install(dst, src, dst, dcell.HostPort); err != nil {
		return err
	}
	return r.flows.Install(src, dst, src, dcell.HostPort)
}

func (r *Router) route(a, b dcell.Tuple, src, dst int) error {
	if a.Equal(b) {
		return nil
	}

	prefix := dcell.CommonPrefix(a, b)
	level := len(prefix)
	if level == r.topo.K() {
		return r.routeCell(a, b, src, dst)
	}

	mSrc, mDst := r.topo.MiddleLink(prefix, a[level], b[level])
	if r.links.IsBad(r.topo.HostOf(mSrc), r.topo.HostOf(mDst)) {
		proxy := r.selectProxy(a, b, prefix)
		if proxy == nil {
			noProxy.Inc()
			r.log.Warn("no proxy node around broken link", "src", a, "dst", b)
			return nil
		}
		proxyDetours.Inc()
		r.log.Debug("routing through proxy", "src", a, "dst", b, "proxy", proxy)
		if err := r.route(a, proxy, src, dst); err != nil {
			return err
		}
		return r.route(proxy, b, src, dst)
	}

	port := dcell.LevelPort(r.topo.K() - level)
	if err := r.flows.Install(r.topo.HostOf(mSrc), src, dst, port); err != nil {
		return err
	}
	if err := r.flows.Install(r.topo.HostOf(mDst), dst, src, port); err != nil {
		return err
	}

	if err := r.route(a, mSrc, src, dst); err != nil {
		return err
	}
	return r.route(mDst, b, src, dst)
}

// routeCell wires two hosts of the same DCell_0 through its mini
// switch. There is no detour inside a cell, so a dead mini link is a
// rack failure the scheme cannot route around.
func (r *Router) routeCell(a, b dcell.Tuple, src, dst int) error {
	hostA, hostB := r.topo.HostOf(a), r.topo.HostOf(b)
	mini := r.topo.MiniDPID(hostA)
	if r.links.IsBad(mini, hostA) || r.links.IsBad(mini, hostB) {
		rackFailures.Inc()
		r.log.Error("cannot handle rack failure", "mini", mini, "src", a, "dst", b)
		return nil
	}

	last := r.topo.K()
	if err := r.flows.Install(mini, src, dst, b[last]+1); err != nil {
		return err
	}
	if err := r.flows.Install(mini, dst, src, a[last]+1); err != nil {
		return err
	}
	if err := r.flows.Install(hostA, src, dst, dcell.MiniPort); err != nil {
		return err
	}
	return r.flows.Install(hostB, dst, src, dcell.MiniPort)
}

// selectProxy scans the neighbor sub-cells of a, nearest index first,
// for one reachable over a healthy link. It returns the entry host of
// the chosen sub-cell, or nil when every candidate link is down.
func (r *Router) selectProxy(a, b, prefix dcell.Tuple) dcell.Tuple {
	level := len(prefix)
	cells := r.topo.CellsAt(r.topo.K() - level)
	for i := 1; i < cells; i++ {
		idx := (a[level] + i) % cells
		if idx == b[level] {
			continue
		}
		mSrc, mDst := r.topo.MiddleLink(prefix, a[level], idx)
		if r.links.IsBad(r.topo.HostOf(mSrc), r.topo.HostOf(mDst)) {
			continue
		}
		return mDst
	}
	return nil
}
