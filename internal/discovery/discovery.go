// Package discovery probes link liveness. Every probe interval the
// prober injects an LLDP frame into each port of every cabled link;
// frames arriving back as packet-ins refresh that link's entry in a
// TTL table. An entry appearing raises a link up event, an entry
// expiring (or being deleted on a port status report) raises a link
// down event.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/dfr/internal/dcell"
	"github.com/malbeclabs/dfr/internal/linkstate"
	"github.com/malbeclabs/dfr/internal/openflow"
)

// PacketSender injects a frame into the network through a connected
// switch.
type PacketSender interface {
	SendPacketOut(dpid int, msg *openflow.PacketOut) error
}

// LinkEvent reports one observed link transition.
type LinkEvent struct {
	Link dcell.Link
	Up   bool
}

type Config struct {
	Clock         clockwork.Clock
	Topology      *dcell.Topology
	Sender        PacketSender
	ProbeInterval time.Duration
	LinkTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Clock == nil {
		return errors.New("clock is required")
	}
	if cfg.Topology == nil {
		return errors.New("topology is required")
	}
	if cfg.Sender == nil {
		return errors.New("packet sender is required")
	}
	if cfg.ProbeInterval <= 0 {
		return errors.New("probe interval must be greater than 0")
	}
	if cfg.LinkTimeout <= cfg.ProbeInterval {
		return errors.New("link timeout must be greater than the probe interval")
	}
	return nil
}

// Prober owns the liveness table for every cabled link of the
// topology.
type Prober struct {
	log    *slog.Logger
	cfg    *Config
	cache  *ttlcache.Cache[linkstate.Link, dcell.Link]
	expect map[linkstate.Link]dcell.Link
	byEnd  map[dcell.PortID]linkstate.Link
	events chan LinkEvent
}

func NewProber(log *slog.Logger, cfg *Config) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	expect := make(map[linkstate.Link]dcell.Link)
	byEnd := make(map[dcell.PortID]linkstate.Link)
	for _, l := range cfg.Topology.SwitchLinks() {
		key := linkstate.LinkBetween(l.LowDPID, l.HighDPID)
		expect[key] = l
		byEnd[dcell.PortID{DPID: l.LowDPID, Port: l.LowPort}] = key
		byEnd[dcell.PortID{DPID: l.HighDPID, Port: l.HighPort}] = key
	}

	p := &Prober{
		log:    log,
		cfg:    cfg,
		expect: expect,
		byEnd:  byEnd,
		// Sized so a full sweep of transitions cannot block the
		// expiry goroutine while the loop drains.
		events: make(chan LinkEvent, 4*len(expect)),
	}
	p.cache = ttlcache.New(
		ttlcache.WithTTL[linkstate.Link, dcell.Link](cfg.LinkTimeout),
		ttlcache.WithDisableTouchOnHit[linkstate.Link, dcell.Link](),
	)
	p.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[linkstate.Link, dcell.Link]) {
		p.events <- LinkEvent{Link: item.Value(), Up: false}
	})
	return p, nil
}

// Events returns the stream of link transitions.
func (p *Prober) Events() <-chan LinkEvent { return p.events }

// Live returns the links with an unexpired sighting, sorted by
// endpoints.
func (p *Prober) Live() []dcell.Link {
	items := p.cache.Items()
	live := make([]dcell.Link, 0, len(items))
	for _, item := range items {
		live = append(live, item.Value())
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].LowDPID != live[j].LowDPID {
			return live[i].LowDPID < live[j].LowDPID
		}
		return live[i].HighDPID < live[j].HighDPID
	})
	return live
}

// Run sweeps every link end each probe interval and drives the TTL
// expiry that turns missed sightings into down events. It returns when
// ctx is canceled.
func (p *Prober) Run(ctx context.Context) error {
	go p.cache.Start()
	defer p.cache.Stop()

	ticker := p.cfg.Clock.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			p.sweep()
		}
	}
}

func (p *Prober) sweep() {
	for _, l := range p.expect {
		p.probe(l.LowDPID, l.LowPort)
		p.probe(l.HighDPID, l.HighPort)
	}
}

func (p *Prober) probe(dpid, port int) {
	frame, err := marshalProbe(dpid, port, p.cfg.LinkTimeout)
	if err != nil {
		p.log.Error("marshaling probe", "dpid", dpid, "port", port, "error", err)
		return
	}
	msg := openflow.NewPacketOut(openflow.PortNone, uint16(port), frame)
	if err := p.cfg.Sender.SendPacketOut(dpid, msg); err != nil {
		// Expected while switches are still connecting.
		probeErrors.Inc()
		p.log.Debug("sending probe", "dpid", dpid, "port", port, "error", err)
		return
	}
	probesSent.Inc()
}

// HandlePacketIn consumes a punted frame if it is a discovery probe,
// refreshing the liveness entry for the cable it crossed. It reports
// whether the frame was consumed.
func (p *Prober) HandlePacketIn(dpid, inPort int, frame []byte) bool {
	sender, senderPort, ok := parseProbe(frame)
	if !ok {
		return false
	}

	key := linkstate.LinkBetween(sender, dpid)
	link, expected := p.expect[key]
	if !expected ||
		p.byEnd[dcell.PortID{DPID: sender, Port: senderPort}] != key ||
		p.byEnd[dcell.PortID{DPID: dpid, Port: inPort}] != key {
		unknownLinks.Inc()
		p.log.Warn("probe crossed an unexpected cable",
			"from", sender, "from_port", senderPort, "to", dpid, "to_port", inPort)
		return true
	}

	fresh := !p.cache.Has(key)
	p.cache.Set(key, link, ttlcache.DefaultTTL)
	if fresh {
		p.events <- LinkEvent{Link: link, Up: true}
	}
	return true
}

// HandlePortStatus turns a reported dead port into an immediate link
// down instead of waiting out the TTL.
func (p *Prober) HandlePortStatus(dpid int, ps *openflow.PortStatus) {
	if ps.Reason != openflow.PortReasonDelete && !ps.LinkDown() {
		return
	}
	key, ok := p.byEnd[dcell.PortID{DPID: dpid, Port: int(ps.Port.PortNo)}]
	if !ok {
		return
	}
	// Delete fires the eviction callback only if the link was live.
	p.cache.Delete(key)
}
