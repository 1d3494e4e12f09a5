// Package controller runs the control plane: it owns the switch
// connections, waits for the full fleet, computes the recursive route
// of every host pair and keeps the routes installed as links fail and
// recover.
//
// All bookkeeping runs on a single event loop fed by connection and
// link transitions; sessions never touch shared state directly. A
// routing pass stages its flow updates into a program, which a worker
// pool then pushes to the fleet with one worker per switch, so every
// switch sees its own updates in order.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/dfr/internal/dcell"
	"github.com/malbeclabs/dfr/internal/discovery"
	"github.com/malbeclabs/dfr/internal/flowtable"
	"github.com/malbeclabs/dfr/internal/linkstate"
	"github.com/malbeclabs/dfr/internal/openflow"
	"github.com/malbeclabs/dfr/internal/router"
)

type Config struct {
	// K and N fix the fleet's geometry: N hosts per basic cell, K
	// levels of recursion above it.
	K int
	N int

	// ListenAddr is the OpenFlow listen address. Ignored when Listener
	// is set.
	ListenAddr string

	// Listener, when set, is used instead of opening ListenAddr.
	Listener net.Listener

	// MetricsAddr serves the metrics and debug endpoints; empty
	// disables them.
	MetricsAddr string

	// LinkTimeout is how long a link may go unseen before it is
	// declared down. ProbeInterval defaults to a third of it.
	LinkTimeout   time.Duration
	ProbeInterval time.Duration

	// HandshakeTimeout bounds the handshake of a new connection;
	// WriteTimeout bounds every message write.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Workers sizes the flow push worker pool.
	Workers int

	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" && cfg.Listener == nil {
		return errors.New("listen address is required")
	}
	if cfg.LinkTimeout <= 0 {
		cfg.LinkTimeout = time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = cfg.LinkTimeout / 3
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// connEvent reports a session joining or leaving the fleet.
type connEvent struct {
	sess *Session
	up   bool
}

type Controller struct {
	log    *slog.Logger
	cfg    *Config
	topo   *dcell.Topology
	flows  *flowtable.Table
	links  *linkstate.Set
	router *router.Router
	prober *discovery.Prober
	pool   pond.Pool

	mu       sync.RWMutex
	sessions map[int]*Session
	sessWG   sync.WaitGroup

	conns      chan connEvent
	linkEvents chan discovery.LinkEvent

	// prog is the staging buffer of the routing pass under way. Only
	// the event loop touches it.
	prog *program

	built     bool
	firstConn time.Time
}

func New(log *slog.Logger, cfg *Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo, err := dcell.New(cfg.K, cfg.N)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		log:        log,
		cfg:        cfg,
		topo:       topo,
		flows:      flowtable.New(),
		links:      linkstate.New(),
		pool:       pond.NewPool(cfg.Workers),
		sessions:   make(map[int]*Session),
		conns:      make(chan connEvent, 2*topo.NumSwitches()),
		linkEvents: make(chan discovery.LinkEvent, 64),
	}
	c.router = router.New(log, topo, c.links, c)

	c.prober, err = discovery.NewProber(log, &discovery.Config{
		Clock:         cfg.Clock,
		Topology:      topo,
		Sender:        c,
		ProbeInterval: cfg.ProbeInterval,
		LinkTimeout:   cfg.LinkTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SendPacketOut injects a frame through a connected switch.
func (c *Controller) SendPacketOut(dpid int, msg *openflow.PacketOut) error {
	sess, ok := c.session(dpid)
	if !ok {
		return fmt.Errorf("dpid %d is not connected", dpid)
	}
	return sess.SendPacketOut(msg)
}

func (c *Controller) session(dpid int) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[dpid]
	return s, ok
}

// Run serves the control plane until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln := c.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", c.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", c.cfg.ListenAddr, err)
		}
	}
	defer ln.Close()
	c.log.Info("control plane listening",
		"addr", ln.Addr(),
		"k", c.topo.K(),
		"n", c.topo.N(),
		"switches", c.topo.NumSwitches(),
		"hosts", c.topo.NumHosts())

	var wg sync.WaitGroup

	if c.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: c.DebugHandler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.log.Info("debug endpoint listening", "addr", c.cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("debug endpoint failed", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("prober stopped", "error", err)
		}
	}()

	// Funnel link transitions into a loop-owned channel so the loop
	// has a single place to drain.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c.prober.Events():
				select {
				case c.linkEvents <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.acceptLoop(ctx, ln)
	}()

	err := c.loop(ctx)

	cancel()
	ln.Close()
	c.closeSessions()
	c.sessWG.Wait()
	c.pool.StopAndWait()
	wg.Wait()
	return err
}

// loop is the single-threaded heart of the controller: every change to
// the flow mirror, the link set and the session registry happens here.
func (c *Controller) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.conns:
			if ev.up {
				c.handleConnectionUp(ctx, ev.sess)
			} else {
				c.handleConnectionDown(ev.sess)
			}
		case ev := <-c.linkEvents:
			c.handleLinkEvent(ctx, ev)
		}
	}
}

// acceptLoop admits switch connections until the listener closes.
// Transient accept failures back off exponentially.
func (c *Controller) acceptLoop(ctx context.Context, ln net.Listener) {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				return
			}
			wait := bo.NextBackOff()
			c.log.Warn("accept failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		c.sessWG.Add(1)
		go func() {
			defer c.sessWG.Done()
			c.runSession(ctx, conn)
		}()
	}
}

// runSession takes one connection through the handshake and, if it
// belongs to a switch of the fleet, registers it with the event loop
// for the rest of its life.
func (c *Controller) runSession(ctx context.Context, conn net.Conn) {
	sess := newSession(c.log, conn, c.cfg.WriteTimeout)
	defer sess.Close()

	// Tear the connection down when the controller stops so the read
	// loop cannot outlive it.
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	if err := sess.handshake(c.cfg.HandshakeTimeout); err != nil {
		c.log.Warn("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	dpid := sess.DPID()
	if dpid < 1 || dpid > c.topo.NumSwitches() {
		c.log.Error("unknown datapath connected", "dpid", dpid, "remote", conn.RemoteAddr())
		return
	}

	select {
	case c.conns <- connEvent{sess: sess, up: true}:
	case <-ctx.Done():
		return
	}
	defer func() {
		select {
		case c.conns <- connEvent{sess: sess, up: false}:
		case <-ctx.Done():
		}
	}()

	if err := sess.readLoop(c); err != nil {
		c.log.Warn("session failed", "dpid", dpid, "error", err)
	}
}

func (c *Controller) handleConnectionUp(ctx context.Context, sess *Session) {
	dpid := sess.DPID()

	c.mu.Lock()
	old := c.sessions[dpid]
	c.sessions[dpid] = sess
	n := len(c.sessions)
	c.mu.Unlock()
	if old != nil {
		// A reconnect won the race against the old session's teardown.
		old.Close()
	}
	connectedSwitches.Set(float64(n))

	if c.firstConn.IsZero() {
		c.firstConn = c.cfg.Clock.Now()
	}
	c.log.Info("switch connected", "dpid", dpid, "connected", n, "fleet", c.topo.NumSwitches())

	if n == c.topo.NumSwitches() && !c.built {
		c.built = true
		c.buildAllRoutes(ctx)
	}
}

func (c *Controller) handleConnectionDown(sess *Session) {
	dpid := sess.DPID()

	c.mu.Lock()
	if c.sessions[dpid] != sess {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, dpid)
	n := len(c.sessions)
	c.mu.Unlock()

	connectedSwitches.Set(float64(n))
	c.flows.RemoveSwitch(dpid)
	c.log.Info("switch disconnected", "dpid", dpid, "connected", n)
}

// buildAllRoutes computes and installs the route of every unordered
// host pair. It runs once, when the last switch of the fleet connects;
// afterwards routes only change through link transitions.
func (c *Controller) buildAllRoutes(ctx context.Context) {
	hosts := c.topo.NumHosts()

	c.prog = newProgram()
	built, failed := 0, 0
	for src := 1; src <= hosts; src++ {
		for dst := src + 1; dst <= hosts; dst++ {
			if err := c.router.Build(src, dst); err != nil {
				failed++
				routeBuilds.WithLabelValues("error").Inc()
				c.log.Error("building route", "src", src, "dst", dst, "error", err)
				continue
			}
			built++
			routeBuilds.WithLabelValues("ok").Inc()
		}
	}
	prog := c.prog
	c.prog = nil
	c.apply(ctx, prog)

	elapsed := c.cfg.Clock.Since(c.firstConn)
	fleetBringup.Set(elapsed.Seconds())
	c.log.Info("fleet routes installed",
		"pairs", built,
		"failed", failed,
		"flow_entries", c.flows.Len(),
		"elapsed", elapsed.Round(time.Millisecond))
}

func (c *Controller) handleLinkEvent(ctx context.Context, ev discovery.LinkEvent) {
	low, high := ev.Link.LowDPID, ev.Link.HighDPID
	if ev.Up {
		linkEvents.WithLabelValues("up").Inc()
		if !c.links.MarkUp(low, high) {
			return
		}
		c.log.Info("link recovered", "low", low, "high", high)
		// Any route touching either endpoint may now have a shorter
		// path back.
		c.rebuild(ctx, append(c.flows.EntriesOn(low), c.flows.EntriesOn(high)...))
	} else {
		linkEvents.WithLabelValues("down").Inc()
		if !c.links.MarkDown(low, high) {
			return
		}
		c.log.Warn("link down", "low", low, "high", high, "level", ev.Link.Level)
		// Only routes through the dead cable need to move.
		c.rebuild(ctx, append(
			c.flows.EntriesVia(low, ev.Link.LowPort),
			c.flows.EntriesVia(high, ev.Link.HighPort)...))
	}
	brokenLinks.Set(float64(c.links.Len()))
}

// rebuild recomputes the routes of the pairs affected by a link
// transition. Pairs fold to their unordered form first; both
// directions of a route always reinstall together.
func (c *Controller) rebuild(ctx context.Context, pairs []flowtable.Pair) {
	uniq := make(map[flowtable.Pair]struct{}, len(pairs))
	for _, p := range pairs {
		if p.Src > p.Dst {
			p.Src, p.Dst = p.Dst, p.Src
		}
		uniq[p] = struct{}{}
	}
	if len(uniq) == 0 {
		return
	}
	ordered := make([]flowtable.Pair, 0, len(uniq))
	for p := range uniq {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Compare(ordered[j]) < 0 })

	c.prog = newProgram()
	for _, p := range ordered {
		if err := c.router.Build(p.Src, p.Dst); err != nil {
			routeBuilds.WithLabelValues("error").Inc()
			c.log.Error("rebuilding route", "src", p.Src, "dst", p.Dst, "error", err)
			continue
		}
		routeBuilds.WithLabelValues("ok").Inc()
	}
	prog := c.prog
	c.prog = nil
	c.log.Info("rerouting", "pairs", len(ordered), "updates", prog.size())
	c.apply(ctx, prog)
}

func (c *Controller) handlePacketIn(s *Session, pi *openflow.PacketIn) {
	if c.prober.HandlePacketIn(s.DPID(), int(pi.InPort), pi.Data) {
		packetIns.WithLabelValues("discovery").Inc()
		return
	}
	if c.replyARP(s, pi) {
		packetIns.WithLabelValues("arp").Inc()
		return
	}
	packetIns.WithLabelValues("other").Inc()
}

func (c *Controller) handlePortStatus(s *Session, ps *openflow.PortStatus) {
	c.prober.HandlePortStatus(s.DPID(), ps)
}

func (c *Controller) closeSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.Close()
	}
}
