package discovery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dfr/internal/dcell"
	"github.com/malbeclabs/dfr/internal/openflow"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type sentProbe struct {
	dpid    int
	outPort int
	annDPID int
	annPort int
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentProbe
}

func (s *fakeSender) SendPacketOut(dpid int, msg *openflow.PacketOut) error {
	annDPID, annPort, ok := parseProbe(msg.Data)
	if !ok {
		panic("sent a non-probe frame")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentProbe{
		dpid:    dpid,
		outPort: int(msg.Actions[0].Port),
		annDPID: annDPID,
		annPort: annPort,
	})
	return nil
}

func (s *fakeSender) snapshot() []sentProbe {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentProbe(nil), s.sent...)
}

func newTestProber(t *testing.T, clock clockwork.Clock, interval, timeout time.Duration) (*Prober, *fakeSender, *dcell.Topology) {
	t.Helper()
	topo, err := dcell.New(1, 3)
	require.NoError(t, err)
	sender := &fakeSender{}
	p, err := NewProber(newLogger(), &Config{
		Clock:         clock,
		Topology:      topo,
		Sender:        sender,
		ProbeInterval: interval,
		LinkTimeout:   timeout,
	})
	require.NoError(t, err)
	return p, sender, topo
}

func requireEvent(t *testing.T, p *Prober, wantUp bool) LinkEvent {
	t.Helper()
	select {
	case ev := <-p.Events():
		require.Equal(t, wantUp, ev.Up)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no link event (want up=%v)", wantUp)
		return LinkEvent{}
	}
}

func requireNoEvent(t *testing.T, p *Prober) {
	t.Helper()
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected link event %+v", ev)
	default:
	}
}

func TestDiscovery_ProbeFrameRoundTrip(t *testing.T) {
	t.Parallel()

	frame, err := marshalProbe(17, 3, 900*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []byte(lldpMulticast), frame[0:6])
	require.Equal(t, []byte{0x88, 0xcc}, frame[12:14])

	dpid, port, ok := parseProbe(frame)
	require.True(t, ok)
	require.Equal(t, 17, dpid)
	require.Equal(t, 3, port)

	_, _, ok = parseProbe([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestDiscovery_ConfigValidate(t *testing.T) {
	t.Parallel()

	topo, err := dcell.New(1, 3)
	require.NoError(t, err)

	_, err = NewProber(newLogger(), &Config{
		Topology:      topo,
		Sender:        &fakeSender{},
		ProbeInterval: time.Second,
		LinkTimeout:   3 * time.Second,
	})
	require.ErrorContains(t, err, "clock is required")

	_, err = NewProber(newLogger(), &Config{
		Clock:         clockwork.NewRealClock(),
		Topology:      topo,
		Sender:        &fakeSender{},
		ProbeInterval: time.Second,
		LinkTimeout:   time.Second,
	})
	require.ErrorContains(t, err, "link timeout")
}

func TestDiscovery_SweepProbesEveryEnd(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p, sender, topo := newTestProber(t, clock, 100*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	links := topo.SwitchLinks()
	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 2*len(links)
	}, 5*time.Second, 10*time.Millisecond)

	ends := make(map[dcell.PortID]bool)
	for _, l := range links {
		ends[dcell.PortID{DPID: l.LowDPID, Port: l.LowPort}] = true
		ends[dcell.PortID{DPID: l.HighDPID, Port: l.HighPort}] = true
	}
	seen := make(map[dcell.PortID]bool)
	for _, s := range sender.snapshot() {
		require.Equal(t, s.dpid, s.annDPID, "probe announces the switch it leaves from")
		require.Equal(t, s.outPort, s.annPort, "probe announces the port it leaves through")
		end := dcell.PortID{DPID: s.dpid, Port: s.outPort}
		require.True(t, ends[end], "probe out an uncabled end %+v", end)
		require.False(t, seen[end], "end %+v probed twice in one sweep", end)
		seen[end] = true
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDiscovery_SightingRaisesUpOnce(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestProber(t, clockwork.NewFakeClock(), 100*time.Millisecond, time.Second)

	// Host 1's probe out of port 2 arrives at mini switch 13 port 1.
	frame, err := marshalProbe(1, 2, time.Second)
	require.NoError(t, err)
	require.True(t, p.HandlePacketIn(13, 1, frame))

	ev := requireEvent(t, p, true)
	require.Equal(t, 1, ev.Link.LowDPID)
	require.Equal(t, 13, ev.Link.HighDPID)
	require.Equal(t, 0, ev.Link.Level)

	// A refresh is not a transition.
	require.True(t, p.HandlePacketIn(13, 1, frame))
	requireNoEvent(t, p)

	require.False(t, p.HandlePacketIn(13, 1, []byte{0xde, 0xad}))
}

func TestDiscovery_UnexpectedCableIgnored(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestProber(t, clockwork.NewFakeClock(), 100*time.Millisecond, time.Second)

	// Hosts 1 and 2 share a cell; there is no cable between their
	// switches.
	frame, err := marshalProbe(1, 3, time.Second)
	require.NoError(t, err)
	require.True(t, p.HandlePacketIn(2, 3, frame))
	requireNoEvent(t, p)

	// Right switches, wrong mini port.
	frame, err = marshalProbe(1, 2, time.Second)
	require.NoError(t, err)
	require.True(t, p.HandlePacketIn(13, 2, frame))
	requireNoEvent(t, p)
}

func TestDiscovery_MissedProbesRaiseDown(t *testing.T) {
	t.Parallel()

	// Real TTLs here: the liveness table expires on the wall clock.
	p, _, _ := newTestProber(t, clockwork.NewFakeClock(), 5*time.Millisecond, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	frame, err := marshalProbe(1, 2, time.Second)
	require.NoError(t, err)
	require.True(t, p.HandlePacketIn(13, 1, frame))
	requireEvent(t, p, true)

	// No refresh follows, so the entry expires.
	ev := requireEvent(t, p, false)
	require.Equal(t, 1, ev.Link.LowDPID)
	require.Equal(t, 13, ev.Link.HighDPID)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDiscovery_PortStatusForcesDown(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestProber(t, clockwork.NewFakeClock(), 100*time.Millisecond, time.Hour)

	frame, err := marshalProbe(1, 2, time.Second)
	require.NoError(t, err)
	require.True(t, p.HandlePacketIn(13, 1, frame))
	requireEvent(t, p, true)

	down := &openflow.PortStatus{
		Reason: openflow.PortReasonModify,
		Port:   openflow.PhyPort{PortNo: 1, State: openflow.PortStateLinkDown},
	}
	p.HandlePortStatus(13, down)

	ev := requireEvent(t, p, false)
	require.Equal(t, 1, ev.Link.LowDPID)
	require.Equal(t, 13, ev.Link.HighDPID)

	// Already down: a repeat report must not produce another event.
	p.HandlePortStatus(13, down)
	requireNoEvent(t, p)

	// Unknown port: nothing to do.
	p.HandlePortStatus(13, &openflow.PortStatus{
		Reason: openflow.PortReasonModify,
		Port:   openflow.PhyPort{PortNo: 9, State: openflow.PortStateLinkDown},
	})
	requireNoEvent(t, p)
}
