package controller

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dfr/internal/openflow"
)

// fakeSwitch speaks just enough of the protocol to stand in for a real
// datapath: it opens with hello, answers the features request and echo
// keepalives, and records every flow mod and packet out it receives.
type fakeSwitch struct {
	t    *testing.T
	dpid int
	conn net.Conn

	mu         sync.Mutex
	flowMods   []*openflow.FlowMod
	packetOuts []*openflow.PacketOut

	echoes chan uint32
	done   chan struct{}
}

func dialFakeSwitch(t *testing.T, addr string, dpid int) *fakeSwitch {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	f := &fakeSwitch{
		t:      t,
		dpid:   dpid,
		conn:   conn,
		echoes: make(chan uint32, 4),
		done:   make(chan struct{}),
	}
	go f.run()
	t.Cleanup(f.close)
	return f
}

func (f *fakeSwitch) close() {
	f.conn.Close()
	<-f.done
}

func (f *fakeSwitch) run() {
	defer close(f.done)

	if err := f.write(openflow.NewHello()); err != nil {
		return
	}
	for {
		hdr, raw, err := openflow.ReadMessage(f.conn)
		if err != nil {
			return
		}
		switch hdr.Type {
		case openflow.TypeHello:
		case openflow.TypeFeaturesRequest:
			reply := &openflow.FeaturesReply{
				XID:     hdr.XID,
				DPID:    uint64(f.dpid),
				Buffers: 256,
				Tables:  1,
			}
			if err := f.write(reply); err != nil {
				return
			}
		case openflow.TypeEchoRequest:
			var req openflow.EchoRequest
			if req.UnmarshalBinary(raw) != nil {
				return
			}
			if err := f.write(openflow.NewEchoReply(&req)); err != nil {
				return
			}
		case openflow.TypeEchoReply:
			var reply openflow.EchoReply
			if reply.UnmarshalBinary(raw) != nil {
				return
			}
			select {
			case f.echoes <- reply.XID:
			default:
			}
		case openflow.TypeFlowMod:
			var fm openflow.FlowMod
			if fm.UnmarshalBinary(raw) != nil {
				return
			}
			f.mu.Lock()
			f.flowMods = append(f.flowMods, &fm)
			f.mu.Unlock()
		case openflow.TypePacketOut:
			var po openflow.PacketOut
			if po.UnmarshalBinary(raw) != nil {
				return
			}
			f.mu.Lock()
			f.packetOuts = append(f.packetOuts, &po)
			f.mu.Unlock()
		}
	}
}

func (f *fakeSwitch) write(msg marshaler) error {
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = f.conn.Write(b)
	return err
}

// barrier round-trips a keepalive through the controller. The reply
// travels the same ordered byte stream as flow mods and packet outs, so
// once it arrives everything written before it has been recorded.
func (f *fakeSwitch) barrier() {
	f.t.Helper()
	xid := openflow.NextXID()
	require.NoError(f.t, f.write(&openflow.EchoRequest{XID: xid}))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.echoes:
			if got == xid {
				return
			}
		case <-f.done:
			f.t.Fatalf("dpid %d: connection closed before echo reply", f.dpid)
		case <-deadline:
			f.t.Fatalf("dpid %d: no echo reply", f.dpid)
		}
	}
}

// punt sends a packet-in carrying frame as if it arrived on inPort.
func (f *fakeSwitch) punt(inPort int, frame []byte) {
	f.t.Helper()
	pi := &openflow.PacketIn{
		XID:      openflow.NextXID(),
		BufferID: openflow.NoBuffer,
		TotalLen: uint16(len(frame)),
		InPort:   uint16(inPort),
		Reason:   openflow.ReasonNoMatch,
		Data:     frame,
	}
	require.NoError(f.t, f.write(pi))
}

// adds returns the add-command flow mods in arrival order.
func (f *fakeSwitch) adds() []*openflow.FlowMod {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*openflow.FlowMod
	for _, fm := range f.flowMods {
		if fm.Command == openflow.FlowAdd {
			out = append(out, fm)
		}
	}
	return out
}

func (f *fakeSwitch) recordedFlowMods() []*openflow.FlowMod {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*openflow.FlowMod(nil), f.flowMods...)
}

func (f *fakeSwitch) recordedPacketOuts() []*openflow.PacketOut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*openflow.PacketOut(nil), f.packetOuts...)
}
