package controller

import (
	"context"
	"fmt"

	"github.com/malbeclabs/dfr/internal/netutil"
	"github.com/malbeclabs/dfr/internal/openflow"
)

// flowOp is one pending table update: on switch dpid, steer src->dst
// frames out through port.
type flowOp struct {
	dpid, src, dst, port int
}

// program accumulates the updates of one routing pass, grouped by
// switch so every switch's updates can be pushed in order by a single
// worker.
type program struct {
	ops map[int][]flowOp
}

func newProgram() *program {
	return &program{ops: make(map[int][]flowOp)}
}

func (p *program) add(op flowOp) {
	p.ops[op.dpid] = append(p.ops[op.dpid], op)
}

func (p *program) size() int {
	n := 0
	for _, ops := range p.ops {
		n += len(ops)
	}
	return n
}

// Install stages a flow entry into the routing pass under way. The
// router calls this for every hop of every route it builds.
func (c *Controller) Install(dpid, src, dst, port int) error {
	if c.prog == nil {
		return fmt.Errorf("no routing pass under way")
	}
	c.prog.add(flowOp{dpid: dpid, src: src, dst: dst, port: port})
	return nil
}

// apply pushes a staged program to the fleet, one worker per switch.
// Switches are independent; a push failing on one does not hold back
// the others.
func (c *Controller) apply(ctx context.Context, prog *program) {
	group := c.pool.NewGroup()
	for dpid, ops := range prog.ops {
		group.SubmitErr(func() error {
			sess, ok := c.session(dpid)
			if !ok {
				return fmt.Errorf("dpid %d is not connected", dpid)
			}
			for _, op := range ops {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := c.push(sess, op); err != nil {
					return fmt.Errorf("dpid %d: %w", dpid, err)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		c.log.Error("applying flow program", "error", err)
	}
}

// push replaces the entry for op's pair on one switch: a delete of any
// previous entry for the pair, then the add. The mirror table follows
// each message actually written, so it never claims an entry the
// switch was not told about.
func (c *Controller) push(sess *Session, op flowOp) error {
	match := openflow.MatchEthPair(netutil.MACOfHost(op.src), netutil.MACOfHost(op.dst))

	if err := sess.SendFlowMod(openflow.NewFlowDelete(match, openflow.PortNone)); err != nil {
		return fmt.Errorf("deleting %d->%d: %w", op.src, op.dst, err)
	}
	flowModsSent.WithLabelValues("delete").Inc()
	c.flows.Remove(op.dpid, op.src, op.dst)

	if err := sess.SendFlowMod(openflow.NewFlowAdd(match, uint16(op.port))); err != nil {
		return fmt.Errorf("adding %d->%d: %w", op.src, op.dst, err)
	}
	flowModsSent.WithLabelValues("add").Inc()
	c.flows.Add(op.dpid, op.src, op.dst, op.port)
	return nil
}
