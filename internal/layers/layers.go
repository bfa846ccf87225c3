// Package layers implements the layer client stubs of spec §4.D: thin,
// synchronous-looking wrappers over the async request/response channels
// to OLSR, TDMA, and PHY (spec §6.2-6.4). Each stub either consults a
// local cache (the neighbor table, for PHY) or issues a bounded-wait RPC
// through the shared correlator, following the teacher's
// internal/network/dmr_client.go / ysf_client.go request/response client
// shape.
package layers

import (
	"context"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/proto"
)

// rpc sends a tagged request on out and awaits the correlated response,
// applying timeout to both legs. The waiter is registered before the
// request is sent; the response arrives through Dispatch, called by
// whichever worker reads in. It is the single place spec §9's
// "lift to a pending-requests map... the caller's RPC helper handles
// enqueue, wait, and timeout in one place" guidance is implemented.
func rpc[T any](ctx context.Context, corr *correlator.Correlator, out, in *msgchan.Channel, kind msgchan.MessageKind, src, dst msgchan.Layer, body any, timeout time.Duration) (T, error) {
	var zero T
	id := corr.NextID()
	msg := msgchan.LayerMessage{
		Header: msgchan.Header{
			Kind:          kind,
			CorrelationID: uint64(id),
			Timestamp:     time.Now(),
			Source:        src,
			Destination:   dst,
		},
		Body: body,
	}
	corr.Register(id)
	if err := out.Send(ctx, msg, timeout); err != nil {
		corr.Cancel(id)
		return zero, err
	}
	return correlator.Await[T](ctx, corr, id, timeout)
}

// Dispatch delivers an inbound response message to the correlator,
// matching it by correlation ID. Every inbound worker that reads from an
// X_to_rrc channel must call this for response-kind messages before
// handling any unsolicited (event) message kinds itself.
func Dispatch(corr *correlator.Correlator, msg msgchan.LayerMessage) {
	corr.Resolve(correlator.RequestID(msg.Header.CorrelationID), msg.Body)
}

// FlapTracker implements spec §4.D's next-hop thrash detection: when
// next_hop changes and the previous value was known, flap_count
// increments; past a threshold, a discovery is triggered and the counter
// resets.
type FlapTracker struct {
	lastNextHop map[proto.NodeAddr]proto.NodeAddr
	flapCount   map[proto.NodeAddr]int
}

// FlapThreshold is the flap count past which discovery is re-triggered.
const FlapThreshold = 5

// NewFlapTracker creates an empty tracker.
func NewFlapTracker() *FlapTracker {
	return &FlapTracker{
		lastNextHop: make(map[proto.NodeAddr]proto.NodeAddr),
		flapCount:   make(map[proto.NodeAddr]int),
	}
}

// Observe records a next_hop observation for dest and reports whether the
// flap threshold was just exceeded (in which case the caller should
// trigger discovery and the tracker has already reset the counter).
func (f *FlapTracker) Observe(dest, nextHop proto.NodeAddr) (shouldRediscover bool) {
	prev, known := f.lastNextHop[dest]
	f.lastNextHop[dest] = nextHop
	if !known || prev == nextHop {
		return false
	}
	f.flapCount[dest]++
	if f.flapCount[dest] > FlapThreshold {
		f.flapCount[dest] = 0
		return true
	}
	return false
}
