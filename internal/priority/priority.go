// Package priority implements the priority plane of spec §4.I: the
// downlink (APP→link) and uplink (link→APP) pipelines that classify
// traffic, resolve next hops, enforce slot admission, and relay or
// deliver frames.
//
// The dispatch shape follows the teacher's cmd/ysf2dmr/main.go
// processYSFData/processDMRData frame-type routing, generalized from two
// hardcoded frame kinds to the full priority/data-type matrix.
package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/dbehnke/tacrrc/internal/fsm"
	"github.com/dbehnke/tacrrc/internal/layers"
	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/proto"
	"github.com/dbehnke/tacrrc/internal/queue"
	"github.com/dbehnke/tacrrc/internal/slot"
)

// Stats are the downlink/uplink counters named throughout spec §4.I,
// §7, §8.
type Stats struct {
	MessagesEnqueuedTotal       uint64
	RouteDiscoveriesTriggered   uint64
	MessagesDiscardedNoSlots    uint64
	RelayPacketsToSelf          uint64
	RelayPacketsForwarded       uint64
	RelayDroppedTTLExpired      uint64
}

// Plane wires together the shared queues, neighbor table, layer clients,
// FSM, and slot allocator needed to run the downlink/uplink pipelines.
type Plane struct {
	Queues    *queue.SharedQueues
	Neighbors *neighbor.Table
	OLSR      *layers.Client
	TDMA      *layers.TDMAClient
	FSM       *fsm.Machine
	DUGU      *slot.DUGUAllocator
	SelfNode  proto.NodeAddr

	// OnSlotAssigned, if set, is invoked whenever Downlink hands a DU/GU
	// slot to a new node (a fresh allocation or a preemption, never a
	// reuse). Used by the gateway to feed the audit trail.
	OnSlotAssigned func(node proto.NodeAddr, slotIdx int, preempted bool)

	Stats Stats
}

// deliveryFailed builds the synthetic failure packet spec §7 requires:
// "a synthetic packet on rrc_to_app with a human-readable data field".
func deliveryFailed(dest proto.NodeAddr, reason string) proto.AppPacket {
	return proto.AppPacket{
		SrcID:  0,
		DestID: dest,
		Data:   []byte(fmt.Sprintf("DELIVERY_FAILED: %s", reason)),
	}
}

// Downlink runs one iteration of the APP worker's pipeline (spec §4.I):
// drains app_to_rrc and routes the packet to a link-frame queue, the
// analog-voice queue, or a synthetic failure notice.
func (p *Plane) Downlink(ctx context.Context) bool {
	pkt, ok := p.Queues.AppToRRC.Dequeue()
	if !ok {
		return false
	}

	prio := proto.PriorityForDataType(pkt.DataType, pkt.Urgent)

	if err := p.FSM.ApplyContext(pkt.DestID, fsm.EventDataRequest); err != nil {
		// Context already exists past IDLE; that is expected on the
		// common path, not an error worth surfacing.
	}

	if prio == proto.PriorityAnalogVoicePTT {
		// PTT preempts unconditionally: no next-hop gate, no slot RPC.
		frame := proto.LinkFrame{
			Src:      p.SelfNode,
			Dest:     pkt.DestID,
			TTL:      proto.DefaultFrameTTL,
			Priority: prio,
			DataType: pkt.DataType,
			Payload:  truncate(pkt.Data, proto.PayloadMaxLink),
		}
		p.Queues.AnalogVoice.Enqueue(frame)
		p.Stats.MessagesEnqueuedTotal++
		return true
	}

	nextHop, haveRoute := p.OLSR.NextHop(ctx, pkt.DestID)
	if !haveRoute {
		p.OLSR.TriggerDiscovery(ctx, pkt.DestID, pkt.Urgent)
		p.Stats.RouteDiscoveriesTriggered++
		p.Queues.RRCToApp.Enqueue(deliveryFailed(pkt.DestID, "no route"))
		_ = p.FSM.ApplyContext(pkt.DestID, fsm.EventNoRoute)
		return true
	}
	_ = p.FSM.ApplyContext(pkt.DestID, fsm.EventRouteAndSlotsAllocated)

	if n, ok := p.Neighbors.Get(nextHop); ok && !n.IsGoodLink(time.Now()) {
		p.OLSR.TriggerDiscovery(ctx, pkt.DestID, pkt.Urgent)
		p.Stats.RouteDiscoveriesTriggered++
		_ = p.FSM.ApplyContext(pkt.DestID, fsm.EventRouteChange)
		return true
	}

	idx, res := p.DUGU.Allocate(nextHop, prio, slot.ScoreInput{
		Tier:        slot.TierSelfOriginated,
		PacketCount: 0,
		Timestamp:   time.Now().Unix(),
		Priority:    prio,
	}, time.Now())
	if res == slot.AllocNoSlot {
		p.Stats.MessagesDiscardedNoSlots++
		p.Queues.RRCToApp.Enqueue(deliveryFailed(pkt.DestID, "no slot available"))
		return true
	}
	if p.OnSlotAssigned != nil && (res == slot.AllocFree || res == slot.AllocPreempted) {
		p.OnSlotAssigned(nextHop, idx, res == slot.AllocPreempted)
	}

	frame := proto.LinkFrame{
		Src:      p.SelfNode,
		Dest:     pkt.DestID,
		NextHop:  nextHop,
		RxOrL3:   false,
		TTL:      proto.DefaultFrameTTL,
		Priority: prio,
		DataType: pkt.DataType,
		Payload:  truncate(pkt.Data, proto.PayloadMaxLink),
	}
	if err := frame.Validate(); err != nil {
		return true
	}
	p.Queues.QueueForPriority(prio).Enqueue(frame)
	p.Stats.MessagesEnqueuedTotal++
	return true
}

// Uplink runs one iteration of the TDMA worker's uplink pipeline (spec
// §4.I): drains rx_queue and either delivers locally, forwards an
// OLSR-bearing frame, or relays toward a new next hop.
func (p *Plane) Uplink(ctx context.Context) bool {
	frame, ok := p.Queues.RX.Dequeue()
	if !ok {
		return false
	}

	if frame.Dest == p.SelfNode {
		pkt := proto.AppPacket{
			SrcID:    frame.Src,
			DestID:   frame.Dest,
			DataType: frame.DataType,
			Data:     append([]byte(nil), frame.Payload...),
		}
		p.Queues.RRCToApp.Enqueue(pkt)
		if _, ok := p.FSM.Context(frame.Src); ok {
			_ = p.FSM.ApplyContext(frame.Src, fsm.EventDataRequest)
		}
		p.Stats.RelayPacketsToSelf++
		return true
	}

	if frame.RxOrL3 {
		p.OLSR.ForwardControlFrame(ctx, frame.Src, frame.Payload)
		return true
	}

	if !frame.DecrementTTL() {
		p.Stats.RelayDroppedTTLExpired++
		return true
	}

	nextHop, haveRoute := p.OLSR.NextHop(ctx, frame.Dest)
	if !haveRoute {
		p.Stats.RelayDroppedTTLExpired++
		return true
	}
	frame.NextHop = nextHop
	p.Queues.RRCRelay.Enqueue(frame)
	p.Stats.RelayPacketsForwarded++
	return true
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
