package priority

import (
	"context"
	"testing"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/fsm"
	"github.com/dbehnke/tacrrc/internal/layers"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/proto"
	"github.com/dbehnke/tacrrc/internal/queue"
	"github.com/dbehnke/tacrrc/internal/slot"
)

func newTestPlane(t *testing.T, olsrResponder func(req layers.RouteRequest) layers.RouteResponse) (*Plane, func()) {
	t.Helper()
	corr := correlator.New()
	rrcToOLSR := msgchan.New(8)
	olsrToRRC := msgchan.New(8)
	olsrClient := layers.NewClient(corr, rrcToOLSR, olsrToRRC)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			msg, err := rrcToOLSR.Receive(context.Background(), 50*time.Millisecond)
			if err != nil {
				continue
			}
			if msg.Header.Kind != msgchan.KindRouteRequest {
				continue
			}
			req := msg.Body.(layers.RouteRequest)
			resp := olsrResponder(req)
			out := msgchan.LayerMessage{
				Header: msgchan.Header{Kind: msgchan.KindRouteResponse, CorrelationID: msg.Header.CorrelationID},
				Body:   resp,
			}
			_ = olsrToRRC.Send(context.Background(), out, time.Second)
		}
	}()

	// Stand in for the gateway's OLSR worker: hand every olsr_to_rrc
	// message to the client so route responses reach their waiter.
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			msg, err := olsrToRRC.Receive(context.Background(), 50*time.Millisecond)
			if err != nil {
				continue
			}
			olsrClient.HandleInbound(msg)
		}
	}()

	m := fsm.New()
	_ = m.Apply(fsm.EventPowerOn)

	plane := &Plane{
		Queues:    queue.NewSharedQueues(),
		Neighbors: neighbor.NewTable(neighbor.DefaultCapacity, 30*time.Second),
		OLSR:      olsrClient,
		FSM:       m,
		DUGU:      slot.NewDUGUAllocator(),
		SelfNode:  1,
	}
	return plane, func() { close(done) }
}

// TestDownlinkSuccessScenarioS1 follows spec §8 scenario S1.
func TestDownlinkSuccessScenarioS1(t *testing.T) {
	plane, stop := newTestPlane(t, func(req layers.RouteRequest) layers.RouteResponse {
		return layers.RouteResponse{Dest: req.Dest, NextHop: 3, Available: true}
	})
	defer stop()
	plane.Neighbors.UpdateMetrics(3, neighbor.Metrics{RSSIdBm: -65, SNRdB: 25, PERPercent: 1.5, LastUpdate: time.Now()}, time.Now())

	plane.Queues.AppToRRC.Enqueue(proto.AppPacket{SrcID: 1, DestID: 5, DataType: proto.DataSMS, Data: []byte("Hello")})
	if !plane.Downlink(context.Background()) {
		t.Fatalf("expected a packet to be processed")
	}

	if _, ok := plane.Queues.DataFromL3[3].Dequeue(); !ok {
		t.Fatalf("expected a frame queued to data_from_l3[3] (Data3, SMS's priority class)")
	}
	if plane.Stats.MessagesEnqueuedTotal != 1 {
		t.Fatalf("want 1 enqueued, got %d", plane.Stats.MessagesEnqueuedTotal)
	}
	ctx, ok := plane.FSM.Context(5)
	if !ok || ctx.State != fsm.StateConnected {
		t.Fatalf("want CONNECTED context, got %v ok=%v", ctx.State, ok)
	}
}

// TestDownlinkNoRouteScenarioS2 follows spec §8 scenario S2.
func TestDownlinkNoRouteScenarioS2(t *testing.T) {
	plane, stop := newTestPlane(t, func(req layers.RouteRequest) layers.RouteResponse {
		return layers.RouteResponse{Dest: req.Dest, Available: false}
	})
	defer stop()

	plane.Queues.AppToRRC.Enqueue(proto.AppPacket{SrcID: 1, DestID: 5, DataType: proto.DataSMS, Data: []byte("Hello")})
	plane.Downlink(context.Background())

	pkt, ok := plane.Queues.RRCToApp.Dequeue()
	if !ok {
		t.Fatalf("expected a DELIVERY_FAILED packet")
	}
	if string(pkt.Data[:len("DELIVERY_FAILED")]) != "DELIVERY_FAILED" {
		t.Fatalf("want DELIVERY_FAILED prefix, got %q", pkt.Data)
	}
	if plane.Stats.RouteDiscoveriesTriggered != 1 {
		t.Fatalf("want 1 discovery trigger, got %d", plane.Stats.RouteDiscoveriesTriggered)
	}
	ctx, ok := plane.FSM.Context(5)
	if !ok || ctx.State != fsm.StateIdle {
		t.Fatalf("want IDLE context after no-route, got %v ok=%v", ctx.State, ok)
	}
}

// TestPTTPreemptionScenarioS3 follows spec §8 scenario S3.
func TestPTTPreemptionScenarioS3(t *testing.T) {
	plane, stop := newTestPlane(t, func(req layers.RouteRequest) layers.RouteResponse {
		t.Fatalf("PTT must not issue a route RPC")
		return layers.RouteResponse{}
	})
	defer stop()

	plane.Queues.AppToRRC.Enqueue(proto.AppPacket{
		SrcID: 1, DestID: proto.Broadcast, DataType: proto.DataVoiceAnalog,
		TransmissionType: proto.TransmissionBroadcast, Data: []byte("Emergency"),
	})
	plane.Downlink(context.Background())

	if plane.Queues.AnalogVoice.Depth() != 1 {
		t.Fatalf("want 1 frame in analog_voice, got %d", plane.Queues.AnalogVoice.Depth())
	}
}

// TestUplinkToSelfScenarioS4 follows spec §8 scenario S4.
func TestUplinkToSelfScenarioS4(t *testing.T) {
	plane, stop := newTestPlane(t, nil)
	defer stop()

	plane.Queues.RX.Enqueue(proto.LinkFrame{Src: 5, Dest: 1, TTL: 8, Payload: []byte("Hi")})
	plane.Uplink(context.Background())

	pkt, ok := plane.Queues.RRCToApp.Dequeue()
	if !ok {
		t.Fatalf("expected a packet delivered to rrc_to_app")
	}
	if pkt.SrcID != 5 || string(pkt.Data) != "Hi" {
		t.Fatalf("want src=5 data=Hi, got src=%d data=%q", pkt.SrcID, pkt.Data)
	}
	if !plane.Queues.RRCRelay.IsEmpty() {
		t.Fatalf("no relay entry should be produced for self-destined frames")
	}
	if plane.Stats.RelayPacketsToSelf != 1 {
		t.Fatalf("want 1 relay_packets_to_self, got %d", plane.Stats.RelayPacketsToSelf)
	}
}

// TestUplinkRelayScenarioS5 follows spec §8 scenario S5.
func TestUplinkRelayScenarioS5(t *testing.T) {
	plane, stop := newTestPlane(t, func(req layers.RouteRequest) layers.RouteResponse {
		return layers.RouteResponse{Dest: req.Dest, NextHop: 4, Available: true}
	})
	defer stop()

	plane.Queues.RX.Enqueue(proto.LinkFrame{Src: 5, Dest: 7, TTL: 8, Payload: []byte("Hi")})
	plane.Uplink(context.Background())

	f, ok := plane.Queues.RRCRelay.Dequeue()
	if !ok {
		t.Fatalf("expected a relayed frame")
	}
	if f.Dest != 7 || f.NextHop != 4 || f.TTL != 7 {
		t.Fatalf("want dest=7 next_hop=4 ttl=7, got dest=%d next_hop=%d ttl=%d", f.Dest, f.NextHop, f.TTL)
	}
	if plane.Queues.RRCToApp.Depth() != 0 {
		t.Fatalf("nothing should be delivered to rrc_to_app for a relayed frame")
	}
}
