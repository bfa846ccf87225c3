package layers

import (
	"context"
	"testing"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/proto"
)

func TestOLSRNextHopRoundTrip(t *testing.T) {
	corr := correlator.New()
	rrcToOLSR := msgchan.New(8)
	olsrToRRC := msgchan.New(8)
	client := NewClient(corr, rrcToOLSR, olsrToRRC)

	go func() {
		req, err := rrcToOLSR.Receive(context.Background(), time.Second)
		if err != nil {
			t.Errorf("receive request: %v", err)
			return
		}
		body := req.Body.(RouteRequest)
		resp := msgchan.LayerMessage{
			Header: msgchan.Header{
				Kind:          msgchan.KindRouteResponse,
				CorrelationID: req.Header.CorrelationID,
			},
			Body: RouteResponse{Dest: body.Dest, NextHop: 3, Available: true},
		}
		_ = olsrToRRC.Send(context.Background(), resp, time.Second)
	}()

	go func() {
		msg, err := olsrToRRC.Receive(context.Background(), time.Second)
		if err == nil {
			client.HandleInbound(msg)
		}
	}()

	nextHop, ok := client.NextHop(context.Background(), 5)
	if !ok || nextHop != 3 {
		t.Fatalf("want next hop 3, got %v ok=%v", nextHop, ok)
	}
}

func TestOLSRNextHopTimeoutReturnsNoRoute(t *testing.T) {
	corr := correlator.New()
	rrcToOLSR := msgchan.New(1)
	olsrToRRC := msgchan.New(1)
	client := NewClient(corr, rrcToOLSR, olsrToRRC)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := client.NextHop(ctx, 5)
	if ok {
		t.Fatalf("expected no route on timeout with no responder")
	}
}

func TestFlapTrackerTriggersAfterThreshold(t *testing.T) {
	ft := NewFlapTracker()
	dest := proto.NodeAddr(5)
	ft.Observe(dest, 1) // first observation, no flap possible

	triggered := false
	hops := []proto.NodeAddr{2, 1, 2, 1, 2, 1}
	for _, h := range hops {
		if ft.Observe(dest, h) {
			triggered = true
		}
	}
	if !triggered {
		t.Fatalf("expected flap threshold to trigger rediscovery")
	}
}
