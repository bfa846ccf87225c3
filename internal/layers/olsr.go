package layers

import (
	"context"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/proto"
)

// RouteRequest is sent RRC→OLSR (spec §6.2).
type RouteRequest struct {
	RequestID correlator.RequestID
	Dest      proto.NodeAddr
}

// RouteResponse is sent OLSR→RRC (spec §6.2).
type RouteResponse struct {
	RequestID correlator.RequestID
	Dest      proto.NodeAddr
	NextHop   proto.NodeAddr
	HopCount  int
	Available bool
}

// DiscoveryRequest is sent RRC→OLSR (fire-and-forget, spec §6.2).
type DiscoveryRequest struct {
	RequestID correlator.RequestID
	Dest      proto.NodeAddr
	Urgent    bool
}

// OlsrProtocolMessage is an unsolicited inbound OLSR control message
// (spec §6.2), opaque payload per spec §1's non-goal on wire byte
// layouts.
type OlsrProtocolMessage struct {
	MsgType    uint8
	Originator proto.NodeAddr
	TTL        int
	HopCount   int
	SeqNum     uint32
	Payload    []byte
}

// Client is the OLSR layer client stub (spec §4.D, §6.2).
type Client struct {
	corr        *correlator.Correlator
	rrcToOLSR   *msgchan.Channel
	olsrToRRC   *msgchan.Channel
	flaps       *FlapTracker
}

// NewClient creates an OLSR client stub over the given channel pair.
func NewClient(corr *correlator.Correlator, rrcToOLSR, olsrToRRC *msgchan.Channel) *Client {
	return &Client{corr: corr, rrcToOLSR: rrcToOLSR, olsrToRRC: olsrToRRC, flaps: NewFlapTracker()}
}

// NextHop resolves the next hop toward dest. ok is false on "no route",
// collapsing both historical 0 and 0xFF sentinels into one signal (spec
// §9 open question 3). On timeout, ok is false (spec §4.C default).
func (c *Client) NextHop(ctx context.Context, dest proto.NodeAddr) (proto.NodeAddr, bool) {
	resp, err := rpc[RouteResponse](ctx, c.corr, c.rrcToOLSR, c.olsrToRRC,
		msgchan.KindRouteRequest, msgchan.LayerRRC, msgchan.LayerOLSR,
		RouteRequest{Dest: dest}, correlator.HotPathTimeout)
	if err != nil || !resp.Available {
		return 0, false
	}
	if c.flaps.Observe(dest, resp.NextHop) {
		c.TriggerDiscovery(ctx, dest, false)
	}
	return resp.NextHop, true
}

// TriggerDiscovery is a fire-and-forget request to re-run route
// discovery for dest.
func (c *Client) TriggerDiscovery(ctx context.Context, dest proto.NodeAddr, urgent bool) {
	id := c.corr.NextID()
	msg := msgchan.LayerMessage{
		Header: msgchan.Header{
			Kind:          msgchan.KindDiscoveryRequest,
			CorrelationID: uint64(id),
			Timestamp:     time.Now(),
			Source:        msgchan.LayerRRC,
			Destination:   msgchan.LayerOLSR,
		},
		Body: DiscoveryRequest{RequestID: id, Dest: dest, Urgent: urgent},
	}
	// Fire-and-forget: a short send timeout, no reply awaited.
	_ = c.rrcToOLSR.Send(ctx, msg, 100*time.Millisecond)
}

// ForwardControlFrame hands an OLSR-bearing uplink frame to the OLSR
// layer over rrc_to_olsr (spec §4.I uplink step 3). It is fire-and-
// forget with a short send timeout: the RRC does not wait on a reply to
// a forwarded control payload.
func (c *Client) ForwardControlFrame(ctx context.Context, src proto.NodeAddr, payload []byte) {
	msg := msgchan.LayerMessage{
		Header: msgchan.Header{
			Kind:        msgchan.KindRelayIn,
			Timestamp:   time.Now(),
			Source:      msgchan.LayerRRC,
			Destination: msgchan.LayerOLSR,
		},
		Body: OlsrProtocolMessage{Originator: src, Payload: payload},
	}
	_ = c.rrcToOLSR.Send(ctx, msg, 100*time.Millisecond)
}

// HandleInbound dispatches a message arriving on olsr_to_rrc: response-
// kind messages are routed to their waiter via the correlator;
// unsolicited protocol messages are returned for the caller (the OLSR
// worker) to wrap into an NCSlotMessage, per spec §4.K.
func (c *Client) HandleInbound(msg msgchan.LayerMessage) (OlsrProtocolMessage, bool) {
	switch msg.Header.Kind {
	case msgchan.KindRouteResponse:
		Dispatch(c.corr, msg)
		return OlsrProtocolMessage{}, false
	default:
		if body, ok := msg.Body.(OlsrProtocolMessage); ok {
			return body, true
		}
		return OlsrProtocolMessage{}, false
	}
}
