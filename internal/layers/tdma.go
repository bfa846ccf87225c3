package layers

import (
	"context"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/proto"
)

// SlotCheckRequest is sent RRC→TDMA (spec §6.3).
type SlotCheckRequest struct {
	RequestID correlator.RequestID
	NextHop   proto.NodeAddr
	Priority  proto.Priority
}

// SlotCheckResponse is sent TDMA→RRC (spec §6.3).
type SlotCheckResponse struct {
	RequestID correlator.RequestID
	Available bool
}

// NCSlotRequest is sent RRC→TDMA (spec §6.3).
type NCSlotRequest struct {
	RequestID correlator.RequestID
	Payload   []byte
}

// NCSlotResponse is sent TDMA→RRC (spec §6.3).
type NCSlotResponse struct {
	RequestID    correlator.RequestID
	Granted      bool
	AssignedSlot uint8
}

// SlotTableUpdate is sent RRC→TDMA periodically; RRC is the sender here,
// so it carries no request ID (fire-and-forget per spec §6.3).
type SlotTableUpdate struct {
	SlotTable [8]uint8
	Timestamp time.Time
}

// SlotStatusUpdate is sent TDMA→RRC (spec §6.3).
type SlotStatusUpdate struct {
	NCBitmap    [40]bool
	DUGUBitmap  [60]bool
	Timestamp   time.Time
}

// RxQueueNotification is sent TDMA→RRC (spec §6.3).
type RxQueueNotification struct {
	FrameCount int
	Source     proto.NodeAddr
	Dest       proto.NodeAddr
	IsForSelf  bool
	Timestamp  time.Time
}

// TDMAClient is the TDMA layer client stub (spec §4.D, §6.3).
type TDMAClient struct {
	corr       *correlator.Correlator
	rrcToTDMA  *msgchan.Channel
	tdmaToRRC  *msgchan.Channel
}

// NewTDMAClient creates a TDMA client stub over the given channel pair.
func NewTDMAClient(corr *correlator.Correlator, rrcToTDMA, tdmaToRRC *msgchan.Channel) *TDMAClient {
	return &TDMAClient{corr: corr, rrcToTDMA: rrcToTDMA, tdmaToRRC: tdmaToRRC}
}

// SlotAvailable reports whether a DU/GU slot can be admitted for
// (nextHop, priority). TDMA is authoritative; this consults it via RPC.
func (c *TDMAClient) SlotAvailable(ctx context.Context, nextHop proto.NodeAddr, priority proto.Priority) bool {
	resp, err := rpc[SlotCheckResponse](ctx, c.corr, c.rrcToTDMA, c.tdmaToRRC,
		msgchan.KindSlotCheckRequest, msgchan.LayerRRC, msgchan.LayerTDMA,
		SlotCheckRequest{NextHop: nextHop, Priority: priority}, correlator.HotPathTimeout)
	if err != nil {
		return false
	}
	return resp.Available
}

// NCSlotRequestRPC requests an NC slot grant for payload. On timeout or
// denial it returns (0, false).
func (c *TDMAClient) NCSlotRequestRPC(ctx context.Context, payload []byte) (uint8, bool) {
	resp, err := rpc[NCSlotResponse](ctx, c.corr, c.rrcToTDMA, c.tdmaToRRC,
		msgchan.KindNCSlotRequest, msgchan.LayerRRC, msgchan.LayerTDMA,
		NCSlotRequest{Payload: payload}, correlator.DefaultTimeout)
	if err != nil || !resp.Granted {
		return 0, false
	}
	return resp.AssignedSlot, true
}

// PublishSlotTable sends the periodic, RRC-owned SlotTableUpdate (spec
// §4.K housekeeping worker, §6.3).
func (c *TDMAClient) PublishSlotTable(ctx context.Context, table [8]uint8) {
	msg := msgchan.LayerMessage{
		Header: msgchan.Header{
			Kind:        msgchan.KindSlotTableUpdate,
			Timestamp:   time.Now(),
			Source:      msgchan.LayerRRC,
			Destination: msgchan.LayerTDMA,
		},
		Body: SlotTableUpdate{SlotTable: table, Timestamp: time.Now()},
	}
	_ = c.rrcToTDMA.Send(ctx, msg, 100*time.Millisecond)
}

// HandleInbound dispatches a message arriving on tdma_to_rrc: response-
// kind messages are routed to their waiter; unsolicited status/rx
// notifications are returned for the TDMA worker to act on.
func (c *TDMAClient) HandleInbound(msg msgchan.LayerMessage) (any, bool) {
	switch msg.Header.Kind {
	case msgchan.KindSlotCheckResponse, msgchan.KindNCSlotResponse:
		Dispatch(c.corr, msg)
		return nil, false
	case msgchan.KindSlotStatusUpdate, msgchan.KindRxQueueNotification:
		return msg.Body, true
	default:
		return nil, false
	}
}
