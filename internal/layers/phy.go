package layers

import (
	"context"
	"time"

	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/proto"
)

// MetricsRequest is sent RRC→PHY (spec §6.4).
type MetricsRequest struct {
	RequestID correlator.RequestID
	Node      proto.NodeAddr
}

// MetricsResponse is sent PHY→RRC (spec §6.4).
type MetricsResponse struct {
	RequestID  correlator.RequestID
	RSSIdBm    float32
	SNRdB      float32
	PERPercent float32
}

// LinkStatusRequest is sent RRC→PHY (spec §6.4).
type LinkStatusRequest struct {
	RequestID correlator.RequestID
	Node      proto.NodeAddr
}

// LinkStatusResponse is sent PHY→RRC (spec §6.4).
type LinkStatusResponse struct {
	RequestID correlator.RequestID
	Active    bool
}

// PacketCountRequest is sent RRC→PHY (spec §6.4).
type PacketCountRequest struct {
	RequestID correlator.RequestID
	Node      proto.NodeAddr
}

// PacketCountResponse is sent PHY→RRC (spec §6.4).
type PacketCountResponse struct {
	RequestID correlator.RequestID
	Count     uint32
}

// LinkStatusChange is an unsolicited PHY→RRC event (spec §6.4).
type LinkStatusChange struct {
	Node   proto.NodeAddr
	Active bool
}

// Default timeout fallback values (spec §4.C): no metrics means RSSI
// -120dBm, SNR 0, PER 1.0; link considered inactive; packet count 0.
var (
	DefaultMetrics = neighbor.Metrics{RSSIdBm: -120, SNRdB: 0, PERPercent: 1.0}
)

// PHYClient is the PHY layer client stub (spec §4.D, §6.4). Metrics are
// primarily served from the neighbor table's local cache; an RPC is
// issued only when the cache holds nothing for the node yet.
type PHYClient struct {
	corr      *correlator.Correlator
	rrcToPHY  *msgchan.Channel
	phyToRRC  *msgchan.Channel
	neighbors *neighbor.Table
}

// NewPHYClient creates a PHY client stub over the given channel pair and
// neighbor table cache.
func NewPHYClient(corr *correlator.Correlator, rrcToPHY, phyToRRC *msgchan.Channel, neighbors *neighbor.Table) *PHYClient {
	return &PHYClient{corr: corr, rrcToPHY: rrcToPHY, phyToRRC: phyToRRC, neighbors: neighbors}
}

// LinkMetrics returns the cached PHY metrics for node, falling back to an
// RPC (and then to DefaultMetrics on timeout) if nothing is cached.
func (c *PHYClient) LinkMetrics(ctx context.Context, node proto.NodeAddr) neighbor.Metrics {
	if s, ok := c.neighbors.Get(node); ok {
		return s.Metrics
	}
	resp, err := rpc[MetricsResponse](ctx, c.corr, c.rrcToPHY, c.phyToRRC,
		msgchan.KindMetricsRequest, msgchan.LayerRRC, msgchan.LayerPHY,
		MetricsRequest{Node: node}, correlator.DefaultTimeout)
	if err != nil {
		return DefaultMetrics
	}
	m := neighbor.Metrics{RSSIdBm: resp.RSSIdBm, SNRdB: resp.SNRdB, PERPercent: resp.PERPercent, LastUpdate: time.Now()}
	c.neighbors.UpdateMetrics(node, m, time.Now())
	return m
}

// LinkActive reports whether node's link is currently active.
func (c *PHYClient) LinkActive(ctx context.Context, node proto.NodeAddr) bool {
	if s, ok := c.neighbors.Get(node); ok {
		return s.Active
	}
	resp, err := rpc[LinkStatusResponse](ctx, c.corr, c.rrcToPHY, c.phyToRRC,
		msgchan.KindLinkStatusRequest, msgchan.LayerRRC, msgchan.LayerPHY,
		LinkStatusRequest{Node: node}, correlator.DefaultTimeout)
	if err != nil {
		return false
	}
	return resp.Active
}

// PacketCount returns node's observed packet count, defaulting to 0 on
// timeout.
func (c *PHYClient) PacketCount(ctx context.Context, node proto.NodeAddr) uint32 {
	resp, err := rpc[PacketCountResponse](ctx, c.corr, c.rrcToPHY, c.phyToRRC,
		msgchan.KindPacketCountRequest, msgchan.LayerRRC, msgchan.LayerPHY,
		PacketCountRequest{Node: node}, correlator.DefaultTimeout)
	if err != nil {
		return 0
	}
	return resp.Count
}

// HandleInbound dispatches a message arriving on phy_to_rrc.
func (c *PHYClient) HandleInbound(msg msgchan.LayerMessage) (LinkStatusChange, bool) {
	switch msg.Header.Kind {
	case msgchan.KindMetricsResponse, msgchan.KindLinkStatusResponse, msgchan.KindPacketCountResponse:
		Dispatch(c.corr, msg)
		return LinkStatusChange{}, false
	case msgchan.KindLinkStatusChange:
		if body, ok := msg.Body.(LinkStatusChange); ok {
			return body, true
		}
		return LinkStatusChange{}, false
	default:
		return LinkStatusChange{}, false
	}
}
