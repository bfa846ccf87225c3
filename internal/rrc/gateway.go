// Package rrc assembles every other package into the event loop of spec
// §4.K: five cooperating worker goroutines (OLSR, TDMA, APP, PHY,
// housekeeping) sharing a context, a WaitGroup, and the structures each
// touches under its own coarse-grained lock.
//
// The shape is a direct generalization of the teacher's
// cmd/ysf2dmr/main_goroutine.go GoroutineGateway: ctx/cancel/wg fields,
// wg.Add(N) before spawning, a per-worker `for { select { case
// <-ctx.Done(): return; ... } }` loop, and a Stop that cancels and joins.
// Where the teacher ran 4 workers over 2 protocol bridges, this runs 5
// over the RRC's OLSR/TDMA/APP/PHY/housekeeping split.
package rrc

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dbehnke/tacrrc/internal/audit"
	"github.com/dbehnke/tacrrc/internal/config"
	"github.com/dbehnke/tacrrc/internal/correlator"
	"github.com/dbehnke/tacrrc/internal/fsm"
	"github.com/dbehnke/tacrrc/internal/layers"
	"github.com/dbehnke/tacrrc/internal/msgchan"
	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/priority"
	"github.com/dbehnke/tacrrc/internal/proto"
	"github.com/dbehnke/tacrrc/internal/queue"
	"github.com/dbehnke/tacrrc/internal/slot"
)

// Gateway owns the full RRC node: every shared structure named in spec
// §3/§5, and the five workers that drive them.
type Gateway struct {
	cfg    *config.Config
	logger *log.Logger
	runID  string

	SelfNode proto.NodeAddr

	Queues       *queue.SharedQueues
	Neighbors    *neighbor.Table
	NCManager    *slot.NCManager
	DUGU         *slot.DUGUAllocator
	Reservations *slot.ReservationQueue
	FSM          *fsm.Machine
	Correlator   *correlator.Correlator

	OLSR *layers.Client
	TDMA *layers.TDMAClient
	PHY  *layers.PHYClient

	Plane *priority.Plane

	Audit *audit.Recorder // nil if disabled

	rrcToOLSR, olsrToRRC *msgchan.Channel
	rrcToTDMA, tdmaToRRC *msgchan.Channel
	rrcToPHY, phyToRRC   *msgchan.Channel

	epoch atomicEpoch

	selfNCSlot uint8               // 0 until this node's first NC assignment lands
	piggyback  *proto.PiggybackTLV // current outgoing piggyback, rebuilt when it decays to TTL 0

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// piggybackTTLFrames is the number of housekeeping ticks a piggyback TLV
// stays fresh for before housekeeping's TTL sweep forces a rebuild.
const piggybackTTLFrames = 10

// New builds a Gateway from configuration, wiring every component named
// in SPEC_FULL.md §4.
func New(cfg *config.Config, logger *log.Logger, rec *audit.Recorder) *Gateway {
	cap := cfg.Queues.ChannelCapacity
	neighbors := neighbor.NewTable(neighbor.DefaultCapacity, cfg.NeighborTimeout())
	corr := correlator.New()

	rrcToOLSR, olsrToRRC := msgchan.New(cap), msgchan.New(cap)
	rrcToTDMA, tdmaToRRC := msgchan.New(cap), msgchan.New(cap)
	rrcToPHY, phyToRRC := msgchan.New(cap), msgchan.New(cap)

	olsrClient := layers.NewClient(corr, rrcToOLSR, olsrToRRC)
	tdmaClient := layers.NewTDMAClient(corr, rrcToTDMA, tdmaToRRC)
	phyClient := layers.NewPHYClient(corr, rrcToPHY, phyToRRC, neighbors)

	fsmMachine := fsm.New()
	dugu := slot.NewDUGUAllocator()
	queues := queue.NewSharedQueues()

	g := &Gateway{
		cfg:          cfg,
		logger:       logger,
		runID:        uuid.NewString(),
		SelfNode:     proto.NodeAddr(cfg.Node.ID),
		Queues:       queues,
		Neighbors:    neighbors,
		NCManager:    slot.NewNCManager(neighbors),
		DUGU:         dugu,
		Reservations: slot.NewReservationQueue(neighbor.DefaultCapacity),
		FSM:          fsmMachine,
		Correlator:   corr,
		OLSR:         olsrClient,
		TDMA:         tdmaClient,
		PHY:          phyClient,
		Audit:        rec,
		rrcToOLSR:    rrcToOLSR,
		olsrToRRC:    olsrToRRC,
		rrcToTDMA:    rrcToTDMA,
		tdmaToRRC:    tdmaToRRC,
		rrcToPHY:     rrcToPHY,
		phyToRRC:     phyToRRC,
	}
	g.Plane = &priority.Plane{
		Queues:    queues,
		Neighbors: neighbors,
		OLSR:      olsrClient,
		TDMA:      tdmaClient,
		FSM:       fsmMachine,
		DUGU:      dugu,
		SelfNode:  g.SelfNode,
	}
	if rec != nil {
		fsmMachine.OnTransition(func(rec2 fsm.TransitionRecord) {
			rec.RecordTransition(uint8(rec2.Dest), int(rec2.From), int(rec2.To), int(rec2.Event), rec2.At)
		})
		g.Plane.OnSlotAssigned = func(node proto.NodeAddr, slotIdx int, preempted bool) {
			rec.RecordSlotAssignment("dugu", uint8(node), slotIdx, preempted, time.Now())
		}
	}
	return g
}

// Run starts all five workers and blocks until ctx is cancelled or a
// signal-driven shutdown is requested via Stop.
func (g *Gateway) Run(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)
	_ = g.FSM.Apply(fsm.EventPowerOn)

	g.wg.Add(5)
	go g.olsrWorker()
	go g.tdmaWorker()
	go g.appWorker()
	go g.phyWorker()
	go g.housekeepingWorker()

	g.logger.Info("gateway started", "node", g.SelfNode, "run_id", g.runID)
	<-g.ctx.Done()
	g.wg.Wait()
	_ = g.FSM.Apply(fsm.EventPowerOff)
	g.logger.Info("gateway stopped")
	return nil
}

// Stop signals every worker to exit and waits for them to join.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
		g.wg.Wait()
	}
}

// olsrWorker implements spec §4.K's OLSR worker: non-blocking poll on
// olsr_to_rrc, delivery of route responses to their waiters, and
// NCSlotMessage assembly for inbound protocol payloads. It does not
// detect route changes: no inbound message drives EventRouteChange.
func (g *Gateway) olsrWorker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}
		msg, err := g.olsrToRRC.Receive(g.ctx, 1*time.Millisecond)
		if err != nil {
			continue
		}
		body, isProtocolMsg := g.OLSR.HandleInbound(msg)
		if !isProtocolMsg {
			continue
		}
		now := time.Now()

		// An inbound OLSR protocol packet is itself evidence of the
		// originator's reservation intent (spec §3 NC Reservation
		// Request, §4.H): feed the reservation queue so housekeeping's
		// drain-and-assign pass has something to work with.
		g.Reservations.Add(slot.Reservation{
			Node:        body.Originator,
			HopCount:    body.HopCount,
			Traffic:     slot.TrafficData,
			Timestamp:   now,
			PacketCount: 1,
		})

		ncMsg := proto.NCSlotMessage{
			AssignedSlot: g.selfNCSlot,
			OLSRMessage:  body.Payload,
			Piggyback:    g.piggyback,
			Source:       body.Originator,
			Timestamp:    uint32(now.Unix()),
			Valid:        true,
		}
		g.Queues.NCSlot.Enqueue(ncMsg)
	}
}

// tdmaWorker implements spec §4.K's TDMA worker: it polls tdma_to_rrc,
// delivering responses to their waiters, and drains rx_queue through the
// uplink pipeline on every poll. SlotStatusUpdate bodies are not applied;
// no slot table is refreshed from them.
func (g *Gateway) tdmaWorker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}
		msg, err := g.tdmaToRRC.Receive(g.ctx, 1*time.Millisecond)
		if err == nil {
			if _, ok := g.TDMA.HandleInbound(msg); ok {
				// RxQueueNotification/SlotStatusUpdate bodies are not
				// used; rx_queue is drained below on every poll whether
				// or not a notification arrived.
			}
		}
		for g.Plane.Uplink(g.ctx) {
		}
	}
}

// appWorker implements spec §4.K's APP worker: drains app_to_rrc and
// runs the downlink pipeline.
func (g *Gateway) appWorker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}
		if !g.Plane.Downlink(g.ctx) {
			time.Sleep(1 * time.Millisecond)
		}
	}
}

// phyWorker implements spec §4.K's PHY worker: applies unsolicited
// LinkStatusChange events to the neighbor table.
func (g *Gateway) phyWorker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}
		msg, err := g.phyToRRC.Receive(g.ctx, 1*time.Millisecond)
		if err != nil {
			continue
		}
		change, ok := g.PHY.HandleInbound(msg)
		if !ok {
			continue
		}
		now := time.Now()
		s := g.Neighbors.Observe(change.Node, now)
		s.Active = change.Active
		if !s.Active {
			g.logger.Warn("link quality degraded", "node", change.Node)
		}
	}
}

// housekeepingWorker implements spec §4.K's housekeeping worker: a 1s
// tick running FSM inactivity sweep, reservation expiry, DU/GU stale
// sweep, and piggyback TTL decrement; every 10s a slot-table publish;
// every 30s a stats emission.
func (g *Gateway) housekeepingWorker() {
	defer g.wg.Done()

	tick := time.NewTicker(g.cfg.HousekeepingTick())
	defer tick.Stop()

	// The publish and stats intervals are configured in seconds; convert
	// them to a number of housekeeping ticks (at least one).
	tickMillis := g.cfg.Housekeeping.TickMillis
	slotPublishEvery := g.cfg.Housekeeping.SlotPublishSeconds * 1000 / tickMillis
	if g.cfg.Housekeeping.SlotPublishSeconds > 0 && slotPublishEvery == 0 {
		slotPublishEvery = 1
	}
	statsEvery := g.cfg.Housekeeping.StatsIntervalSeconds * 1000 / tickMillis
	if g.cfg.Housekeeping.StatsIntervalSeconds > 0 && statsEvery == 0 {
		statsEvery = 1
	}
	var ticks int

	for {
		select {
		case <-g.ctx.Done():
			return
		case now := <-tick.C:
			ticks++
			released := g.FSM.SweepInactivity(now, g.cfg.InactivityTimeout())
			for _, dest := range released {
				_ = g.FSM.ApplyContext(dest, fsm.EventReleaseComplete)
			}
			g.Reservations.ExpireOlderThan(now)
			g.DUGU.SweepStale(now)
			g.Neighbors.SweepInactive(now)
			if g.piggyback != nil && !g.piggyback.DecrementTTL() {
				g.piggyback = nil
			}

			g.processReservations(now)
			g.refreshSelfNCSlot(now)

			if slotPublishEvery > 0 && ticks%slotPublishEvery == 0 {
				var table [8]uint8
				g.TDMA.PublishSlotTable(g.ctx, table)
			}
			if statsEvery > 0 && ticks%statsEvery == 0 {
				g.emitStats()
			}
		}
	}
}

// processReservations drains the NC reservation queue in score order
// (spec §4.H's processing step) and drives the NC slot manager with each
// entry, so the highest-priority reservation is assigned first.
func (g *Gateway) processReservations(now time.Time) {
	for _, r := range g.Reservations.Drain() {
		activeCount := len(g.Neighbors.ActiveNodes()) + 1 // +1 for this node
		slotIdx, ok := g.NCManager.Assign(r.Node, activeCount, g.epoch.next())
		if !ok {
			g.logger.Warn("nc slot assignment failed: all slots conflicted", "node", r.Node)
			continue
		}
		if g.Audit != nil {
			g.Audit.RecordSlotAssignment("nc", uint8(r.Node), int(slotIdx), false, now)
		}
	}
}

// refreshSelfNCSlot claims this node's own NC slot on first use, then
// every tick rebuilds the outgoing piggyback (if it has decayed) and
// enqueues this node's NC-slot message for the TDMA scheduler to drain
// in its assigned supercycle slot (spec §4.F, §4.K).
func (g *Gateway) refreshSelfNCSlot(now time.Time) {
	if g.selfNCSlot == 0 {
		activeCount := len(g.Neighbors.ActiveNodes()) + 1
		slotIdx, ok := g.NCManager.Assign(g.SelfNode, activeCount, g.epoch.next())
		if !ok {
			return
		}
		g.selfNCSlot = slotIdx
		if g.Audit != nil {
			g.Audit.RecordSlotAssignment("nc", uint8(g.SelfNode), int(slotIdx), false, now)
		}
	}
	if g.piggyback == nil {
		g.piggyback = g.buildPiggyback()
	}
	g.Queues.NCSlot.Enqueue(proto.NCSlotMessage{
		AssignedSlot:   g.selfNCSlot,
		Piggyback:      g.piggyback,
		Source:         g.SelfNode,
		Timestamp:      uint32(now.Unix()),
		SequenceNumber: uint32(g.epoch.next()),
		Valid:          true,
	})
}

// buildPiggyback assembles this node's outgoing piggyback TLV (spec §3
// Piggyback TLV) from the NC manager's bitmap and its own assigned slot.
func (g *Gateway) buildPiggyback() *proto.PiggybackTLV {
	return &proto.PiggybackTLV{
		Type:           proto.PiggybackTLVType,
		Source:         g.SelfNode,
		NCStatusBitmap: g.NCManager.BitmapSnapshot(),
		OwnNCSlot:      g.selfNCSlot,
		TTL:            piggybackTTLFrames,
	}
}

func (g *Gateway) emitStats() {
	slotsAllocated, allocFailures := g.DUGU.Stats()
	g.logger.Info("stats",
		"messages_enqueued", humanize.Comma(int64(g.Plane.Stats.MessagesEnqueuedTotal)),
		"messages_discarded_no_slots", humanize.Comma(int64(g.Plane.Stats.MessagesDiscardedNoSlots)),
		"route_discoveries", humanize.Comma(int64(g.Plane.Stats.RouteDiscoveriesTriggered)),
		"slots_allocated", humanize.Comma(int64(slotsAllocated)),
		"allocation_failures", humanize.Comma(int64(allocFailures)),
		"nc_slots_assigned", humanize.Comma(int64(g.NCManager.SlotsAssigned())),
		"contexts", g.FSM.ContextCount(),
	)
	if g.Audit != nil {
		g.Audit.RecordStats(audit.StatsSnapshotRecord{
			MessagesEnqueued:   g.Plane.Stats.MessagesEnqueuedTotal,
			MessagesDiscarded:  g.Plane.Stats.MessagesDiscardedNoSlots,
			SlotsAllocated:     slotsAllocated,
			AllocationFailures: allocFailures,
			NCSlotsAssigned:    g.NCManager.SlotsAssigned(),
		})
	}
}

// atomicEpoch is a small monotonic counter feeding the NC manager's
// seeded-hash candidate generation (spec §4.F); a plain field is
// sufficient since only the housekeeping worker advances it.
type atomicEpoch struct {
	value uint64
}

func (e *atomicEpoch) next() uint64 {
	e.value++
	return e.value
}
