package slot

import (
	"testing"
	"time"

	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/proto"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSupercycleIndexFormula(t *testing.T) {
	cases := []struct {
		cycle, frame, slotNum, want int
	}{
		{0, 0, 8, 1},
		{0, 1, 8, 3},
		{1, 0, 8, 21},
		{1, 9, 15, 46},
	}
	for _, c := range cases {
		got := SupercycleIndex(c.cycle, c.frame, c.slotNum)
		require.Equalf(t, c.want, got, "SupercycleIndex(%d,%d,%d)", c.cycle, c.frame, c.slotNum)
	}
}

// TestNCAssignUpdatesBitmapAndClaimant checks invariant 3 from spec §8:
// after an assignment of slot s to node n, bit s-1 is set and exactly one
// neighbor record has assigned_nc_slot = s.
func TestNCAssignUpdatesBitmapAndClaimant(t *testing.T) {
	tbl := neighbor.NewTable(neighbor.DefaultCapacity, 30*time.Second)
	mgr := NewNCManager(tbl)

	s, ok := mgr.Assign(1, 3, 0)
	require.True(t, ok, "assign should succeed")
	bitmap := mgr.BitmapSnapshot()
	require.Truef(t, bitmap[s-1], "bitmap bit %d should be set", s-1)
	claimant, ok := tbl.ClaimantOf(s)
	require.True(t, ok)
	require.Equal(t, proto.NodeAddr(1), claimant)
}

// TestNCRoundRobinScenarioS6 follows spec §8 scenario S6 literally.
func TestNCRoundRobinScenarioS6(t *testing.T) {
	tbl := neighbor.NewTable(neighbor.DefaultCapacity, 30*time.Second)
	mgr := NewNCManager(tbl)

	s, ok := mgr.Assign(1, 3, 0)
	require.True(t, ok)
	require.Equalf(t, uint8(2), s, "assign(1) with N=3")

	s2, ok := mgr.Assign(4, 4, 1)
	require.True(t, ok, "assign(4) should find a slot (round-robin candidate 1 is free)")
	require.Truef(t, s2 > 0 && s2 <= NCSlotCount, "assigned slot %d out of range", s2)
}

func TestNCConflictForcesFallback(t *testing.T) {
	tbl := neighbor.NewTable(neighbor.DefaultCapacity, 30*time.Second)
	mgr := NewNCManager(tbl)

	// node 1 claims slot 2 under N=3 (1%3+1=2)
	s1, ok := mgr.Assign(1, 3, 0) // -> slot 2
	require.True(t, ok)
	require.Equal(t, uint8(2), s1, "setup")

	// node 4 with N=4 also rounds to candidate 1 (4%4+1=1), which is free,
	// so pick a node whose round-robin candidate collides with slot 2.
	// node 2 with N=4: 2%4+1=3 (free). Use node that collides: node with
	// (node%N)+1==2 and N=4 => node%4==1 => node=5.
	s2, ok := mgr.Assign(5, 4, 0)
	require.True(t, ok, "assign(5) should succeed via conflict resolution")
	require.NotEqual(t, uint8(2), s2, "node 5 should not have been granted the conflicted slot 2")
}

// TestDUGUPreemptionHysteresis checks invariant 4 from spec §8: any
// preemption of incumbent I by requester R satisfies score(R)+500 <= score(I).
func TestDUGUPreemptionHysteresis(t *testing.T) {
	a := NewDUGUAllocator()
	now := time.Now()

	// Fill all 8 slots with a mediocre-score incumbent (Data3 relay far).
	incumbentIn := ScoreInput{Tier: TierRelayFar, HopCount: 3, Priority: proto.PriorityData3}
	for i := 0; i < DUGUSlotCount; i++ {
		idx, res := a.Allocate(proto.NodeAddr(10+i), proto.PriorityData3, incumbentIn, now)
		require.Equalf(t, AllocFree, res, "setup allocation %d", i)
		require.Equal(t, i, idx)
	}

	// Self-originated voice should preempt the worst incumbent.
	reqIn := ScoreInput{Tier: TierSelfOriginated, Priority: proto.PriorityDigitalVoice}
	idx, res := a.Allocate(proto.NodeAddr(99), proto.PriorityDigitalVoice, reqIn, now)
	require.Equal(t, AllocPreempted, res)
	entry := a.Entry(idx)
	require.Equal(t, proto.NodeAddr(99), entry.AssignedNode, "preempted entry should be assigned to requester")
}

// TestDUGUScenarioS7 follows spec §8 scenario S7 literally.
func TestDUGUScenarioS7(t *testing.T) {
	a := NewDUGUAllocator()
	now := time.Now()

	_, res := a.Allocate(9, proto.PriorityData3, ScoreInput{Tier: TierRelayFar, HopCount: 1, Priority: proto.PriorityData3}, now)
	require.Equal(t, AllocFree, res, "setup allocation")
	// Occupy the remaining slots with self-originated Data3 incumbents
	// (score 1000), which the requester cannot preempt, so no slot is free
	// and entry 0 (score 2200) is the only preemption candidate.
	for i := 1; i < DUGUSlotCount; i++ {
		_, res := a.Allocate(proto.NodeAddr(20+i), proto.PriorityData3, ScoreInput{Tier: TierSelfOriginated, Priority: proto.PriorityData3}, now)
		require.Equalf(t, AllocFree, res, "setup allocation %d", i)
	}
	before, _ := a.Stats()

	idx, res := a.Allocate(1, proto.PriorityDigitalVoice, ScoreInput{Tier: TierSelfOriginated, Priority: proto.PriorityDigitalVoice}, now)
	require.Equal(t, AllocPreempted, res, "want preemption of node 9's slot")
	entry := a.Entry(idx)
	require.Equal(t, proto.NodeAddr(1), entry.AssignedNode, "slot should now belong to requester node 1")
	after, _ := a.Stats()
	require.Equal(t, before+1, after, "slots_allocated should increment by 1")
}

// TestDUGUHysteresisProperty is a property-based check of invariant 4.
func TestDUGUHysteresisProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewDUGUAllocator()
		now := time.Now()

		for i := 0; i < DUGUSlotCount; i++ {
			hop := rapid.IntRange(0, 10).Draw(t, "hop")
			a.Allocate(proto.NodeAddr(10+i), proto.PriorityData3, ScoreInput{Tier: TierRelayFar, HopCount: hop, Priority: proto.PriorityData3}, now)
		}

		reqTier := Tier(rapid.IntRange(0, 2).Draw(t, "tier"))
		reqHop := rapid.IntRange(0, 10).Draw(t, "reqHop")
		reqIn := ScoreInput{Tier: reqTier, HopCount: reqHop, Priority: proto.PriorityAnalogVoicePTT}
		requesterScore := Score(reqIn)

		// capture incumbent scores before the call
		incumbentScores := make([]int, DUGUSlotCount)
		for i := 0; i < DUGUSlotCount; i++ {
			incumbentScores[i] = a.Entry(i).score
		}

		idx, res := a.Allocate(proto.NodeAddr(200), proto.PriorityAnalogVoicePTT, reqIn, now)
		if res == AllocPreempted {
			if requesterScore+OverrideHysteresis > incumbentScores[idx] {
				t.Fatalf("hysteresis violated: requester=%d incumbent=%d", requesterScore, incumbentScores[idx])
			}
		}
	})
}

func TestReservationQueueMergeAndScore(t *testing.T) {
	q := NewReservationQueue(40)
	now := time.Now()

	q.Add(Reservation{Node: 5, HopCount: 4, Traffic: TrafficData, Timestamp: now, PacketCount: 3})
	q.Add(Reservation{Node: 5, HopCount: 2, Traffic: TrafficVoice, Timestamp: now, PacketCount: 2})

	drained := q.Drain()
	require.Len(t, drained, 1, "want 1 merged reservation")
	r := drained[0]
	require.Equal(t, 2, r.HopCount, "shorter hop count should win")
	require.Equal(t, 5, r.PacketCount, "packet counts should accumulate")
	require.Equal(t, TrafficVoice, r.Traffic, "traffic should be upgraded to voice")
}

func TestReservationExpiry(t *testing.T) {
	q := NewReservationQueue(40)
	old := time.Now().Add(-time.Minute)
	q.Add(Reservation{Node: 2, Timestamp: old})

	expired := q.ExpireOlderThan(time.Now())
	require.Equal(t, []proto.NodeAddr{2}, expired, "want node 2 expired")
	require.Equal(t, 0, q.Len(), "queue should be empty after expiry")
}
