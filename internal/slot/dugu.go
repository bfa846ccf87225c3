package slot

import (
	"sync"
	"time"

	"github.com/dbehnke/tacrrc/internal/proto"
)

// DUGUSlotCount is the number of DU/GU data-plane slots (indices 0..7).
const DUGUSlotCount = 8

// OverrideHysteresis is the minimum score margin a requester must beat an
// incumbent by to preempt its slot (spec §4.G).
const OverrideHysteresis = 500

// SlotTimeout is the idle duration after which an allocated DU/GU slot is
// auto-released in the periodic sweep (spec §3, §4.G).
const SlotTimeout = 60 * time.Second

// Tier is the originator class used in the three-tier priority score.
type Tier int

const (
	TierSelfOriginated Tier = iota
	TierRelayNear            // hop_count <= 2
	TierRelayFar             // hop_count >= 3
)

// ScoreInput captures the fields spec §4.G's score formula consumes.
type ScoreInput struct {
	Tier        Tier
	HopCount    int
	PacketCount int
	Timestamp   int64 // unix seconds or any monotonically increasing counter
	Priority    proto.Priority
}

// Score computes the three-tier priority score (lower = higher priority)
// exactly per spec §4.G.
func Score(in ScoreInput) int {
	var base int
	switch in.Tier {
	case TierSelfOriginated:
		base = 1000
	case TierRelayNear:
		base = 2000 + in.HopCount*100
	case TierRelayFar:
		base = 2000 + in.HopCount*200
	}

	bias := in.PacketCount
	if bias > 10 {
		bias = 10
	}
	score := base - bias

	score += int(in.Timestamp % 100)

	score += (4 - int(in.Priority)) * 50

	return score
}

// DUGUEntry is a single DU/GU slot allocation record (spec §3).
type DUGUEntry struct {
	Allocated      bool
	AssignedNode   proto.NodeAddr
	Priority       proto.Priority
	AllocationTime time.Time
	LastUsedTime   time.Time
	score          int
}

// AllocResult reports the outcome of an allocation attempt.
type AllocResult int

const (
	AllocReused AllocResult = iota
	AllocFree
	AllocPreempted
	AllocNoSlot
)

// DUGUAllocator owns the 8 DU/GU slot entries (spec §4.G).
type DUGUAllocator struct {
	mu                sync.Mutex
	entries           [DUGUSlotCount]DUGUEntry
	slotsAllocated    uint64
	allocationFailures uint64
}

// NewDUGUAllocator creates an empty allocator.
func NewDUGUAllocator() *DUGUAllocator {
	return &DUGUAllocator{}
}

// Allocate assigns a slot for (nextHop, priority) with the given score
// input, following the reuse → free → preempt order of spec §4.G.
// Returns the slot index and the outcome; on AllocNoSlot the index is -1.
func (a *DUGUAllocator) Allocate(nextHop proto.NodeAddr, priority proto.Priority, in ScoreInput, now time.Time) (int, AllocResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	requesterScore := Score(in)

	for i := range a.entries {
		e := &a.entries[i]
		if e.Allocated && e.AssignedNode == nextHop && e.Priority == priority {
			e.LastUsedTime = now
			return i, AllocReused
		}
	}

	for i := range a.entries {
		e := &a.entries[i]
		if !e.Allocated {
			*e = DUGUEntry{
				Allocated:      true,
				AssignedNode:   nextHop,
				Priority:       priority,
				AllocationTime: now,
				LastUsedTime:   now,
				score:          requesterScore,
			}
			a.slotsAllocated++
			return i, AllocFree
		}
	}

	worstIdx := -1
	worstScore := -1
	for i := range a.entries {
		e := &a.entries[i]
		if e.score-requesterScore >= OverrideHysteresis && e.score > worstScore {
			worstScore = e.score
			worstIdx = i
		}
	}
	if worstIdx >= 0 {
		a.entries[worstIdx] = DUGUEntry{
			Allocated:      true,
			AssignedNode:   nextHop,
			Priority:       priority,
			AllocationTime: now,
			LastUsedTime:   now,
			score:          requesterScore,
		}
		a.slotsAllocated++
		return worstIdx, AllocPreempted
	}

	a.allocationFailures++
	return -1, AllocNoSlot
}

// Release clears the given slot entry.
func (a *DUGUAllocator) Release(idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx >= 0 && idx < DUGUSlotCount {
		a.entries[idx] = DUGUEntry{}
	}
}

// SweepStale auto-releases any entry idle past SlotTimeout.
func (a *DUGUAllocator) SweepStale(now time.Time) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var released []int
	for i := range a.entries {
		e := &a.entries[i]
		if e.Allocated && now.Sub(e.LastUsedTime) > SlotTimeout {
			*e = DUGUEntry{}
			released = append(released, i)
		}
	}
	return released
}

// Entry returns a copy of the entry at idx.
func (a *DUGUAllocator) Entry(idx int) DUGUEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < 0 || idx >= DUGUSlotCount {
		return DUGUEntry{}
	}
	return a.entries[idx]
}

// Stats returns the slots_allocated / allocation_failures counters.
func (a *DUGUAllocator) Stats() (slotsAllocated, allocationFailures uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slotsAllocated, a.allocationFailures
}
