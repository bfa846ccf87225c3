// Package slot implements the TDMA scheduling components of spec §4.F-H:
// the 40-slot NC slot manager, the 8-entry DU/GU priority allocator, and
// the NC reservation queue whose drained entries the gateway feeds to the
// NC slot manager. The bitmap/table shape is
// grounded on the teacher's internal/database/models.go struct style;
// the timeout semantics mirror internal/network/timer.go.
package slot

import (
	"sync"
	"time"

	"github.com/dbehnke/tacrrc/internal/neighbor"
	"github.com/dbehnke/tacrrc/internal/proto"
)

// NCSlotCount is the number of Network-Control slots per supercycle.
const NCSlotCount = 40

// NCManager assigns NC slots 1..40 to nodes via round-robin-then-seeded-
// hash (spec §4.F) and maintains the global NC-status bitmap.
type NCManager struct {
	mu         sync.Mutex
	bitmap     [NCSlotCount]bool
	neighbors  *neighbor.Table
	assigned   uint64 // nc_slots_assigned counter
}

// NewNCManager creates an NC slot manager backed by the given neighbor
// table (used to resolve the current claimant of a conflicted slot).
func NewNCManager(neighbors *neighbor.Table) *NCManager {
	return &NCManager{neighbors: neighbors}
}

// conflicted reports whether slot s (1-indexed) is conflicted for
// requester n: the bitmap bit is set and the current claimant (per the
// neighbor table) is a different node. Own claims are never conflicts.
func (m *NCManager) conflicted(s uint8, n proto.NodeAddr) bool {
	if !m.bitmap[s-1] {
		return false
	}
	claimant, ok := m.neighbors.ClaimantOf(s)
	if !ok {
		// Bit set but no resolvable claimant: treat as conflicted to be
		// conservative, matching spec's "bit set ⇒ exactly one neighbor
		// record has assigned_nc_slot=k+1" invariant.
		return true
	}
	return claimant != n
}

// splitmix64 candidate generator, following the deterministic seeded-hash
// policy named in spec §4.F and §9 open question 5.
func splitmix64(seed uint64) uint64 {
	seed += 0x9E3779B97F4A7C15
	z := seed
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func seededCandidate(node proto.NodeAddr, epoch uint64, trial int) uint8 {
	seed := uint64(node)<<48 | epoch<<16 | uint64(trial)
	h := splitmix64(seed)
	return uint8(h%NCSlotCount) + 1
}

// Assign assigns an NC slot to node, given the current count of active
// nodes N and a monotonically advancing epoch (used to vary seeded-hash
// candidates between calls for the same node). Returns the assigned slot
// (1..40) and true, or 0 and false if every slot is conflicted.
func (m *NCManager) Assign(node proto.NodeAddr, activeNodeCount int, epoch uint64) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if activeNodeCount >= 1 && activeNodeCount <= NCSlotCount {
		candidate := uint8(int(node)%activeNodeCount) + 1
		if !m.conflicted(candidate, node) {
			return m.claimLocked(candidate, node)
		}
	}

	for trial := 0; trial < 16; trial++ {
		candidate := seededCandidate(node, epoch, trial)
		if !m.conflicted(candidate, node) {
			return m.claimLocked(candidate, node)
		}
	}

	for s := uint8(1); s <= NCSlotCount; s++ {
		if !m.conflicted(s, node) {
			return m.claimLocked(s, node)
		}
	}
	return 0, false
}

func (m *NCManager) claimLocked(s uint8, node proto.NodeAddr) (uint8, bool) {
	m.bitmap[s-1] = true
	m.assigned++
	m.neighbors.AssignNCSlot(node, s, time.Now())
	return s, true
}

// Preempt clears an incumbent's slot claim (briefly lowering the bitmap
// bit) so a higher-priority requester may claim it on its next Assign
// call, per spec §4.F's preemption note.
func (m *NCManager) Preempt(s uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s >= 1 && s <= NCSlotCount {
		m.bitmap[s-1] = false
	}
}

// BitmapSnapshot returns a copy of the 40-bit NC status bitmap.
func (m *NCManager) BitmapSnapshot() [NCSlotCount]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitmap
}

// SlotsAssigned returns the nc_slots_assigned stat counter.
func (m *NCManager) SlotsAssigned() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assigned
}

// SupercycleIndex implements spec §9 open question 5's literal formula,
// mapping (cycle, frame, slot) to a 1-based supercycle index. Adopted
// exactly as specified; no deviation.
func SupercycleIndex(cycle, frame, slotNum int) int {
	return (cycle * 20) + (frame * 2) + (slotNum - 8) + 1
}
