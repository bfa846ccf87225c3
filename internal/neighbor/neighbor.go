// Package neighbor implements the neighbor & link state table of spec
// §4.E: a fixed-capacity table keyed by node ID, written from PHY
// updates, piggyback parses, and OLSR-triggered route updates.
//
// The record shape follows the teacher's internal/database/models.go
// struct style (plain exported fields, no embedded behavior beyond simple
// predicates); the table itself is a single coarse-grained mutex per
// spec §5, matching the "one structure per mutex, never nested" guidance
// of spec §9.
package neighbor

import (
	"sync"
	"time"

	"github.com/dbehnke/tacrrc/internal/proto"
)

const (
	// DefaultCapacity is the default number of neighbor table entries
	// (spec §3 Neighbor State, §4.E).
	DefaultCapacity = 40

	// goodPERMax, goodRSSIMin, goodSNRMin, goodAgeMax are the link
	// quality thresholds from spec §4.E.
	goodPERMax  = 50.0
	goodRSSIMin = -90.0
	goodSNRMin  = 10.0
	goodAgeMax  = 30 * time.Second
)

// Metrics is the PHY metrics snapshot carried in a neighbor record.
type Metrics struct {
	RSSIdBm    float32
	SNRdB      float32
	PERPercent float32
	PacketCount uint32
	LastUpdate time.Time
}

// State is a single neighbor's record (spec §3 Neighbor State).
type State struct {
	Node           proto.NodeAddr
	LastHeardTime  time.Time
	TXSlotBitmap   [10]byte
	RXSlotBitmap   [10]byte
	Metrics        Metrics
	CapTX          bool
	CapRX          bool
	Active         bool
	AssignedNCSlot uint8 // 1..40, or 0 if unassigned
}

// IsGoodLink reports whether the link to this neighbor currently meets
// the "good" threshold of spec §4.E.
func (s *State) IsGoodLink(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.Metrics.PERPercent > goodPERMax {
		return false
	}
	if s.Metrics.RSSIdBm < goodRSSIMin {
		return false
	}
	if s.Metrics.SNRdB < goodSNRMin {
		return false
	}
	return now.Sub(s.Metrics.LastUpdate) <= goodAgeMax
}

// Table is the fixed-capacity neighbor/link-state table, protected by a
// single mutex per the teacher's coarse-grained-lock convention.
type Table struct {
	capacity int
	timeout  time.Duration

	entries map[proto.NodeAddr]*State
	mu      sync.Mutex
}

// NewTable creates a neighbor table with the given capacity and
// inactivity timeout (spec §9 open question 4: wall-clock seconds by
// default, configurable).
func NewTable(capacity int, timeout time.Duration) *Table {
	return &Table{
		capacity: capacity,
		timeout:  timeout,
		entries:  make(map[proto.NodeAddr]*State, capacity),
	}
}

// Observe creates or refreshes a neighbor record on first observation
// (reception, piggyback, or PHY update), as required by spec §3's
// Neighbor State lifecycle.
func (t *Table) Observe(node proto.NodeAddr, now time.Time) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[node]
	if !ok {
		if len(t.entries) >= t.capacity {
			t.evictOldestLocked()
		}
		s = &State{Node: node}
		t.entries[node] = s
	}
	s.LastHeardTime = now
	s.Active = true
	return s
}

func (t *Table) evictOldestLocked() {
	var oldest proto.NodeAddr
	var oldestTime time.Time
	first := true
	for addr, s := range t.entries {
		if first || s.LastHeardTime.Before(oldestTime) {
			oldest = addr
			oldestTime = s.LastHeardTime
			first = false
		}
	}
	delete(t.entries, oldest)
}

// Get returns a snapshot copy of the neighbor record for node, if any.
// A copy is returned rather than the live pointer so callers never read
// fields the table is concurrently mutating under its own lock.
func (t *Table) Get(node proto.NodeAddr) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[node]
	if !ok {
		return State{}, false
	}
	return *s, ok
}

// UpdateMetrics applies a PHY metrics update to an existing or new
// record.
func (t *Table) UpdateMetrics(node proto.NodeAddr, m Metrics, now time.Time) {
	s := t.Observe(node, now)
	t.mu.Lock()
	s.Metrics = m
	t.mu.Unlock()
}

// AssignNCSlot records a neighbor's NC slot assignment.
func (t *Table) AssignNCSlot(node proto.NodeAddr, slot uint8, now time.Time) {
	s := t.Observe(node, now)
	t.mu.Lock()
	s.AssignedNCSlot = slot
	t.mu.Unlock()
}

// ClaimantOf returns the node currently believed to hold ncSlot, if any.
func (t *Table) ClaimantOf(ncSlot uint8) (proto.NodeAddr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, s := range t.entries {
		if s.Active && s.AssignedNCSlot == ncSlot {
			return addr, true
		}
	}
	return 0, false
}

// SweepInactive deactivates any neighbor silent for longer than the
// table's configured timeout. Returns the set of nodes deactivated this
// sweep.
func (t *Table) SweepInactive(now time.Time) []proto.NodeAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	var deactivated []proto.NodeAddr
	for addr, s := range t.entries {
		if s.Active && now.Sub(s.LastHeardTime) > t.timeout {
			s.Active = false
			s.AssignedNCSlot = 0
			deactivated = append(deactivated, addr)
		}
	}
	return deactivated
}

// ActiveNodes returns the set of currently active neighbor addresses.
func (t *Table) ActiveNodes() []proto.NodeAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]proto.NodeAddr, 0, len(t.entries))
	for addr, s := range t.entries {
		if s.Active {
			out = append(out, addr)
		}
	}
	return out
}

// Len returns the number of tracked entries (active or not).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
