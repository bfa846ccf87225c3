// Package fsm implements the RRC connection state machine of spec §4.J:
// per-destination connection contexts and a global state sharing one
// enum, with a strict transition table. Each accepted transition is
// reported to the OnTransition callback; the machine itself keeps no
// transition log or counters.
//
// The shape generalizes the teacher's CallState handling in
// cmd/ysf2dmr/main.go (startYSFCall/startDMRCall/endCall, a 3-value
// enum guarded by ad hoc ifs) into an explicit table over the full
// NULL/IDLE/CONNECTION_SETUP/CONNECTED/RECONFIGURATION/RELEASE set, since
// spec §9 calls for replacing ad hoc state checks with an exhaustive
// transition table.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbehnke/tacrrc/internal/proto"
)

// State is shared by the global RRC state and every per-context state
// (spec §3 RRC System State).
type State int

const (
	StateNull State = iota
	StateIdle
	StateConnectionSetup
	StateConnected
	StateReconfiguration
	StateRelease
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateIdle:
		return "IDLE"
	case StateConnectionSetup:
		return "CONNECTION_SETUP"
	case StateConnected:
		return "CONNECTED"
	case StateReconfiguration:
		return "RECONFIGURATION"
	case StateRelease:
		return "RELEASE"
	default:
		return "INVALID"
	}
}

// Event is the set of triggers named in spec §4.J.
type Event int

const (
	EventPowerOn Event = iota
	EventDataRequest
	EventRouteAndSlotsAllocated
	EventSetupTimeout
	EventNoRoute
	EventRouteChange
	EventReconfigSuccess
	EventReconfigFail
	EventReconfigTimeout
	EventInactivityTimeout
	EventExplicitRelease
	EventReleaseComplete
	EventPowerOff
)

// transitions enumerates every allowed (from, event) -> to mapping from
// spec §4.J. A transition not present here must be refused.
var transitions = map[State]map[Event]State{
	StateNull: {
		EventPowerOn: StateIdle,
	},
	StateIdle: {
		EventDataRequest: StateConnectionSetup,
		EventPowerOff:    StateNull,
	},
	StateConnectionSetup: {
		EventRouteAndSlotsAllocated: StateConnected,
		EventSetupTimeout:           StateIdle,
		EventNoRoute:                StateIdle,
		EventPowerOff:               StateNull,
	},
	StateConnected: {
		EventRouteChange:       StateReconfiguration,
		EventInactivityTimeout: StateRelease,
		EventExplicitRelease:   StateRelease,
		EventPowerOff:          StateNull,
	},
	StateReconfiguration: {
		EventReconfigSuccess:   StateConnected,
		EventReconfigFail:      StateIdle,
		EventReconfigTimeout:   StateIdle,
		EventInactivityTimeout: StateRelease,
		EventExplicitRelease:   StateRelease,
		EventPowerOff:          StateNull,
	},
	StateRelease: {
		EventReleaseComplete: StateIdle,
		EventPowerOff:        StateNull,
	},
}

// ErrIllegalTransition is returned when an event is not allowed from the
// current state.
type ErrIllegalTransition struct {
	From  State
	Event Event
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("fsm: event %d is not allowed from state %s", e.Event, e.From)
}

// Default timing constants (spec §4.J, §3).
const (
	SetupTimeout      = 10 * time.Second
	InactivityTimeout = 30 * time.Second
)

// TransitionRecord is a logged transition, consumed by internal/audit.
type TransitionRecord struct {
	Dest  proto.NodeAddr // 0 for the global state
	From  State
	To    State
	Event Event
	At    time.Time
}

// Context is a per-destination connection context (spec §3 Connection
// Context).
type Context struct {
	Dest             proto.NodeAddr
	NextHop          proto.NodeAddr
	AllocatedSlots   []int // up to 4
	QoSClass         proto.Priority
	LastActivity     time.Time
	State            State
	SetupPending     bool
	ReconfigPending  bool
	createdAt        time.Time
}

// Machine owns the global state and the per-destination context pool
// (spec §4.J). A single coarse-grained mutex protects both, per spec §5.
type Machine struct {
	mu       sync.Mutex
	global   State
	contexts map[proto.NodeAddr]*Context
	log      []TransitionRecord
	onTransition func(TransitionRecord)
}

// New creates a machine starting in NULL state.
func New() *Machine {
	return &Machine{global: StateNull, contexts: make(map[proto.NodeAddr]*Context)}
}

// OnTransition registers a callback invoked (while not holding the
// machine's lock) after every successful transition, used by
// internal/rrc to feed internal/audit.
func (m *Machine) OnTransition(fn func(TransitionRecord)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// Global returns the current global state.
func (m *Machine) Global() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// Apply attempts to drive the global state machine with event, returning
// ErrIllegalTransition if the event is not allowed from the current
// state (spec §4.J: "transitions that are not in the allowed set must be
// refused, no silent fall-through").
func (m *Machine) Apply(event Event) error {
	m.mu.Lock()
	next, ok := transitions[m.global][event]
	if !ok {
		m.mu.Unlock()
		return &ErrIllegalTransition{From: m.global, Event: event}
	}
	from := m.global
	m.global = next
	if event == EventPowerOff {
		for dest := range m.contexts {
			delete(m.contexts, dest)
		}
	}
	cb := m.onTransition
	m.mu.Unlock()

	rec := TransitionRecord{From: from, To: next, Event: event, At: time.Now()}
	if cb != nil {
		cb(rec)
	}
	return nil
}

// ApplyContext drives the per-destination context's state machine. A
// context is created on first data_request for that destination (spec
// §3 Connection Context lifecycle); ApplyContext with EventDataRequest
// on an unknown dest creates it in IDLE first. While the global state is
// NULL (before power_on) no context is created and the event is refused.
func (m *Machine) ApplyContext(dest proto.NodeAddr, event Event) error {
	m.mu.Lock()
	ctx, ok := m.contexts[dest]
	if !ok {
		if event != EventDataRequest || m.global == StateNull {
			m.mu.Unlock()
			return &ErrIllegalTransition{From: StateNull, Event: event}
		}
		ctx = &Context{Dest: dest, State: StateIdle, createdAt: time.Now(), LastActivity: time.Now()}
		m.contexts[dest] = ctx
	}

	next, ok := transitions[ctx.State][event]
	if !ok {
		m.mu.Unlock()
		return &ErrIllegalTransition{From: ctx.State, Event: event}
	}
	from := ctx.State
	ctx.State = next
	ctx.LastActivity = time.Now()

	if event == EventReleaseComplete {
		delete(m.contexts, dest)
	}
	cb := m.onTransition
	m.mu.Unlock()

	rec := TransitionRecord{Dest: dest, From: from, To: next, Event: event, At: time.Now()}
	if cb != nil {
		cb(rec)
	}
	return nil
}

// Context returns a copy of the context for dest, if one exists.
func (m *Machine) Context(dest proto.NodeAddr) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[dest]
	if !ok {
		return Context{}, false
	}
	return *ctx, true
}

// SweepInactivity drives EventInactivityTimeout for every CONNECTED or
// RECONFIGURATION context whose LastActivity predates the inactivity
// timeout, returning the destinations released.
func (m *Machine) SweepInactivity(now time.Time, timeout time.Duration) []proto.NodeAddr {
	m.mu.Lock()
	var stale []proto.NodeAddr
	for dest, ctx := range m.contexts {
		if (ctx.State == StateConnected || ctx.State == StateReconfiguration) &&
			now.Sub(ctx.LastActivity) > timeout {
			stale = append(stale, dest)
		}
	}
	m.mu.Unlock()

	for _, dest := range stale {
		_ = m.ApplyContext(dest, EventInactivityTimeout)
	}
	return stale
}

// ContextCount returns the number of live per-destination contexts.
func (m *Machine) ContextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}
