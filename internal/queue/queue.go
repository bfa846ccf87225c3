// Package queue implements the shared frame/app queues of spec §4.B: a
// fixed-capacity FIFO per priority class, plus analog-voice, RX, relay,
// NC-slot, and application-packet queues. Each queue is protected by its
// own mutex, matching the teacher's one-lock-per-structure convention
// (internal/network/ring_buffer.go generalized from a byte ring to a ring
// of proto.LinkFrame / proto.NCSlotMessage / proto.AppPacket records).
package queue

import (
	"sync"

	"github.com/dbehnke/tacrrc/internal/proto"
)

// FrameQueue is a bounded FIFO of link frames.
type FrameQueue struct {
	mu        sync.Mutex
	buf       []proto.LinkFrame
	head      int
	count     int
	capacity  int
	dropCount uint64
}

// NewFrameQueue creates a frame queue with the given capacity.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{buf: make([]proto.LinkFrame, capacity), capacity: capacity}
}

// Enqueue adds a frame to the tail. Returns false (and bumps the drop
// counter) if the queue is full.
func (q *FrameQueue) Enqueue(f proto.LinkFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == q.capacity {
		q.dropCount++
		return false
	}
	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = f
	q.count++
	return true
}

// Dequeue removes and returns the head frame. ok is false on an empty
// queue.
func (q *FrameQueue) Dequeue() (f proto.LinkFrame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return proto.LinkFrame{}, false
	}
	f = q.buf[q.head]
	q.head = (q.head + 1) % q.capacity
	q.count--
	return f, true
}

// Depth returns the current number of queued frames.
func (q *FrameQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// DropCount returns the number of enqueues dropped due to a full queue.
func (q *FrameQueue) DropCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropCount
}

// IsEmpty reports whether the queue currently holds no frames (spec
// invariant 6: a priority queue is empty iff head == tail).
func (q *FrameQueue) IsEmpty() bool {
	return q.Depth() == 0
}

// AppQueue is a bounded FIFO of application packets.
type AppQueue struct {
	mu        sync.Mutex
	buf       []proto.AppPacket
	head      int
	count     int
	capacity  int
	dropCount uint64
}

// NewAppQueue creates an application-packet queue with the given
// capacity.
func NewAppQueue(capacity int) *AppQueue {
	return &AppQueue{buf: make([]proto.AppPacket, capacity), capacity: capacity}
}

func (q *AppQueue) Enqueue(p proto.AppPacket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == q.capacity {
		q.dropCount++
		return false
	}
	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = p
	q.count++
	return true
}

func (q *AppQueue) Dequeue() (p proto.AppPacket, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return proto.AppPacket{}, false
	}
	p = q.buf[q.head]
	q.head = (q.head + 1) % q.capacity
	q.count--
	return p, true
}

func (q *AppQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *AppQueue) DropCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropCount
}

// NCQueue is a bounded FIFO of NC slot messages (capacity 10 per spec
// §4.B, distinct from the link-frame queues).
type NCQueue struct {
	mu        sync.Mutex
	buf       []proto.NCSlotMessage
	head      int
	count     int
	capacity  int
	dropCount uint64
}

func NewNCQueue(capacity int) *NCQueue {
	return &NCQueue{buf: make([]proto.NCSlotMessage, capacity), capacity: capacity}
}

func (q *NCQueue) Enqueue(m proto.NCSlotMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == q.capacity {
		q.dropCount++
		return false
	}
	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = m
	q.count++
	return true
}

func (q *NCQueue) Dequeue() (m proto.NCSlotMessage, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return proto.NCSlotMessage{}, false
	}
	m = q.buf[q.head]
	q.head = (q.head + 1) % q.capacity
	q.count--
	return m, true
}

func (q *NCQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// PriorityClassCount is the number of data_from_l3 priority sub-queues
// (spec §3/§8: data_from_l3[0..3], four queues — slot 0 for
// Digital-Voice, slots 1/2/3 for Data1/Data2/Data3).
const PriorityClassCount = 4

// SharedQueues aggregates every queue named in spec §4.B.
type SharedQueues struct {
	AnalogVoice *FrameQueue
	DataFromL3  [PriorityClassCount]*FrameQueue
	RX          *FrameQueue
	RRCRelay    *FrameQueue
	NCSlot      *NCQueue
	AppToRRC    *AppQueue
	RRCToApp    *AppQueue
}

// NewSharedQueues builds the full set of queues with spec-default
// capacities.
func NewSharedQueues() *SharedQueues {
	sq := &SharedQueues{
		AnalogVoice: NewFrameQueue(proto.FrameQueueSize),
		RX:          NewFrameQueue(proto.FrameQueueSize),
		RRCRelay:    NewFrameQueue(proto.FrameQueueSize),
		NCSlot:      NewNCQueue(proto.FrameQueueSize),
		AppToRRC:    NewAppQueue(proto.AppQueueSize),
		RRCToApp:    NewAppQueue(proto.AppQueueSize),
	}
	for i := range sq.DataFromL3 {
		sq.DataFromL3[i] = NewFrameQueue(proto.FrameQueueSize)
	}
	return sq
}

// QueueForPriority returns the frame queue a downlink frame of the given
// priority belongs in. PriorityAnalogVoicePTT routes to AnalogVoice
// unconditionally (voice always preempts, spec §4.I step 6);
// PriorityRXRelay routes to RRCRelay; Digital-Voice and the Data1..Data3
// classes each get their own data_from_l3 slot — index 0 for
// Digital-Voice, 1/2/3 for Data1/Data2/Data3 respectively, matching
// spec §8 scenario S1's literal data_from_l3[3] for a Data3 (SMS) frame.
func (sq *SharedQueues) QueueForPriority(p proto.Priority) *FrameQueue {
	switch p {
	case proto.PriorityAnalogVoicePTT:
		return sq.AnalogVoice
	case proto.PriorityRXRelay:
		return sq.RRCRelay
	case proto.PriorityDigitalVoice, proto.PriorityData1, proto.PriorityData2, proto.PriorityData3:
		idx := int(p) - int(proto.PriorityDigitalVoice)
		if idx < 0 || idx >= PriorityClassCount {
			idx = PriorityClassCount - 1
		}
		return sq.DataFromL3[idx]
	default:
		return sq.DataFromL3[PriorityClassCount-1]
	}
}
