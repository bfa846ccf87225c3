package queue

import (
	"testing"

	"github.com/dbehnke/tacrrc/internal/proto"
	"pgregory.net/rapid"
)

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue(3)
	for i := 0; i < 3; i++ {
		if !q.Enqueue(proto.LinkFrame{Dest: proto.NodeAddr(i)}) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if q.Enqueue(proto.LinkFrame{Dest: 99}) {
		t.Fatalf("enqueue on full queue should fail")
	}
	if q.DropCount() != 1 {
		t.Fatalf("want 1 drop, got %d", q.DropCount())
	}
	for i := 0; i < 3; i++ {
		f, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d should have succeeded", i)
		}
		if f.Dest != proto.NodeAddr(i) {
			t.Fatalf("FIFO violated: want dest %d, got %d", i, f.Dest)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("dequeue on empty queue should fail")
	}
}

func TestQueueForPriorityRouting(t *testing.T) {
	sq := NewSharedQueues()
	if sq.QueueForPriority(proto.PriorityAnalogVoicePTT) != sq.AnalogVoice {
		t.Fatalf("PTT must route to AnalogVoice")
	}
	if sq.QueueForPriority(proto.PriorityRXRelay) != sq.RRCRelay {
		t.Fatalf("RXRelay must route to RRCRelay")
	}
	if sq.QueueForPriority(proto.PriorityDigitalVoice) != sq.DataFromL3[0] {
		t.Fatalf("DigitalVoice must route to DataFromL3[0]")
	}
	if sq.QueueForPriority(proto.PriorityData1) != sq.DataFromL3[1] {
		t.Fatalf("Data1 must route to DataFromL3[1]")
	}
	if sq.QueueForPriority(proto.PriorityData2) != sq.DataFromL3[2] {
		t.Fatalf("Data2 must route to DataFromL3[2]")
	}
	if sq.QueueForPriority(proto.PriorityData3) != sq.DataFromL3[3] {
		t.Fatalf("Data3 must route to DataFromL3[3]")
	}
}

// TestBoundedQueueProperty checks invariant 1 from spec §8 against
// FrameQueue: depth never exceeds capacity, FIFO order holds, and
// overflow always increments the drop counter.
func TestBoundedQueueProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 6).Draw(t, "capacity")
		q := NewFrameQueue(capacity)
		var model []proto.NodeAddr
		var drops uint64
		ops := rapid.IntRange(0, 40).Draw(t, "ops")

		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "isEnqueue") {
				dest := proto.NodeAddr(rapid.IntRange(0, 255).Draw(t, "dest"))
				ok := q.Enqueue(proto.LinkFrame{Dest: dest})
				if ok {
					model = append(model, dest)
				} else {
					drops++
				}
				if q.DropCount() != drops {
					t.Fatalf("drop counter mismatch: want %d got %d", drops, q.DropCount())
				}
			} else {
				f, ok := q.Dequeue()
				if len(model) == 0 {
					if ok {
						t.Fatalf("dequeue succeeded on empty model")
					}
					continue
				}
				if !ok {
					t.Fatalf("dequeue failed on non-empty model")
				}
				if f.Dest != model[0] {
					t.Fatalf("FIFO violated: want %d got %d", model[0], f.Dest)
				}
				model = model[1:]
			}
			if q.Depth() < 0 || q.Depth() > capacity {
				t.Fatalf("depth %d out of bounds [0,%d]", q.Depth(), capacity)
			}
		}
	})
}
