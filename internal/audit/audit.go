// Package audit persists a write-mostly trail of FSM transitions, NC/DU-
// GU slot assignments, and periodic stats snapshots for offline
// inspection. It is deliberately not part of the RRC's authoritative
// state (spec §1 non-goal: no crash recovery, state is volatile) — it
// exists purely so a human can reconstruct what happened after the
// fact, the same supporting role internal/database/db.go plays for the
// teacher's DMR ID lookup cache.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// FSMTransitionRecord is one logged state transition.
type FSMTransitionRecord struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Dest      uint8
	FromState int
	ToState   int
	Event     int
	At        time.Time
}

// SlotAssignmentRecord is one logged NC or DU/GU slot assignment.
type SlotAssignmentRecord struct {
	ID       string `gorm:"primaryKey"`
	RunID    string `gorm:"index"`
	Kind     string // "nc" or "dugu"
	Node     uint8
	Slot     int
	Preempted bool
	At       time.Time
}

// StatsSnapshotRecord is a periodic counters snapshot.
type StatsSnapshotRecord struct {
	ID                   string `gorm:"primaryKey"`
	RunID                string `gorm:"index"`
	MessagesEnqueued     uint64
	MessagesDiscarded    uint64
	SlotsAllocated       uint64
	AllocationFailures   uint64
	NCSlotsAssigned      uint64
	At                   time.Time
}

// auditEvent is the internal envelope pushed onto the buffered write
// channel so hot-path callers never block on the database.
type auditEvent struct {
	kind string
	data any
}

// Recorder owns the GORM/SQLite connection and a bounded async write
// queue, following the teacher's internal/database/db.go PRAGMA-tuning
// and AutoMigrate pattern, paired with the periodic-ticker-driven
// background writer shape of internal/radioid/syncer.go.
type Recorder struct {
	db    *gorm.DB
	runID string
	log   *log.Logger
	queue chan auditEvent
	drops atomic.Uint64
}

// Config configures the audit database connection.
type Config struct {
	Path string
}

// NewRecorder opens (or creates) the SQLite audit database at cfg.Path,
// applies the same PRAGMA tuning the teacher uses for its lookup cache,
// and starts the async writer.
func NewRecorder(ctx context.Context, cfg Config, logger *log.Logger) (*Recorder, error) {
	gormLog := gormlogger.Default.LogMode(gormlogger.Silent)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path}, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
	}

	if err := db.AutoMigrate(&FSMTransitionRecord{}, &SlotAssignmentRecord{}, &StatsSnapshotRecord{}); err != nil {
		return nil, err
	}

	r := &Recorder{
		db:    db,
		runID: uuid.NewString(),
		log:   logger,
		queue: make(chan auditEvent, 256),
	}
	go r.writeLoop(ctx)
	return r, nil
}

func (r *Recorder) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev auditEvent) {
	var err error
	switch v := ev.data.(type) {
	case FSMTransitionRecord:
		err = r.db.Create(&v).Error
	case SlotAssignmentRecord:
		err = r.db.Create(&v).Error
	case StatsSnapshotRecord:
		err = r.db.Create(&v).Error
	}
	if err != nil {
		r.log.Error("audit write failed", "kind", ev.kind, "err", err)
	}
}

// enqueue pushes an event onto the bounded write queue, dropping (and
// counting) if the queue is full rather than blocking the caller.
func (r *Recorder) enqueue(kind string, data any) {
	select {
	case r.queue <- auditEvent{kind: kind, data: data}:
	default:
		r.drops.Add(1)
		r.log.Warn("audit queue full, dropping event", "kind", kind)
	}
}

// RecordTransition appends a TransitionRecord-shaped row.
func (r *Recorder) RecordTransition(dest uint8, from, to, event int, at time.Time) {
	r.enqueue("fsm", FSMTransitionRecord{
		ID: uuid.NewString(), RunID: r.runID, Dest: dest,
		FromState: from, ToState: to, Event: event, At: at,
	})
}

// RecordSlotAssignment appends a slot-assignment row.
func (r *Recorder) RecordSlotAssignment(kind string, node uint8, slotIdx int, preempted bool, at time.Time) {
	r.enqueue("slot", SlotAssignmentRecord{
		ID: uuid.NewString(), RunID: r.runID, Kind: kind, Node: node,
		Slot: slotIdx, Preempted: preempted, At: at,
	})
}

// RecordStats appends a stats snapshot row.
func (r *Recorder) RecordStats(s StatsSnapshotRecord) {
	s.ID = uuid.NewString()
	s.RunID = r.runID
	s.At = time.Now()
	r.enqueue("stats", s)
}

// DroppedCount returns the number of audit events dropped due to a full
// write queue.
func (r *Recorder) DroppedCount() uint64 {
	return r.drops.Load()
}

// Close releases the underlying database connection.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
