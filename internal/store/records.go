package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/loop"
	"github.com/mmcdole/feedplay/internal/metrics"
)

const (
	DefaultRecordCapacity = 180
	DefaultFlushDelay     = 800 * time.Millisecond
)

// Update is one merge request against a playback record. Zero fields leave the
// stored value alone unless Force is set, in which case Time, Completed and the
// derived progress are taken as given.
type Update struct {
	Time      time.Duration
	Duration  time.Duration
	Completed bool
	Force     bool
}

// RecordOptions tunes a RecordStore
type RecordOptions struct {
	Capacity   int
	FlushDelay time.Duration
}

// RecordStore holds playback progress per Identity. It is confined to the
// event loop; all methods must be called from loop callbacks.
type RecordStore struct {
	db     *DB
	rt     loop.Runtime
	logger *slog.Logger

	capacity   int
	flushDelay time.Duration

	records map[string]domain.PlaybackRecord
	dirty   map[string]struct{}
	evicted map[string]struct{}

	lastStamp  time.Time
	revision   uint64
	flushTimer loop.Timer
	closed     bool
}

// NewRecordStore loads existing records from db. Corrupt entries are dropped.
func NewRecordStore(db *DB, rt loop.Runtime, opts RecordOptions, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultRecordCapacity
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}

	s := &RecordStore{
		db:         db,
		rt:         rt,
		logger:     logger,
		capacity:   opts.Capacity,
		flushDelay: opts.FlushDelay,
		records:    make(map[string]domain.PlaybackRecord),
		dirty:      make(map[string]struct{}),
		evicted:    make(map[string]struct{}),
	}
	s.load()
	return s
}

func (s *RecordStore) load() {
	corrupt := 0
	err := s.db.forEach(bucketRecords, func(key string, value []byte) {
		var rec domain.PlaybackRecord
		if key == "" || json.Unmarshal(value, &rec) != nil {
			corrupt++
			s.evicted[key] = struct{}{}
			return
		}
		s.records[key] = sanitize(rec)
		if rec.UpdatedAt.After(s.lastStamp) {
			s.lastStamp = rec.UpdatedAt
		}
	})
	if err != nil {
		s.logger.Warn("failed to load playback records, starting empty", "error", err)
		s.records = make(map[string]domain.PlaybackRecord)
		s.evicted = make(map[string]struct{})
		return
	}
	if corrupt > 0 {
		s.logger.Warn("dropped corrupt playback records", "count", corrupt)
	}
	if s.evict() > 0 || corrupt > 0 {
		s.scheduleFlush()
	}
}

func sanitize(rec domain.PlaybackRecord) domain.PlaybackRecord {
	rec.Time = max(rec.Time, 0)
	rec.Duration = max(rec.Duration, 0)
	rec.Progress = min(max(rec.Progress, 0), 100)
	if rec.Completed {
		rec.Progress = 100
	}
	return rec
}

// Get returns the record for id
func (s *RecordStore) Get(id string) (domain.PlaybackRecord, bool) {
	if id == "" {
		return domain.PlaybackRecord{}, false
	}
	rec, ok := s.records[id]
	return rec, ok
}

// Progress returns the stored progress percent for id, 0 when unknown
func (s *RecordStore) Progress(id string) int {
	rec, _ := s.Get(id)
	return rec.Progress
}

// Revision is bumped on every mutation
func (s *RecordStore) Revision() uint64 {
	return s.revision
}

// Len returns the number of stored records
func (s *RecordStore) Len() int {
	return len(s.records)
}

// Upsert merges u into the record for id and returns the result.
// Empty identities are ignored.
func (s *RecordStore) Upsert(id string, u Update) domain.PlaybackRecord {
	if id == "" {
		return domain.PlaybackRecord{}
	}
	prev := s.records[id]
	next := prev

	if u.Force {
		next.Time = max(u.Time, 0)
		next.Completed = u.Completed
	} else {
		next.Time = max(prev.Time, u.Time)
		next.Completed = prev.Completed || u.Completed
	}
	next.Duration = max(prev.Duration, u.Duration)

	pct := percent(next.Time, next.Duration)
	if u.Force {
		next.Progress = pct
	} else {
		next.Progress = max(prev.Progress, pct)
	}
	if next.Completed {
		next.Progress = 100
	}

	return s.write(id, next)
}

// MarkCompleted pins the record at 100% with time at the observed duration.
func (s *RecordStore) MarkCompleted(id string, duration time.Duration) domain.PlaybackRecord {
	if id == "" {
		return domain.PlaybackRecord{}
	}
	next := s.records[id]
	next.Duration = max(next.Duration, duration)
	if next.Duration > 0 {
		next.Time = next.Duration
	}
	next.Completed = true
	next.Progress = 100
	return s.write(id, next)
}

// Reset clears completion and rewinds id to the start.
func (s *RecordStore) Reset(id string) domain.PlaybackRecord {
	return s.Upsert(id, Update{Force: true})
}

func (s *RecordStore) write(id string, rec domain.PlaybackRecord) domain.PlaybackRecord {
	rec.UpdatedAt = s.stamp()
	s.records[id] = rec
	s.dirty[id] = struct{}{}
	delete(s.evicted, id)
	s.revision++

	s.evict()
	s.scheduleFlush()
	return rec
}

// stamp returns a strictly increasing timestamp
func (s *RecordStore) stamp() time.Time {
	now := s.rt.Now()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

// evict drops the oldest records until the store fits its capacity
func (s *RecordStore) evict() int {
	n := 0
	for len(s.records) > s.capacity {
		var oldestID string
		var oldest time.Time
		for id, rec := range s.records {
			if oldestID == "" || rec.UpdatedAt.Before(oldest) ||
				(rec.UpdatedAt.Equal(oldest) && id < oldestID) {
				oldestID, oldest = id, rec.UpdatedAt
			}
		}
		delete(s.records, oldestID)
		delete(s.dirty, oldestID)
		s.evicted[oldestID] = struct{}{}
		n++
	}
	if n > 0 {
		s.revision++
		metrics.RecordEvictions(n)
	}
	return n
}

func (s *RecordStore) scheduleFlush() {
	if s.closed {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = s.rt.AfterFunc(s.flushDelay, func() {
		s.flushTimer = nil
		s.Flush()
	})
}

// Flush writes pending changes now. Failures are logged and retried on the
// next flush.
func (s *RecordStore) Flush() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if len(s.dirty) == 0 && len(s.evicted) == 0 {
		return
	}

	puts := make(map[string][]byte, len(s.dirty))
	for id := range s.dirty {
		data, err := json.Marshal(s.records[id])
		if err != nil {
			continue
		}
		puts[id] = data
	}
	deletes := make([]string, 0, len(s.evicted))
	for id := range s.evicted {
		deletes = append(deletes, id)
	}

	err := s.db.apply(bucketRecords, puts, deletes)
	metrics.RecordFlush(err)
	if err != nil {
		s.logger.Warn("failed to flush playback records",
			"error", fmt.Errorf("%w: %w", domain.ErrPersistence, err),
			"pending", len(puts), "evicted", len(deletes))
		return
	}
	clear(s.dirty)
	clear(s.evicted)
}

// Close flushes pending changes and stops scheduling further flushes
func (s *RecordStore) Close() {
	s.Flush()
	s.closed = true
}

func percent(t, d time.Duration) int {
	if d <= 0 || t <= 0 {
		return 0
	}
	p := int(t * 100 / d)
	return min(max(p, 0), 100)
}
