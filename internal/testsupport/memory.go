package testsupport

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/eventstatus"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/replay"
	"chainintel/internal/domain/risk"
	"chainintel/pkg/errors"
)

// In-memory stores with the same contracts as the postgres and clickhouse
// repositories, for unit tests of the services.

type statusKey struct {
	chainID int64
	txHash  string
}

// StatusStore is an in-memory eventstatus.Repository
type StatusStore struct {
	mu      sync.Mutex
	records map[statusKey]*eventstatus.Record

	// GetErr, when set, is returned by Get
	GetErr error
}

var _ eventstatus.Repository = (*StatusStore)(nil)

func NewStatusStore() *StatusStore {
	return &StatusStore{records: make(map[statusKey]*eventstatus.Record)}
}

func (s *StatusStore) Get(_ context.Context, chainID int64, txHash string) (*eventstatus.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.records[statusKey{chainID, txHash}]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *StatusStore) InsertIfAbsent(_ context.Context, rec *eventstatus.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statusKey{rec.ChainID, rec.TxHash}
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	cp := *rec
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.records[key] = &cp
	return true, nil
}

func (s *StatusStore) Claim(_ context.Context, chainID int64, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[statusKey{chainID, txHash}]
	if !ok || !rec.Status.Claimable() || rec.Invalid() {
		return false, nil
	}
	rec.Status = eventstatus.StatusProcessing
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *StatusStore) MarkSucceeded(_ context.Context, chainID int64, txHash string, status eventstatus.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[statusKey{chainID, txHash}]
	if !ok {
		return errors.ErrNotFound
	}
	rec.Status = status
	rec.LastError = nil
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *StatusStore) MarkFailed(_ context.Context, chainID int64, txHash string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[statusKey{chainID, txHash}]
	if !ok {
		return errors.ErrNotFound
	}
	rec.Status = eventstatus.StatusFailed
	rec.RetryCount++
	rec.LastError = &message
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *StatusStore) RequeueStale(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	msg := eventstatus.StaleMessage
	var n int64
	for _, rec := range s.records {
		if rec.Status == eventstatus.StatusProcessing && rec.UpdatedAt.Before(cutoff) {
			rec.Status = eventstatus.StatusFailed
			rec.RetryCount++
			rec.LastError = &msg
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *StatusStore) ListFailed(_ context.Context, maxRetries, limit int) ([]*eventstatus.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*eventstatus.Record
	for _, rec := range s.records {
		if rec.Status == eventstatus.StatusFailed && rec.RetryCount < maxRetries {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *StatusStore) CountByStatus(context.Context) (map[eventstatus.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[eventstatus.Status]int64)
	for _, rec := range s.records {
		out[rec.Status]++
	}
	return out, nil
}

// Put stores rec as is, for test setup
func (s *StatusStore) Put(rec *eventstatus.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[statusKey{rec.ChainID, rec.TxHash}] = &cp
}

// EventStore is an in-memory event.Repository
type EventStore struct {
	mu     sync.Mutex
	byKey  map[string]*event.Stored
	Writes int

	// UpsertErr, when set, is returned by Upsert
	UpsertErr error
}

var _ event.Repository = (*EventStore)(nil)

func NewEventStore() *EventStore {
	return &EventStore{byKey: make(map[string]*event.Stored)}
}

func eventKey(ev *event.NormalizedEvent) string {
	return strconv.FormatInt(ev.ChainID, 10) + ":" + ev.TxHash + ":" + strconv.FormatUint(uint64(ev.LogIndex), 10)
}

func (s *EventStore) Upsert(_ context.Context, stored *event.Stored) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	cp := *stored
	s.byKey[eventKey(stored.Event)] = &cp
	s.Writes++
	return nil
}

func (s *EventStore) FindByTxHash(_ context.Context, chainID int64, txHash string) ([]*event.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Stored
	for _, st := range s.byKey {
		if st.Event.ChainID == chainID && st.Event.TxHash == txHash {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *EventStore) RecentBySender(_ context.Context, chainID int64, from string, since time.Time, limit int) ([]*event.NormalizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.NormalizedEvent
	for _, st := range s.byKey {
		ev := st.Event
		if ev.ChainID == chainID && ev.From == from && !ev.EventTime.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.After(out[j].EventTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of persisted composites
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// ProfileStore is an in-memory profile.Repository
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*profile.AddressProfile

	// GetErr, when set, is returned by GetProfile
	GetErr error
}

var _ profile.Repository = (*ProfileStore)(nil)

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*profile.AddressProfile)}
}

func profileKey(chainID int64, address string) string {
	return strconv.FormatInt(chainID, 10) + ":" + strings.ToLower(address)
}

func (s *ProfileStore) GetProfile(_ context.Context, chainID int64, address string) (*profile.AddressProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	p, ok := s.profiles[profileKey(chainID, address)]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProfileStore) Upsert(_ context.Context, p *profile.AddressProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[profileKey(p.ChainID, p.Address)] = &cp
	return nil
}

func (s *ProfileStore) RecordActivity(_ context.Context, chainID int64, address string, value decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := profileKey(chainID, address)
	p, ok := s.profiles[key]
	if !ok {
		p = profile.Default(chainID, address)
		first := at
		p.FirstSeen = &first
		s.profiles[key] = p
	}
	p.Stats.TxCount++
	p.Stats.TotalVolume = p.Stats.TotalVolume.Add(value)
	last := at
	p.Stats.LastTxTime = &last
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ReplayJobStore is an in-memory replay.Repository
type ReplayJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*replay.Job
}

var _ replay.Repository = (*ReplayJobStore)(nil)

func NewReplayJobStore() *ReplayJobStore {
	return &ReplayJobStore{jobs: make(map[uuid.UUID]*replay.Job)}
}

func (s *ReplayJobStore) Create(_ context.Context, job *replay.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.ErrAlreadyExists
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *ReplayJobStore) Update(_ context.Context, job *replay.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return errors.ErrNotFound
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *ReplayJobStore) ListRecent(_ context.Context, chainID int64, limit int) ([]*replay.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*replay.Job
	for _, j := range s.jobs {
		if j.ChainID == chainID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].Attempt > out[k].Attempt
		}
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AnalyticsStore is an in-memory risk.AnalyticsRepository
type AnalyticsStore struct {
	mu      sync.Mutex
	Records []risk.AnalyticsRecord
}

var _ risk.AnalyticsRepository = (*AnalyticsStore)(nil)

func (s *AnalyticsStore) Append(_ context.Context, rec risk.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, rec)
	return nil
}

func (s *AnalyticsStore) LevelCounts(_ context.Context, chainID int64, since time.Time) (map[risk.Level]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[risk.Level]uint64)
	for _, r := range s.Records {
		if r.ChainID == chainID && !r.AnalyzedAt.Before(since) {
			out[risk.Level(r.Level)]++
		}
	}
	return out, nil
}
