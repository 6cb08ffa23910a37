package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

type entry struct {
	rec      types.CallRecord
	payloads map[types.Stage][]byte
	lease    *Lease
}

// Memory is the in-process Store used for local runs and tests. Production
// deployments swap in a durable backend behind the same contract.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry), now: time.Now}
}

// NewMemoryWithClock lets tests drive lease expiry deterministically.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]*entry), now: now}
}

func (m *Memory) Create(_ context.Context, rec types.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[rec.CallID]; ok {
		return pipeline.Conflictf("call %s already exists", rec.CallID)
	}
	m.entries[rec.CallID] = &entry{rec: cloneRecord(rec), payloads: make(map[types.Stage][]byte)}
	return nil
}

func (m *Memory) Get(_ context.Context, callID string) (types.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[callID]
	if !ok {
		return types.CallRecord{}, pipeline.NotFoundf("call %s not found", callID)
	}
	return cloneRecord(e.rec), nil
}

func (m *Memory) Update(_ context.Context, lease Lease, rec types.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.holding(lease)
	if err != nil {
		return err
	}
	e.rec = cloneRecord(rec)
	return nil
}

func (m *Memory) CommitStage(_ context.Context, lease Lease, rec types.CallRecord, payloads map[types.Stage][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.holding(lease)
	if err != nil {
		return err
	}
	e.rec = cloneRecord(rec)
	for stage, payload := range payloads {
		e.payloads[stage] = append([]byte(nil), payload...)
	}
	return nil
}

func (m *Memory) StagePayload(_ context.Context, callID string, stage types.Stage) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[callID]
	if !ok {
		return nil, false, pipeline.NotFoundf("call %s not found", callID)
	}
	p, ok := e.payloads[stage]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), p...), true, nil
}

func (m *Memory) Acquire(_ context.Context, callID string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[callID]
	if !ok {
		return Lease{}, pipeline.NotFoundf("call %s not found", callID)
	}
	if e.lease != nil && m.now().Before(e.lease.ExpiresAt) {
		return Lease{}, pipeline.Conflictf("call %s is leased until %s", callID, e.lease.ExpiresAt.Format(time.RFC3339))
	}
	l := Lease{CallID: callID, Token: uuid.New().String(), ExpiresAt: m.now().Add(ttl)}
	e.lease = &l
	return l, nil
}

func (m *Memory) Renew(_ context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.holding(lease)
	if err != nil {
		return Lease{}, err
	}
	l := Lease{CallID: lease.CallID, Token: lease.Token, ExpiresAt: m.now().Add(ttl)}
	e.lease = &l
	return l, nil
}

func (m *Memory) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[lease.CallID]
	if !ok {
		return nil
	}
	if e.lease != nil && e.lease.Token == lease.Token {
		e.lease = nil
	}
	return nil
}

// holding returns the entry iff the lease is the current, unexpired claim.
func (m *Memory) holding(lease Lease) (*entry, error) {
	e, ok := m.entries[lease.CallID]
	if !ok {
		return nil, pipeline.NotFoundf("call %s not found", lease.CallID)
	}
	if e.lease == nil || e.lease.Token != lease.Token {
		return nil, pipeline.Conflictf("lease for call %s was taken over", lease.CallID)
	}
	if !m.now().Before(e.lease.ExpiresAt) {
		return nil, pipeline.Conflictf("lease for call %s expired", lease.CallID)
	}
	return e, nil
}

func cloneRecord(rec types.CallRecord) types.CallRecord {
	out := rec
	out.History = append([]types.StageEvent(nil), rec.History...)
	return out
}
