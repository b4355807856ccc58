package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"kycflow/internal/workflow"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemory stores cases in a map. Row locks are provided by the
// tx.MemoryRunner serializing transactions, so GetForUpdate is a plain read.
type InMemory struct {
	mu    sync.RWMutex
	cases map[id.CaseID]workflow.Case
}

func NewInMemory() *InMemory {
	return &InMemory{cases: make(map[id.CaseID]workflow.Case)}
}

func (s *InMemory) Create(_ context.Context, c *workflow.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return sentinel.ErrConflict
	}
	s.cases[c.ID] = clone(*c)
	return nil
}

func (s *InMemory) Get(_ context.Context, caseID id.CaseID) (*workflow.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(c)
	return &out, nil
}

func (s *InMemory) GetForUpdate(ctx context.Context, caseID id.CaseID) (*workflow.Case, error) {
	return s.Get(ctx, caseID)
}

func (s *InMemory) UpdateState(_ context.Context, caseID id.CaseID, state workflow.PersistedState, version int64, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.State = workflow.PersistedState{
		Kind: state.Kind,
		Name: state.Name,
		Data: append(json.RawMessage(nil), state.Data...),
	}
	c.Version = version
	c.UpdatedAt = updatedAt
	s.cases[caseID] = c
	return nil
}

func clone(c workflow.Case) workflow.Case {
	c.State.Data = append(json.RawMessage(nil), c.State.Data...)
	c.Config.RequiredFields = append(c.Config.RequiredFields[:0:0], c.Config.RequiredFields...)
	c.Config.VendorAPIs = append(c.Config.VendorAPIs[:0:0], c.Config.VendorAPIs...)
	return c
}
