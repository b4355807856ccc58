package store

import (
	"context"
	"sync"

	"kycflow/internal/vendors"
	id "kycflow/pkg/domain"
)

// InMemory keeps vendor call records per case in append order.
type InMemory struct {
	mu    sync.RWMutex
	calls map[id.CaseID][]vendors.Call
}

func NewInMemory() *InMemory {
	return &InMemory{calls: make(map[id.CaseID][]vendors.Call)}
}

func (s *InMemory) Append(_ context.Context, call vendors.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CaseID] = append(s.calls[call.CaseID], call)
	return nil
}

func (s *InMemory) ListByCase(_ context.Context, caseID id.CaseID) ([]vendors.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]vendors.Call(nil), s.calls[caseID]...), nil
}

func (s *InMemory) LatestByCase(ctx context.Context, caseID id.CaseID) ([]vendors.Call, error) {
	calls, err := s.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return vendors.LatestPerAPI(calls), nil
}
