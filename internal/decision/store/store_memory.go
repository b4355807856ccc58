package store

import (
	"context"
	"sync"

	"kycflow/internal/decision"
	id "kycflow/pkg/domain"
)

type InMemory struct {
	mu      sync.RWMutex
	records map[id.CaseID][]decision.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.CaseID][]decision.Record)}
}

func (s *InMemory) Save(_ context.Context, rec decision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ReasonCodes = append([]decision.ReasonCode(nil), rec.ReasonCodes...)
	s.records[rec.CaseID] = append(s.records[rec.CaseID], rec)
	return nil
}

func (s *InMemory) ListByCase(_ context.Context, caseID id.CaseID) ([]decision.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]decision.Record(nil), s.records[caseID]...), nil
}
