package store

import (
	"context"
	"sync"

	"kycflow/internal/verification"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemory stores sessions and image metadata. Row locks are provided by the
// tx.MemoryRunner serializing transactions, so GetForUpdate is a plain read.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.VerificationSessionID]verification.Session
	byCase   map[id.CaseID][]id.VerificationSessionID
	images   map[id.VerificationSessionID][]verification.Image
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions: make(map[id.VerificationSessionID]verification.Session),
		byCase:   make(map[id.CaseID][]id.VerificationSessionID),
		images:   make(map[id.VerificationSessionID][]verification.Image),
	}
}

func (s *InMemory) Create(_ context.Context, session *verification.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = *session
	s.byCase[session.CaseID] = append(s.byCase[session.CaseID], session.ID)
	return nil
}

func (s *InMemory) Get(_ context.Context, sessionID id.VerificationSessionID) (*verification.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

func (s *InMemory) GetForUpdate(ctx context.Context, sessionID id.VerificationSessionID) (*verification.Session, error) {
	return s.Get(ctx, sessionID)
}

func (s *InMemory) LatestForCase(_ context.Context, caseID id.CaseID) (*verification.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCase[caseID]
	if len(ids) == 0 {
		return nil, sentinel.ErrNotFound
	}
	session := s.sessions[ids[len(ids)-1]]
	return &session, nil
}

func (s *InMemory) Update(_ context.Context, session *verification.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemory) AddImage(_ context.Context, img verification.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img.Active {
		for _, existing := range s.images[img.SessionID] {
			if existing.Active && existing.Side == img.Side {
				return sentinel.ErrConflict
			}
		}
	}
	s.images[img.SessionID] = append(s.images[img.SessionID], img)
	return nil
}

func (s *InMemory) ActiveImages(_ context.Context, sessionID id.VerificationSessionID) (map[verification.Side]verification.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[verification.Side]verification.Image)
	for _, img := range s.images[sessionID] {
		if img.Active {
			out[img.Side] = img
		}
	}
	return out, nil
}

func (s *InMemory) DeactivateSides(_ context.Context, sessionID id.VerificationSessionID, sides []verification.Side) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[verification.Side]bool, len(sides))
	for _, side := range sides {
		targets[side] = true
	}
	changed := 0
	imgs := s.images[sessionID]
	for i := range imgs {
		if imgs[i].Active && targets[imgs[i].Side] {
			imgs[i].Active = false
			changed++
		}
	}
	return changed, nil
}

// Images returns every image of the session, active or not.
func (s *InMemory) Images(sessionID id.VerificationSessionID) []verification.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]verification.Image(nil), s.images[sessionID]...)
}
