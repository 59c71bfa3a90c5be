package override

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostelops/gatehouse/model"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	defs Definitions

	mu        sync.RWMutex
	overrides map[string]model.Override     // key: user ID
	history   map[string][]model.AuditEntry // key: user ID, newest first
}

// NewMemoryStore creates a new in-memory override store.
func NewMemoryStore(defs Definitions) *MemoryStore {
	return &MemoryStore{
		defs:      defs,
		overrides: make(map[string]model.Override),
		history:   make(map[string][]model.AuditEntry),
	}
}

// Get retrieves the override for a user, or an empty override if none is
// stored.
func (s *MemoryStore) Get(_ context.Context, userID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ov, exists := s.overrides[userID]
	if !exists {
		return model.EmptyOverride(userID), nil
	}
	return cloneOverride(ov), nil
}

// Apply validates delta and merges it into the stored override.
func (s *MemoryStore) Apply(_ context.Context, userID string, delta model.OverrideDelta, reason, actorID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}
	delta, err := ValidateDelta(s.defs, delta)
	if err != nil {
		return model.Override{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base, exists := s.overrides[userID]
	if !exists {
		base = model.EmptyOverride(userID)
	}

	now := time.Now().UTC()
	next := applyDelta(base, delta, reason, actorID, now)
	s.overrides[userID] = next

	entry := model.AuditEntry{
		ID:      uuid.New().String(),
		UserID:  userID,
		Action:  model.AuditActionUpdate,
		ActorID: actorID,
		Reason:  reason,
		Delta:   &delta,
		At:      now,
	}
	s.history[userID] = append([]model.AuditEntry{entry}, s.history[userID]...)

	return cloneOverride(next), nil
}

// Reset clears all override entries for the user and records the reason.
func (s *MemoryStore) Reset(_ context.Context, userID, reason, actorID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	next := model.EmptyOverride(userID)
	next.Reason = reason
	next.UpdatedAt = now
	next.UpdatedBy = actorID
	s.overrides[userID] = next

	entry := model.AuditEntry{
		ID:      uuid.New().String(),
		UserID:  userID,
		Action:  model.AuditActionReset,
		ActorID: actorID,
		Reason:  reason,
		At:      now,
	}
	s.history[userID] = append([]model.AuditEntry{entry}, s.history[userID]...)

	return cloneOverride(next), nil
}

// History returns the user's audit entries, newest first.
func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[userID]
	out := make([]model.AuditEntry, len(entries))
	copy(out, entries)
	return historyLimit(out, limit), nil
}

// Len returns the number of users with a stored override record. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overrides)
}

func cloneOverride(ov model.Override) model.Override {
	out := ov
	out.AllowRoutes = ov.AllowRoutes.Clone()
	out.DenyRoutes = ov.DenyRoutes.Clone()
	out.AllowCapabilities = ov.AllowCapabilities.Clone()
	out.DenyCapabilities = ov.DenyCapabilities.Clone()
	out.Constraints = append([]model.ConstraintOverride(nil), ov.Constraints...)
	return out
}
