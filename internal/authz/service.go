package authz

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/internal/override"
	"github.com/hostelops/gatehouse/model"
)

// Capability keys gating authorization management itself. They are ordinary
// catalog capabilities evaluated through the same merge path they guard.
const (
	CapManageView   = "authz:manage:view"
	CapManageUpdate = "authz:manage:update"
)

// UserAuthz is the admin-editor view of one user's authorization state: the
// raw stored override, the effective set computed from it, and any anomalies.
type UserAuthz struct {
	UserID         string                        `json:"user_id"`
	Role           string                        `json:"role"`
	Overridden     bool                          `json:"overridden"`
	Override       model.Override                `json:"override"`
	Effective      *model.EffectivePermissionSet `json:"effective"`
	CatalogVersion string                        `json:"catalog_version"`
}

// Service is the administrative surface over the override store. Every
// operation re-checks the caller's own effective permissions, so the
// capability that gates access management is enforced by the engine it
// manages.
type Service struct {
	registry  *catalog.Registry
	store     override.Store
	resolver  *Resolver
	directory RoleDirectory
	logger    *zap.Logger

	idem    IdempotencyStore
	idemTTL time.Duration

	// OnUpdate and OnReset are called after a successful write when set.
	// OnReject observes a refused delta with its error code, OnReplay an
	// update answered from the idempotency store, and OnIdemConflict an
	// idempotency key reused with a different payload.
	OnUpdate       func(role string)
	OnReset        func()
	OnReject       func(code string)
	OnReplay       func()
	OnIdemConflict func()
}

// NewService creates the authz service.
func NewService(registry *catalog.Registry, store override.Store, resolver *Resolver, directory RoleDirectory, logger *zap.Logger) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		resolver:  resolver,
		directory: directory,
		logger:    logger,
	}
}

// WithIdempotency enables write deduplication keyed by X-Idempotency-Key.
func (s *Service) WithIdempotency(store IdempotencyStore, ttl time.Duration) *Service {
	s.idem = store
	s.idemTTL = ttl
	return s
}

// EvaluatorFor returns the cached evaluator for one user and role. This is
// what request middleware calls on every authenticated request.
func (s *Service) EvaluatorFor(ctx context.Context, userID, role string) (*Evaluator, error) {
	return s.resolver.Resolve(ctx, userID, role)
}

// GetUserAuthz returns the full authorization state for userID. The actor
// must hold the management view capability.
func (s *Service) GetUserAuthz(ctx context.Context, actor *Evaluator, userID string) (UserAuthz, error) {
	if !actor.CanAny(CapManageView, CapManageUpdate) {
		return UserAuthz{}, model.NewForbiddenError("viewing user access requires " + CapManageView)
	}

	role, err := s.directory.RoleOf(ctx, userID)
	if err != nil {
		return UserAuthz{}, err
	}
	ov, err := s.store.Get(ctx, userID)
	if err != nil {
		return UserAuthz{}, err
	}

	return s.view(userID, role, ov), nil
}

// UpdateUserAuthz validates and applies an override delta to userID, records
// the audit entry, and invalidates the user's cached evaluation. The actor
// must hold the management update capability. idemKey may be empty.
func (s *Service) UpdateUserAuthz(ctx context.Context, actor *Evaluator, actorID, userID string, delta model.OverrideDelta, reason, idemKey string) (UserAuthz, error) {
	if !actor.Can(CapManageUpdate) {
		return UserAuthz{}, model.NewForbiddenError("changing user access requires " + CapManageUpdate)
	}
	if delta.IsEmpty() {
		err := model.NewBadRequestError("delta patches nothing")
		s.reject(err)
		return UserAuthz{}, err
	}

	role, err := s.directory.RoleOf(ctx, userID)
	if err != nil {
		return UserAuthz{}, err
	}

	var storeKey, inputHash string
	if s.idem != nil && idemKey != "" {
		storeKey = FormatIdempotencyKey(userID, idemKey)
		inputHash, err = hashUpdateInput(userID, delta, reason)
		if err != nil {
			return UserAuthz{}, err
		}
		cached, found, err := s.idem.Check(ctx, storeKey, inputHash)
		if err != nil {
			if found && s.OnIdemConflict != nil {
				s.OnIdemConflict()
			}
			return UserAuthz{}, err
		}
		if found {
			if s.OnReplay != nil {
				s.OnReplay()
			}
			return *cached, nil
		}
	}

	ov, err := s.store.Apply(ctx, userID, delta, reason, actorID)
	if err != nil {
		s.reject(err)
		return UserAuthz{}, err
	}
	s.resolver.Invalidate(userID)
	if s.OnUpdate != nil {
		s.OnUpdate(role)
	}
	s.logger.Info("override updated",
		zap.String("user_id", userID),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)

	result := s.view(userID, role, ov)
	if storeKey != "" {
		if err := s.idem.Store(ctx, storeKey, inputHash, result, s.idemTTL); err != nil {
			s.logger.Warn("storing idempotency result failed", zap.Error(err))
		}
	}
	return result, nil
}

// ResetUserAuthz clears userID's override, returning the user to pure role
// defaults, and keeps the reason as a trailing audit note.
func (s *Service) ResetUserAuthz(ctx context.Context, actor *Evaluator, actorID, userID, reason string) (UserAuthz, error) {
	if !actor.Can(CapManageUpdate) {
		return UserAuthz{}, model.NewForbiddenError("changing user access requires " + CapManageUpdate)
	}

	role, err := s.directory.RoleOf(ctx, userID)
	if err != nil {
		return UserAuthz{}, err
	}
	ov, err := s.store.Reset(ctx, userID, reason, actorID)
	if err != nil {
		return UserAuthz{}, err
	}
	s.resolver.Invalidate(userID)
	if s.OnReset != nil {
		s.OnReset()
	}
	s.logger.Info("override reset",
		zap.String("user_id", userID),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)

	return s.view(userID, role, ov), nil
}

// History returns the audit trail for userID, newest first.
func (s *Service) History(ctx context.Context, actor *Evaluator, userID string, limit int) ([]model.AuditEntry, error) {
	if !actor.CanAny(CapManageView, CapManageUpdate) {
		return nil, model.NewForbiddenError("viewing audit history requires " + CapManageView)
	}
	if _, err := s.directory.RoleOf(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, userID, limit)
}

// CheckDelta validates a staged delta without applying it. Unlike the write
// path it is strict: any key the current catalog does not define is rejected,
// so the admin editor can flag stale selections before the operator submits.
func (s *Service) CheckDelta(actor *Evaluator, delta model.OverrideDelta) error {
	if !actor.CanAny(CapManageView, CapManageUpdate) {
		return model.NewForbiddenError("checking a delta requires " + CapManageView)
	}
	if delta.IsEmpty() {
		return model.NewBadRequestError("delta patches nothing")
	}
	_, err := override.ValidateDeltaStrict(s.registry.Snapshot(), delta)
	return err
}

// reject reports a refused delta to the OnReject hook with its error code.
func (s *Service) reject(err error) {
	if s.OnReject == nil {
		return
	}
	if env, ok := err.(*model.ErrorEnvelope); ok {
		s.OnReject(env.Code)
	}
}

func (s *Service) view(userID, role string, ov model.Override) UserAuthz {
	snap := s.registry.Snapshot()
	return UserAuthz{
		UserID:         userID,
		Role:           role,
		Overridden:     !ov.IsEmpty(),
		Override:       ov,
		Effective:      Merge(snap, role, &ov),
		CatalogVersion: snap.Version(),
	}
}

func hashUpdateInput(userID string, delta model.OverrideDelta, reason string) (string, error) {
	payload, err := json.Marshal(struct {
		UserID string              `json:"user_id"`
		Delta  model.OverrideDelta `json:"delta"`
		Reason string              `json:"reason"`
	}{userID, delta, reason})
	if err != nil {
		return "", fmt.Errorf("hash update input: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(payload)), nil
}
