package service

import (
	"context"
	"log/slog"

	"github.com/runtimegov/governor/internal/domain/policy"
)

// PolicyAdminService exposes the Policy Store's CRUD/versioning contract
// (spec §4.2 Contract) to management callers (the CLI's `policy` subcommands),
// invalidating the read-path cache after every write so the next evaluate
// call observes it.
type PolicyAdminService struct {
	store  policy.Store
	cache  *PolicyCache
	logger *slog.Logger
}

// NewPolicyAdminService constructs a PolicyAdminService.
func NewPolicyAdminService(store policy.Store, cache *PolicyCache, logger *slog.Logger) *PolicyAdminService {
	return &PolicyAdminService{store: store, cache: cache, logger: logger}
}

func (s *PolicyAdminService) List(ctx context.Context, activeOnly bool) ([]policy.Policy, error) {
	return s.store.List(ctx, activeOnly)
}

func (s *PolicyAdminService) Get(ctx context.Context, id string) (policy.Policy, error) {
	return s.store.Get(ctx, id)
}

func (s *PolicyAdminService) Create(ctx context.Context, spec policy.Spec, actorID string) (policy.Policy, error) {
	p, err := s.store.Create(ctx, spec, actorID)
	if err != nil {
		return policy.Policy{}, err
	}
	s.cache.Invalidate()
	s.logger.Info("policy created", "id", p.ID, "tool_pattern", p.ToolPattern, "action", p.Action)
	return p, nil
}

func (s *PolicyAdminService) Patch(ctx context.Context, id string, patch policy.Patch, actorID string) (policy.Policy, error) {
	p, err := s.store.Patch(ctx, id, patch, actorID)
	if err != nil {
		return policy.Policy{}, err
	}
	s.cache.Invalidate()
	s.logger.Info("policy patched", "id", p.ID, "version", p.Version)
	return p, nil
}

func (s *PolicyAdminService) Toggle(ctx context.Context, id string, actorID string) (policy.Policy, error) {
	p, err := s.store.Toggle(ctx, id, actorID)
	if err != nil {
		return policy.Policy{}, err
	}
	s.cache.Invalidate()
	s.logger.Info("policy toggled", "id", p.ID, "active", p.Active)
	return p, nil
}

func (s *PolicyAdminService) Delete(ctx context.Context, id string, actorID string) error {
	if err := s.store.Delete(ctx, id, actorID); err != nil {
		return err
	}
	s.cache.Invalidate()
	s.logger.Info("policy deleted", "id", id)
	return nil
}

func (s *PolicyAdminService) Versions(ctx context.Context, id string) ([]policy.Version, error) {
	return s.store.Versions(ctx, id)
}

func (s *PolicyAdminService) Restore(ctx context.Context, id string, version int, actorID string) (policy.Policy, error) {
	p, err := s.store.Restore(ctx, id, version, actorID)
	if err != nil {
		return policy.Policy{}, err
	}
	s.cache.Invalidate()
	s.logger.Info("policy restored", "id", p.ID, "restored_version", version, "new_version", p.Version)
	return p, nil
}

func (s *PolicyAdminService) LoadBaseFile(ctx context.Context, path string) error {
	if err := s.store.LoadBaseFile(ctx, path); err != nil {
		return err
	}
	s.cache.Invalidate()
	s.logger.Info("base policy file loaded", "path", path)
	return nil
}
