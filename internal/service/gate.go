package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Shivanand-hulikatti/techday-registration/internal/cache"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

// AdmissionGate decides whether new registrations are accepted.
//
// IsAdmissionOpen and State may answer from the status cache and are meant
// for showing or hiding the registration form. The binding decision is made
// by check, inside the same transaction that inserts the user.
type AdmissionGate struct {
	store   repository.Store
	cache   cache.StatusCache
	timeout time.Duration
	logger  *slog.Logger

	// generation counts invalidations. State only fills the cache when no
	// invalidation happened while it was reading.
	generation atomic.Uint64
}

// NewAdmissionGate constructs an AdmissionGate. A nil cache disables caching.
func NewAdmissionGate(store repository.Store, statusCache cache.StatusCache, timeout time.Duration, logger *slog.Logger) *AdmissionGate {
	if statusCache == nil {
		statusCache = cache.Nop{}
	}
	return &AdmissionGate{store: store, cache: statusCache, timeout: timeout, logger: logger}
}

// IsAdmissionOpen reports whether a registration attempt would currently be
// admitted.
func (g *AdmissionGate) IsAdmissionOpen(ctx context.Context) (bool, error) {
	state, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsOpen(), nil
}

// State returns the admission settings and the internal user count.
func (g *AdmissionGate) State(ctx context.Context) (model.AdmissionState, error) {
	if state, ok := g.cache.Get(ctx); ok {
		return state, nil
	}
	gen := g.generation.Load()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var state model.AdmissionState
	err := g.store.View(ctx, func(tx repository.Tx) error {
		var err error
		state, err = repository.AdmissionState(ctx, tx)
		return err
	})
	if err != nil {
		return model.AdmissionState{}, fmt.Errorf("read admission state: %w", err)
	}
	if g.generation.Load() == gen {
		g.cache.Set(ctx, state)
		if g.generation.Load() != gen {
			g.cache.Invalidate(ctx)
		}
	}
	return state, nil
}

// check re-validates admission inside the caller's transaction. In the
// Postgres store this locks the admission row until the transaction ends.
func (g *AdmissionGate) check(ctx context.Context, tx repository.Tx) (model.AdmissionState, error) {
	state, err := repository.AdmissionState(ctx, tx)
	if err != nil {
		return model.AdmissionState{}, err
	}
	if !state.IsOpen() {
		return state, ErrRegistrationClosed
	}
	return state, nil
}

// Update changes the admission settings. Nil fields are left as they are.
func (g *AdmissionGate) Update(ctx context.Context, upd model.AdmissionUpdate) (model.AdmissionState, error) {
	if upd.MaxUsers != nil && *upd.MaxUsers < 0 {
		verr := &ValidationError{}
		verr.add("max_users", "must not be negative")
		return model.AdmissionState{}, verr
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var state model.AdmissionState
	err := g.store.Update(ctx, func(tx repository.Tx) error {
		cfg, err := tx.GetAdmissionConfig(ctx)
		if err != nil {
			return err
		}
		if upd.MaxUsers != nil {
			cfg.MaxUsers = *upd.MaxUsers
		}
		if upd.ManualLock != nil {
			cfg.ManualLock = *upd.ManualLock
		}
		if err := tx.SetAdmissionConfig(ctx, cfg); err != nil {
			return err
		}
		state, err = repository.AdmissionState(ctx, tx)
		return err
	})
	if err != nil {
		return model.AdmissionState{}, fmt.Errorf("update admission: %w", err)
	}
	g.invalidate(ctx)
	g.logger.Info("admission settings changed",
		"max_users", state.MaxUsers, "manual_lock", state.ManualLock, "registered_internal", state.RegisteredInternal)
	return state, nil
}

// SetManualLock locks or unlocks the site.
func (g *AdmissionGate) SetManualLock(ctx context.Context, locked bool) (model.AdmissionState, error) {
	return g.Update(ctx, model.AdmissionUpdate{ManualLock: &locked})
}

// SetMaxUsers changes the internal-user maximum. Zero closes admission.
func (g *AdmissionGate) SetMaxUsers(ctx context.Context, n int) (model.AdmissionState, error) {
	return g.Update(ctx, model.AdmissionUpdate{MaxUsers: &n})
}

// invalidate drops the cached state after a registration commits.
func (g *AdmissionGate) invalidate(ctx context.Context) {
	g.generation.Add(1)
	g.cache.Invalidate(ctx)
}
