// Package cache holds short-lived copies of the admission state so that
// pages asking "is registration open?" do not hit the database on every
// request. Registrations never trust the cache; they re-check inside their
// own transaction.
package cache

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

// StatusCache stores the most recent admission state.
type StatusCache interface {
	Get(ctx context.Context) (model.AdmissionState, bool)
	Set(ctx context.Context, state model.AdmissionState)
	Invalidate(ctx context.Context)
}

const statusKey = "admission:state"

// Nop never caches anything.
type Nop struct{}

func (Nop) Get(context.Context) (model.AdmissionState, bool) { return model.AdmissionState{}, false }
func (Nop) Set(context.Context, model.AdmissionState)        {}
func (Nop) Invalidate(context.Context)                       {}

// DefaultTTL applies when a non-positive TTL is configured.
const DefaultTTL = 5 * time.Second
