package cache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

// Memory is a per-process StatusCache backed by go-cache.
type Memory struct {
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewMemory returns a cache whose entries expire after ttl.
func NewMemory(ttl time.Duration, logger *slog.Logger) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{cache: gocache.New(ttl, 2*ttl), logger: logger}
}

func (m *Memory) Get(ctx context.Context) (model.AdmissionState, bool) {
	value, found := m.cache.Get(statusKey)
	if !found {
		return model.AdmissionState{}, false
	}
	state, ok := value.(model.AdmissionState)
	if !ok {
		m.logger.Error("wrong type in status cache", "key", statusKey)
		return model.AdmissionState{}, false
	}
	m.logger.Debug("status cache hit", "key", statusKey)
	return state, true
}

func (m *Memory) Set(ctx context.Context, state model.AdmissionState) {
	m.cache.SetDefault(statusKey, state)
}

func (m *Memory) Invalidate(ctx context.Context) {
	m.cache.Delete(statusKey)
}
