package core

import (
	"context"
	"time"

	"modstore/internal/persistence"
)

// MetricsRecorder receives the outcome of every backend operation. It is
// the same seam persistence.Instrument reports through.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

var _ persistence.Observer = MetricsRecorder(nil)

// CacheRecorder is told whether each lookup was served from the cache.
type CacheRecorder interface {
	CacheLookup(service string, hit bool)
}

type noopCache struct{}

func (noopCache) CacheLookup(string, bool) {}
