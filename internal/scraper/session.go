package scraper

import (
	"context"

	"go.uber.org/zap"

	"autoria-crawler/internal/metrics"
)

// identityRotator is the slice of the Fetcher the rotation policy needs.
type identityRotator interface {
	RotateIdentity(ctx context.Context) error
}

// Rotator applies the anti-detection session policy: one active rendering
// identity at a time, replaced before the first fetch of a run and after
// any page subtree that persisted at least one new record. A failed
// rotation keeps the previous session active.
type Rotator struct {
	fetcher identityRotator
	logger  *zap.Logger
}

// NewRotator builds a Rotator over the fetcher.
func NewRotator(fetcher identityRotator, logger *zap.Logger) *Rotator {
	return &Rotator{fetcher: fetcher, logger: logger}
}

// Rotate swaps in a fresh identity; failure is non-fatal.
func (r *Rotator) Rotate(ctx context.Context) {
	if err := r.fetcher.RotateIdentity(ctx); err != nil {
		r.logger.Warn("session rotation failed, keeping previous identity", zap.Error(err))
		return
	}
	metrics.ObserveSessionRotation()
}
