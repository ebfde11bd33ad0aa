package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RefreshScheduler keeps the token fresh in the background, so a quiet
// stream still exercises the refresh token before it lapses.
type RefreshScheduler struct {
	source   *Source
	interval time.Duration
	logger   *zap.Logger
}

func NewRefreshScheduler(source *Source, interval time.Duration, logger *zap.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		source:   source,
		interval: interval,
		logger:   logger.Named("refresh-scheduler"),
	}
}

// Start runs one check immediately and then every interval until ctx is done.
// The returned channel is closed when the loop exits.
func (r *RefreshScheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if !r.runOnce(ctx) || r.interval <= 0 {
			return
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !r.runOnce(ctx) {
					return
				}
			}
		}
	}()
	return done
}

// runOnce reports whether the scheduler should keep going.
func (r *RefreshScheduler) runOnce(ctx context.Context) bool {
	// refresh now if the token would lapse before the next tick
	_, err := r.source.AccessTokenFor(ctx, r.interval)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrReauthorizationRequired), errors.Is(err, ErrNoToken):
		r.logger.Error("stopping scheduled refresh", zap.Error(err))
		return false
	case ctx.Err() != nil:
		return false
	default:
		r.logger.Warn("scheduled refresh failed", zap.Error(err))
		return true
	}
}
