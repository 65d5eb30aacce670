package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

// NewLimiter returns nil (unlimited) when rps <= 0.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until l admits one request. A nil limiter never blocks.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", common.ErrUpstreamService, err)
	}
	return nil
}
