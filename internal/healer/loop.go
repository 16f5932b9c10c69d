package healer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryBaseInterval = time.Second
	maxRetries        = 4 // 5 attempts total
)

// RunUntilCaughtUp drains the queue batch by batch until a batch comes
// back less than full, retrying failed batches with exponential backoff
// (1s base, doubling, five attempts).
func (h *Healer) RunUntilCaughtUp(ctx context.Context) (HealStats, error) {
	var total HealStats
	for {
		var stats HealStats
		var full bool
		op := func() error {
			var err error
			stats, full, err = h.Heal(ctx)
			return err
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = retryBaseInterval
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)); err != nil {
			return total, err
		}
		total = total.Add(stats)
		if !full {
			return total, nil
		}
	}
}
