package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweep expires every secret whose deadline has passed, purging payloads of
// secrets nobody ever asked for. It returns the number of secrets expired.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := c.store.ListExpiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing expired secrets: %w", err)
	}

	expired := 0
	for _, id := range ids {
		done, err := c.Expire(ctx, id, now)
		if err != nil {
			c.logger.Error("failed to expire secret",
				zap.String("secret_id", id), zap.Error(err))
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// RunJanitor sweeps on the given interval until ctx is cancelled. Run it in
// its own goroutine.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx, time.Now())
			if err != nil {
				c.logger.Error("janitor sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Info("janitor sweep", zap.Int("expired", n))
			}
		}
	}
}
