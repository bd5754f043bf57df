// Package coordinator owns the secret lifecycle state machine: at most one
// disclosure per secret, globally, with time-based expiry and idempotent
// answers for every retry, duplicate tab, and losing racer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"secret.once/internal/models"
	"secret.once/internal/store"
)

const lockShards = 64

// viewAttempts bounds re-evaluation when a conditional write loses to another
// process sharing the same backend (e.g. two server instances on one Redis).
const viewAttempts = 3

// Coordinator serializes all mutation of a given secret and enforces the
// one-way Unviewed -> Viewed / Unviewed -> Expired transitions. Different
// secret IDs do not contend beyond incidental shard collisions.
type Coordinator struct {
	store   store.Store
	tracker store.ViewTracker
	logger  *zap.Logger
	locks   [lockShards]sync.Mutex
}

func New(st store.Store, tracker store.ViewTracker, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		tracker: tracker,
		logger:  logger,
	}
}

func (c *Coordinator) lockFor(secretID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(secretID))
	return &c.locks[h.Sum32()%lockShards]
}

// View resolves a single disclosure request. The returned Disclosure carries
// one of the four expected outcomes; an error means the store itself failed
// and the caller may retry the identical call safely.
//
// The ordering discipline matters: the view record is written before the
// payload-clearing swap. The record is authoritative, so a crash between the
// two leaves a state a retry resolves to AlreadyViewed, never to a second
// reveal or a phantom NotFound.
func (c *Coordinator) View(ctx context.Context, secretID, viewerID string, now time.Time) (models.Disclosure, error) {
	if viewerID == "" {
		return models.Disclosure{}, errors.New("viewer ID must not be empty")
	}

	mu := c.lockFor(secretID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < viewAttempts; attempt++ {
		disclosure, retry, err := c.viewOnce(ctx, secretID, viewerID, now)
		if err != nil {
			return models.Disclosure{}, err
		}
		if retry {
			continue
		}
		return disclosure, nil
	}
	return models.Disclosure{}, fmt.Errorf("view %s: %w", secretID, store.ErrConflict)
}

// viewOnce runs one classification pass under the shard lock. retry is set
// when a conditional write observed a concurrent transition by another
// process and the state must be re-read.
func (c *Coordinator) viewOnce(ctx context.Context, secretID, viewerID string, now time.Time) (models.Disclosure, bool, error) {
	secret, err := c.store.Get(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Disclosure{Status: models.StatusNotFound}, false, nil
		}
		return models.Disclosure{}, false, fmt.Errorf("loading secret: %w", err)
	}

	// Expiry wins over everything else, including a pending first view.
	if secret.State == models.StateUnviewed && secret.ExpiredAt(now) {
		swapped, err := c.store.CompareAndSwapState(ctx, secretID, models.StateUnviewed, models.StateExpired, true)
		if err != nil {
			// The secret vanished between the read and the swap (store-side
			// eviction); re-reading classifies the final answer.
			if errors.Is(err, store.ErrNotFound) {
				return models.Disclosure{}, true, nil
			}
			return models.Disclosure{}, false, fmt.Errorf("expiring secret: %w", err)
		}
		if !swapped {
			return models.Disclosure{}, true, nil
		}
		c.logger.Info("secret expired on access",
			zap.String("secret_id", secretID),
			zap.Time("expires_at", secret.ExpiresAt))
		return models.Disclosure{Status: models.StatusExpired}, false, nil
	}

	if secret.State == models.StateExpired {
		return models.Disclosure{Status: models.StatusExpired}, false, nil
	}

	// This viewer's own prior view, regardless of secret state.
	rec, err := c.tracker.LookupView(ctx, secretID, viewerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.Disclosure{}, false, fmt.Errorf("looking up view record: %w", err)
	}
	if rec != nil {
		return models.Disclosure{Status: models.StatusAlreadyViewed, ViewedAt: rec.ViewedAt}, false, nil
	}

	// A different viewer consumed the secret. Disclosure is single-use
	// globally: no payload, and no foreign timestamp either.
	if secret.State == models.StateViewed {
		return models.Disclosure{Status: models.StatusAlreadyViewed}, false, nil
	}

	// First view. Record first (authoritative), then clear the payload.
	rec, created, err := c.tracker.RecordView(ctx, secretID, viewerID, now)
	if err != nil {
		return models.Disclosure{}, false, fmt.Errorf("recording view: %w", err)
	}
	if !created {
		// Another process won between our lookup and the write.
		return models.Disclosure{Status: models.StatusAlreadyViewed, ViewedAt: rec.ViewedAt}, false, nil
	}

	swapped, err := c.store.CompareAndSwapState(ctx, secretID, models.StateUnviewed, models.StateViewed, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Disclosure{}, true, nil
		}
		return models.Disclosure{}, false, fmt.Errorf("marking secret viewed: %w", err)
	}
	if !swapped {
		// The record above is ours, but the state moved under us. The only
		// legal moves out of Unviewed are Viewed and Expired; re-reading
		// classifies which one happened.
		return models.Disclosure{}, true, nil
	}

	c.logger.Info("secret revealed",
		zap.String("secret_id", secretID),
		zap.Time("viewed_at", now))

	return models.Disclosure{
		Status:   models.StatusRevealed,
		Payload:  secret.Payload,
		ViewedAt: rec.ViewedAt,
	}, false, nil
}

// Expire applies the expiry check without a viewer, for administrative use
// and the janitor sweep. It reports whether this call performed the
// transition.
func (c *Coordinator) Expire(ctx context.Context, secretID string, now time.Time) (bool, error) {
	mu := c.lockFor(secretID)
	mu.Lock()
	defer mu.Unlock()

	secret, err := c.store.Get(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading secret: %w", err)
	}

	if secret.State != models.StateUnviewed || !secret.ExpiredAt(now) {
		return false, nil
	}

	swapped, err := c.store.CompareAndSwapState(ctx, secretID, models.StateUnviewed, models.StateExpired, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("expiring secret: %w", err)
	}
	if swapped {
		c.logger.Info("secret expired by sweep", zap.String("secret_id", secretID))
	}
	return swapped, nil
}
