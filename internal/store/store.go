package store

import (
	"context"
	"errors"
	"time"

	"secret.once/internal/models"
)

var (
	// ErrNotFound indicates the requested secret does not exist.
	ErrNotFound = errors.New("secret not found")

	// ErrAlreadyExists indicates a Create collided with an existing ID.
	ErrAlreadyExists = errors.New("secret already exists")

	// ErrConflict indicates a conditional write lost its race and the
	// bounded retries were exhausted. Callers should treat it as transient.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store is the persistence contract the coordinator drives. Mutation of a
// secret's state goes exclusively through CompareAndSwapState; there is no
// plain read-then-write path.
type Store interface {
	// Create persists a new secret. Returns ErrAlreadyExists on ID collision.
	Create(ctx context.Context, secret *models.Secret) error

	// Get returns the secret by ID, or ErrNotFound. Implementations return a
	// copy the caller may inspect freely without aliasing stored state.
	Get(ctx context.Context, id string) (*models.Secret, error)

	// CompareAndSwapState atomically transitions the secret from expected to
	// next, clearing the payload when clearPayload is set. It reports false
	// (with a nil error) when the stored state no longer matches expected.
	CompareAndSwapState(ctx context.Context, id string, expected, next models.SecretState, clearPayload bool) (bool, error)

	// Delete removes the secret and its view records.
	Delete(ctx context.Context, id string) error

	// ListExpiredIDs returns IDs of secrets whose deadline has passed at now
	// and which are not yet in a terminal state. Used by the janitor sweep.
	ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error)

	Close() error
}

// ViewTracker is the idempotency ledger for (secret, viewer) pairs. Both
// bundled Store implementations also implement ViewTracker so the ledger
// lives in the same backend as the secret state.
type ViewTracker interface {
	// RecordView writes the view record unless one already exists. It returns
	// the authoritative record either way; created reports whether this call
	// wrote it. First writer wins, records are never overwritten.
	RecordView(ctx context.Context, secretID, viewerID string, at time.Time) (rec *models.ViewRecord, created bool, err error)

	// LookupView returns the record for the pair, or ErrNotFound.
	LookupView(ctx context.Context, secretID, viewerID string) (*models.ViewRecord, error)
}
