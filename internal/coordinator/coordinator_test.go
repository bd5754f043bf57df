package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"secret.once/internal/models"
	"secret.once/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, st, zap.NewNop()), st
}

func createSecret(t *testing.T, st *store.MemoryStore, id, payload string, expiresAt time.Time) {
	t.Helper()
	err := st.Create(context.Background(), &models.Secret{
		ID:        id,
		Payload:   payload,
		State:     models.StateUnviewed,
		CreatedBy: "author",
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
}

func TestViewLiteralScenario(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "s1", "pw123", time.Time{})

	d, err := coord.View(ctx, "s1", "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevealed, d.Status)
	assert.Equal(t, "pw123", d.Payload)
	assert.Equal(t, t0, d.ViewedAt)

	d, err = coord.View(ctx, "s1", "alice", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAlreadyViewed, d.Status)
	assert.Empty(t, d.Payload)
	assert.Equal(t, t0, d.ViewedAt, "viewed_at must come from the original record")

	d, err = coord.View(ctx, "s1", "bob", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAlreadyViewed, d.Status)
	assert.Empty(t, d.Payload, "a different viewer never sees the payload")
	assert.True(t, d.ViewedAt.IsZero(), "a different viewer gets no foreign timestamp")

	d, err = coord.View(ctx, "missing", "carol", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, d.Status)
}

func TestViewIdempotentSameViewedAt(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "s1", "payload", time.Time{})

	d, err := coord.View(ctx, "s1", "alice", t0)
	require.NoError(t, err)
	require.Equal(t, models.StatusRevealed, d.Status)

	first, err := coord.View(ctx, "s1", "alice", t0.Add(time.Minute))
	require.NoError(t, err)
	second, err := coord.View(ctx, "s1", "alice", t0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, models.StatusAlreadyViewed, first.Status)
	assert.Equal(t, models.StatusAlreadyViewed, second.Status)
	assert.Equal(t, first.ViewedAt, second.ViewedAt)
	assert.Equal(t, t0, first.ViewedAt)
}

func TestViewClearsPayloadInStore(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()

	createSecret(t, st, "s1", "payload", time.Time{})

	d, err := coord.View(ctx, "s1", "alice", time.Now())
	require.NoError(t, err)
	require.Equal(t, models.StatusRevealed, d.Status)

	stored, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StateViewed, stored.State)
	assert.Empty(t, stored.Payload, "payload must be unrecoverable via direct store inspection")
}

func TestViewExpiryPrecedence(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "s2", "payload", t0.Add(10*time.Second))

	d, err := coord.View(ctx, "s2", "dave", t0.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, d.Status)
	assert.Empty(t, d.Payload)

	stored, err := st.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, models.StateExpired, stored.State)
	assert.Empty(t, stored.Payload)

	// Still expired for everyone, including the first asker.
	d, err = coord.View(ctx, "s2", "dave", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, d.Status)
}

func TestViewExactlyAtDeadlineExpires(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "s1", "payload", t0)

	d, err := coord.View(ctx, "s1", "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, d.Status, "now >= expiresAt must expire")
}

func TestNoResurrection(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "s1", "payload", t0.Add(time.Hour))

	d, err := coord.View(ctx, "s1", "alice", t0)
	require.NoError(t, err)
	require.Equal(t, models.StatusRevealed, d.Status)

	// No sequence of calls, viewers, or timestamps yields a payload again.
	for i, viewer := range []string{"alice", "bob", "alice", "carol"} {
		d, err := coord.View(ctx, "s1", viewer, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.NotEqual(t, models.StatusRevealed, d.Status)
		assert.Empty(t, d.Payload)
	}

	// Even past the deadline a viewed secret stays viewed, not expired.
	d, err = coord.View(ctx, "s1", "bob", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAlreadyViewed, d.Status)
}

func TestViewRace(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	now := time.Now()

	createSecret(t, st, "s1", "the-one-payload", time.Time{})

	const n = 64
	results := make([]models.Disclosure, n)
	errs := make([]error, n)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = coord.View(ctx, "s1", fmt.Sprintf("viewer-%d", i), now)
		}(i)
	}
	start.Done()
	done.Wait()

	for i, err := range errs {
		require.NoError(t, err, "viewer %d", i)
	}

	revealed, alreadyViewed := 0, 0
	for _, d := range results {
		switch d.Status {
		case models.StatusRevealed:
			revealed++
			assert.Equal(t, "the-one-payload", d.Payload)
		case models.StatusAlreadyViewed:
			alreadyViewed++
			assert.Empty(t, d.Payload)
		default:
			t.Fatalf("unexpected status %q", d.Status)
		}
	}
	assert.Equal(t, 1, revealed, "exactly one call may reveal")
	assert.Equal(t, n-1, alreadyViewed)
}

func TestViewSameViewerRace(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	now := time.Now()

	createSecret(t, st, "s1", "payload", time.Time{})

	const n = 50
	results := make([]models.Disclosure, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.View(ctx, "s1", "alice", now)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "call %d", i)
	}

	revealed := 0
	for _, d := range results {
		if d.Status == models.StatusRevealed {
			revealed++
		} else {
			require.Equal(t, models.StatusAlreadyViewed, d.Status)
			assert.Equal(t, now, d.ViewedAt)
		}
	}
	assert.Equal(t, 1, revealed)
}

func TestViewEmptyViewer(t *testing.T) {
	coord, st := newTestCoordinator(t)
	createSecret(t, st, "s1", "payload", time.Time{})

	_, err := coord.View(context.Background(), "s1", "", time.Now())
	assert.Error(t, err)
}

func TestExpire(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "live", "p1", t0.Add(time.Hour))
	createSecret(t, st, "dead", "p2", t0.Add(-time.Hour))
	createSecret(t, st, "forever", "p3", time.Time{})

	done, err := coord.Expire(ctx, "live", t0)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = coord.Expire(ctx, "dead", t0)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = coord.Expire(ctx, "dead", t0)
	require.NoError(t, err)
	assert.False(t, done, "second expire is a no-op")

	done, err = coord.Expire(ctx, "forever", t0)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = coord.Expire(ctx, "missing", t0)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestSweep(t *testing.T) {
	coord, st := newTestCoordinator(t)
	ctx := context.Background()
	t0 := time.Now()

	createSecret(t, st, "dead1", "p1", t0.Add(-time.Minute))
	createSecret(t, st, "dead2", "p2", t0.Add(-time.Second))
	createSecret(t, st, "live", "p3", t0.Add(time.Hour))

	n, err := coord.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"dead1", "dead2"} {
		stored, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateExpired, stored.State)
		assert.Empty(t, stored.Payload)
	}

	stored, err := st.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, models.StateUnviewed, stored.State)
	assert.Equal(t, "p3", stored.Payload)

	// A swept secret still answers Expired to its first asker.
	d, err := coord.View(ctx, "dead1", "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, d.Status)
}
