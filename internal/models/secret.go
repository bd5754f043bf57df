package models

import "time"

// SecretState tracks where a secret is in its one-way lifecycle.
// Viewed and Expired are terminal; there is no transition out of them.
type SecretState string

const (
	StateUnviewed SecretState = "unviewed"
	StateViewed   SecretState = "viewed"
	StateExpired  SecretState = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (s SecretState) Terminal() bool {
	return s == StateViewed || s == StateExpired
}

// Secret is the disclosable unit. Payload is non-empty only while the
// secret is unviewed and unexpired; every terminal transition clears the
// payload in the same store operation, so no later code path can re-serve it.
type Secret struct {
	ID        string      `json:"id"`
	Payload   string      `json:"payload,omitempty"`
	State     SecretState `json:"state"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	// ExpiresAt is optional; the zero value means the secret never
	// expires on its own.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expires reports whether the secret carries an expiry deadline.
func (s *Secret) Expires() bool {
	return !s.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the secret's deadline has passed at the given instant.
func (s *Secret) ExpiredAt(now time.Time) bool {
	return s.Expires() && !now.Before(s.ExpiresAt)
}

// ViewRecord is the per (secret, viewer) idempotency marker. Its presence is
// authoritative proof that the viewer already consumed (or was denied)
// disclosure; once written it is never overwritten.
type ViewRecord struct {
	SecretID string    `json:"secret_id"`
	ViewerID string    `json:"viewer_id"`
	ViewedAt time.Time `json:"viewed_at"`
}

// DisclosureStatus enumerates the possible outcomes of a view request.
// All four are expected results, not faults.
type DisclosureStatus string

const (
	StatusRevealed      DisclosureStatus = "revealed"
	StatusAlreadyViewed DisclosureStatus = "already_viewed"
	StatusExpired       DisclosureStatus = "expired"
	StatusNotFound      DisclosureStatus = "not_found"
)

// Disclosure is the coordinator's answer to a single View call. Payload is set
// only when Status is StatusRevealed. ViewedAt is set for Revealed and for
// AlreadyViewed when the asking viewer's own record exists; a different viewer
// probing a consumed secret gets neither.
type Disclosure struct {
	Status   DisclosureStatus
	Payload  string
	ViewedAt time.Time
}
