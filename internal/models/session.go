package models

import "time"

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRotated SessionStatus = "rotated"
	SessionStatusRevoked SessionStatus = "revoked"
)

// Revocation reasons recorded on refresh-token records. Revoked rows are
// retained until expiry for replay-detection auditing.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonUserRevoked   = "user_revoked"
	RevokeReasonPasswordReset = "password_reset"
)

// RefreshTokenRecord is the persisted side of an opaque refresh token.
// Only the verifier hash is stored; the raw secret is handed to the client
// once at creation and never persisted.
type RefreshTokenRecord struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	LineageID     string        `json:"lineage_id"`
	Selector      string        `json:"selector"`
	VerifierHash  string        `json:"verifier_hash"`
	UserAgent     string        `json:"user_agent"`
	IPAddress     string        `json:"ip_address"`
	Status        SessionStatus `json:"status"`
	RevokedReason string        `json:"revoked_reason"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

func (r *RefreshTokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// UserMetadata is the per-request client fingerprint captured on
// issuance and rotation.
type UserMetadata struct {
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
}
