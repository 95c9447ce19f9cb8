package models

import "time"

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is what the session service hands back on login and refresh.
// The refresh token travels to the client as an HTTP-only cookie and is
// never included in a JSON body.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type TokenPairResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SessionInfo is one entry of the session list: a lineage that still has
// an active head record.
type SessionInfo struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	IsCurrent bool      `json:"is_current"`
}
