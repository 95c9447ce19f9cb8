package models

import "time"

//nolint:gosec //file not handles sensitive data
const (
	MwAPIKeyHeader = "X-API-Key"

	MwUserIDKey  = "userID"
	MwLineageKey = "lineageID"
	MwTokenKey   = "token"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

type APIKey struct {
	Key      string `json:"key"`
	ClientID string `json:"client_id"`
}
