package models

import "time"

// AccessGrant records the single active holder of a group's credentials.
// At most one unexpired grant may exist per group; expired rows are treated
// as absent and overwritten by the next acquisition.
type AccessGrant struct {
	GroupID      string
	HolderUserID string
	Token        string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}
