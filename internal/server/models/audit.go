package models

import "time"

// AuditEntry is an append-only record of a sensitive ledger or credential
// operation. Entries are never mutated or deleted.
type AuditEntry struct {
	ID         string
	Action     string
	ActorID    string
	SubjectRef string
	CreatedAt  time.Time
}
