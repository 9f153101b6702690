package models

import "time"

const (
	TransactionTypeDebit  = "debit"
	TransactionTypeCredit = "credit"
	TransactionTypeRefund = "refund"

	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
)

// Transaction is an immutable ledger entry. Rows are appended, never
// updated or deleted.
type Transaction struct {
	ID              string
	UserID          string
	Amount          int64
	Type            string
	Status          string
	CounterpartyRef string
	CreatedAt       time.Time
}
