package models

import "time"

const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusApproved  = "approved"
	WithdrawalStatusRejected  = "rejected"
	WithdrawalStatusProcessed = "processed"
)

type WithdrawalRequest struct {
	ID                string
	UserID            string
	Amount            int64
	EncryptedDest     []byte
	DestNonce         []byte
	Status            string
	RequestedAt       time.Time
	CooldownExpiresAt time.Time
}
