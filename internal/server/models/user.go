package models

import "time"

type User struct {
	ID            string
	CreditBalance int64
	IsActive      bool
	CreatedAt     time.Time
}
