package models

import "time"

// Membership kinds. Recurring memberships renew monthly and refund nothing
// on voluntary leave; temporary ones are time-boxed and refund prorated
// value for unused days.
const (
	MembershipKindRecurring = "recurring"
	MembershipKindTemporary = "temporary"
)

type Membership struct {
	ID          string
	UserID      string
	GroupID     string
	Kind        string
	ShareAmount int64
	IsActive    bool
	EndDate     *time.Time
	CreatedAt   time.Time
}
