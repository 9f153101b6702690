package models

import "time"

// Group status values. PendingReview groups await admin approval; Open and
// Active groups accept joins; Full groups are at capacity; Failed and
// Rejected are terminal.
const (
	GroupStatusPendingReview = "pending_review"
	GroupStatusOpen          = "open"
	GroupStatusActive        = "active"
	GroupStatusFull          = "full"
	GroupStatusFailed        = "failed"
	GroupStatusRejected      = "rejected"
)

type Group struct {
	ID          string
	OwnerID     string
	TotalPrice  int64
	SlotsTotal  int64
	SlotsFilled int64
	Status      string
	CreatedAt   time.Time
}

// ShareAmount is the per-slot price in credits. Division rounds up so the
// sum of shares never under-covers TotalPrice.
func (g *Group) ShareAmount() int64 {
	return (g.TotalPrice + g.SlotsTotal - 1) / g.SlotsTotal
}

// FillStatus returns the status a group should carry given its slot counts:
// Full iff every slot is taken, Active otherwise. It must be applied inside
// the same transaction that mutated SlotsFilled.
func FillStatus(slotsFilled, slotsTotal int64) string {
	if slotsFilled == slotsTotal {
		return GroupStatusFull
	}
	return GroupStatusActive
}
