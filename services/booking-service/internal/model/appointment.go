package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID          string
	OwnerID     string
	ServiceID   string
	ClientName  string
	ClientPhone string
	Date        time.Time // calendar day, midnight UTC
	StartTime   string    // "HH:mm", frozen at booking time
	EndTime     string    // start + service duration at booking time
	Status      string
	Notes       string
	CancelledAt *time.Time
	CreatedAt   time.Time
}

// CanTransition reports whether an owner action may move an appointment from
// one status to another. Completed and cancelled are terminal.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}
