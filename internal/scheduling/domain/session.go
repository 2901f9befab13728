package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a therapy session
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionConfirmed SessionStatus = "confirmed"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionNoShow    SessionStatus = "no_show"
)

// Session represents one three-hour therapy appointment between one
// client and one RBT.
type Session struct {
	ID                 string        `json:"id" db:"id"`
	ClientID           string        `json:"client_id" db:"client_id"`
	RBTID              string        `json:"rbt_id" db:"rbt_id"`
	StartTime          time.Time     `json:"start_time" db:"start_time"`
	EndTime            time.Time     `json:"end_time" db:"end_time"`
	Status             SessionStatus `json:"status" db:"status"`
	Location           string        `json:"location" db:"location"`
	Notes              *string       `json:"notes,omitempty" db:"notes"`
	CancellationReason *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CompletionNotes    *string       `json:"completion_notes,omitempty" db:"completion_notes"`
	CreatedBy          *string       `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy          *string       `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the session can no longer be placed, moved
// or cancelled.
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case SessionCancelled, SessionCompleted, SessionNoShow:
		return true
	}
	return false
}

// BlocksPlacement reports whether the session counts against conflict,
// daily-cap and break rules. Cancelled and no-show sessions free their
// slot.
func (s *Session) BlocksPlacement() bool {
	return s.Status != SessionCancelled && s.Status != SessionNoShow
}

// Overlaps reports whether the session's interval intersects [start, end).
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// TimeSlot is a candidate (start, end) interval
type TimeSlot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// AvailabilityTier classifies how soon an alternative slot is relative
// to the requested date.
type AvailabilityTier string

const (
	TierPreferred AvailabilityTier = "preferred" // same day
	TierAvailable AvailabilityTier = "available" // 1-3 days out
	TierPossible  AvailabilityTier = "possible"  // further out
)

// AlternativeSlot is a ranked (RBT, time) suggestion returned when a
// requested placement cannot be satisfied.
type AlternativeSlot struct {
	RBTID           string           `json:"rbt_id"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	ContinuityScore float64          `json:"continuity_score"`
	Availability    AvailabilityTier `json:"availability"`
}
