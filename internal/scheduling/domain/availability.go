package domain

import (
	"time"
)

// AvailabilitySlot is a recurring weekday window during which an RBT can
// take sessions. Days are ISO weekdays restricted to Mon..Fri (1..5);
// times are facility-local HH:MM within business hours.
type AvailabilitySlot struct {
	ID            string     `json:"id" db:"id"`
	RBTID         string     `json:"rbt_id" db:"rbt_id"`
	DayOfWeek     int        `json:"day_of_week" db:"day_of_week"` // 1=Mon .. 5=Fri
	StartTime     string     `json:"start_time" db:"start_time"`   // HH:MM
	EndTime       string     `json:"end_time" db:"end_time"`       // HH:MM
	IsRecurring   bool       `json:"is_recurring" db:"is_recurring"`
	EffectiveDate time.Time  `json:"effective_date" db:"effective_date"`
	EndDate       *time.Time `json:"end_date,omitempty" db:"end_date"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// InEffect reports whether the slot applies on the given date.
func (a *AvailabilitySlot) InEffect(date time.Time) bool {
	if !a.IsActive {
		return false
	}
	if date.Before(a.EffectiveDate) {
		return false
	}
	return a.EndDate == nil || !date.After(*a.EndDate)
}

// ISOWeekday converts a time.Weekday to the ISO numbering used by
// availability slots (Mon=1 .. Sun=7).
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}
