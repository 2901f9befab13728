package domain

import (
	"time"
)

// Team is the active set of RBTs assigned to one client, with one
// designated primary. At most one active team exists per client.
type Team struct {
	ID            string     `json:"id" db:"id"`
	ClientID      string     `json:"client_id" db:"client_id"`
	RBTIDs        []string   `json:"rbt_ids" db:"-"`
	PrimaryRBTID  string     `json:"primary_rbt_id" db:"primary_rbt_id"`
	EffectiveDate time.Time  `json:"effective_date" db:"effective_date"`
	EndDate       *time.Time `json:"end_date,omitempty" db:"end_date"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedBy     *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// HasMember reports whether the RBT is on the team roster.
func (t *Team) HasMember(rbtID string) bool {
	for _, id := range t.RBTIDs {
		if id == rbtID {
			return true
		}
	}
	return false
}

// MembersExcept returns the roster without the given RBT.
func (t *Team) MembersExcept(rbtID string) []string {
	out := make([]string, 0, len(t.RBTIDs))
	for _, id := range t.RBTIDs {
		if id != rbtID {
			out = append(out, id)
		}
	}
	return out
}

// QualificationCheck reports per-RBT gaps against a required set.
// Missing qualifications are warnings, not placement failures.
type QualificationCheck struct {
	RBTID                 string   `json:"rbt_id"`
	Qualified             bool     `json:"qualified"`
	MissingQualifications []string `json:"missing_qualifications,omitempty"`
}
