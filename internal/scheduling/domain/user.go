package domain

import (
	"time"
)

// Role identifies what a user can do in the system
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleCoordinator  Role = "coordinator"
	RoleRBT          Role = "rbt"
	RoleClientFamily Role = "client_family"
)

// User represents a user in the system
type User struct {
	ID          string     `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"`
	FirstName   string     `json:"first_name" db:"first_name"`
	LastName    string     `json:"last_name" db:"last_name"`
	Phone       *string    `json:"phone,omitempty" db:"phone"`
	Role        Role       `json:"role" db:"role"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName returns the user's full name
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// RBT is the registered-behavior-technician view of a user (role=rbt).
type RBT struct {
	User
	LicenseNumber   string     `json:"license_number" db:"license_number"`
	Qualifications  []string   `json:"qualifications" db:"-"`
	HourlyRate      float64    `json:"hourly_rate" db:"hourly_rate"`
	HireDate        time.Time  `json:"hire_date" db:"hire_date"`
	TerminationDate *time.Time `json:"termination_date,omitempty" db:"termination_date"`
}

// Employed reports whether the RBT is actively employed at the given
// instant. An RBT with a termination date is inactive.
func (r *RBT) Employed(at time.Time) bool {
	if !r.IsActive {
		return false
	}
	if at.Before(r.HireDate) {
		return false
	}
	return r.TerminationDate == nil || at.Before(*r.TerminationDate)
}

// MissingQualifications reports which of the required qualifications the
// RBT does not hold.
func (r *RBT) MissingQualifications(required []string) []string {
	have := make(map[string]bool, len(r.Qualifications))
	for _, q := range r.Qualifications {
		have[q] = true
	}

	var missing []string
	for _, q := range required {
		if !have[q] {
			missing = append(missing, q)
		}
	}
	return missing
}

// Client is the therapy-client view of a user (role=client_family holds
// the account; the client is the patient).
type Client struct {
	User
	DateOfBirth     time.Time  `json:"date_of_birth" db:"date_of_birth"`
	GuardianContact string     `json:"guardian_contact" db:"guardian_contact"`
	SpecialNeeds    []string   `json:"special_needs" db:"-"`
	EnrollmentDate  time.Time  `json:"enrollment_date" db:"enrollment_date"`
	DischargeDate   *time.Time `json:"discharge_date,omitempty" db:"discharge_date"`
}

// Enrolled reports whether the client is actively enrolled at the given
// instant.
func (c *Client) Enrolled(at time.Time) bool {
	if !c.IsActive {
		return false
	}
	if at.Before(c.EnrollmentDate) {
		return false
	}
	return c.DischargeDate == nil || at.Before(*c.DischargeDate)
}
