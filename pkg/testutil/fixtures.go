package testutil

import (
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
)

// Fixture instants shared by scheduling tests: a Monday inside a plain
// business week, with "now" frozen at the previous Friday noon.
var (
	FixtureMonday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	FixtureNow    = time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
)

// NewRBT builds an active RBT profile with sensible defaults.
func NewRBT(id string) domain.RBT {
	return domain.RBT{
		User: domain.User{
			ID:        id,
			Email:     id + "@brightsteps.local",
			FirstName: "Test",
			LastName:  id,
			Role:      domain.RoleRBT,
			IsActive:  true,
		},
		LicenseNumber: "LIC-" + id,
		HireDate:      time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC),
	}
}

// NewClient builds an actively enrolled client.
func NewClient(id string) domain.Client {
	return domain.Client{
		User: domain.User{
			ID:        id,
			Email:     id + "@brightsteps.local",
			FirstName: "Test",
			LastName:  id,
			Role:      domain.RoleClientFamily,
			IsActive:  true,
		},
		DateOfBirth:    time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC),
		EnrollmentDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewTeam builds an active team for a client. The first RBT is primary.
func NewTeam(id, clientID string, rbtIDs ...string) domain.Team {
	team := domain.Team{
		ID:            id,
		ClientID:      clientID,
		RBTIDs:        rbtIDs,
		EffectiveDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		IsActive:      true,
	}
	if len(rbtIDs) > 0 {
		team.PrimaryRBTID = rbtIDs[0]
	}
	return team
}

// NewSession builds a scheduled three-hour session at the given start.
func NewSession(id, clientID, rbtID string, start time.Time) domain.Session {
	return domain.Session{
		ID:        id,
		ClientID:  clientID,
		RBTID:     rbtID,
		StartTime: start,
		EndTime:   start.Add(3 * time.Hour),
		Status:    domain.SessionScheduled,
		Location:  "clinic",
	}
}

// WeekdayAvailability declares a recurring Mon..Fri window for an RBT.
func WeekdayAvailability(rbtID, startTime, endTime string) []domain.AvailabilitySlot {
	slots := make([]domain.AvailabilitySlot, 0, 5)
	for day := 1; day <= 5; day++ {
		slots = append(slots, domain.AvailabilitySlot{
			ID:            rbtID + "-day-" + string(rune('0'+day)),
			RBTID:         rbtID,
			DayOfWeek:     day,
			StartTime:     startTime,
			EndTime:       endTime,
			IsRecurring:   true,
			IsActive:      true,
			EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return slots
}
