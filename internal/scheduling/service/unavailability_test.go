package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

func TestProcessRBTUnavailability_ReassignsToTeamMember(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	// client-1 keeps their Monday slot via rbt-b; client-2's single-member
	// team leaves nowhere to go.
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)
	f.store.teams["team-2"] = domain.Team{
		ID: "team-2", ClientID: "client-2",
		RBTIDs: []string{"rbt-a"}, PrimaryRBTID: "rbt-a",
		EffectiveDate: fixtureNow.AddDate(-1, 0, 0), IsActive: true,
	}
	f.seedSession("sess-2", "client-2", "rbt-a", fixtureMonday.Add(14*time.Hour), domain.SessionScheduled)

	result, err := f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:        "rbt-a",
		StartDate:    fixtureMonday,
		EndDate:      fixtureMonday.AddDate(0, 0, 1),
		Reason:       "sick leave",
		Type:         "sick",
		AutoReassign: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.EventID)
	require.Len(t, result.AffectedSessions, 2)
	require.Len(t, result.Reassignments, 2)

	first := result.Reassignments[0]
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, domain.ReassignmentSuccessful, first.Status)
	require.NotNil(t, first.NewRBTID)
	assert.Equal(t, "rbt-b", *first.NewRBTID)
	assert.Nil(t, first.NewStartTime)

	second := result.Reassignments[1]
	assert.Equal(t, "sess-2", second.SessionID)
	assert.Equal(t, domain.ReassignmentFailed, second.Status)
	assert.Equal(t, "No other team members available", second.Reason)

	assert.Equal(t, "rbt-b", f.store.sessions["sess-1"].RBTID)
	assert.Equal(t, "rbt-a", f.store.sessions["sess-2"].RBTID)

	assert.Len(t, f.store.eventsOfType(domain.EventRBTUnavailable), 1)
	assert.Len(t, f.store.eventsOfType(domain.EventSessionRescheduled), 1)
	assert.Contains(t, f.cache.rbtInvalidates, "rbt-a")
	// The reassignment changes which RBTs the team has free, so its
	// cached available-RBT sets are dropped.
	assert.Contains(t, f.cache.teamSlotInvalidates, "team-1")
	assert.Len(t, f.broadcast.ofType("rbt_unavailable"), 1)
	assert.Len(t, f.broadcast.ofType("session_rescheduled"), 1)
}

func TestProcessRBTUnavailability_TimeBandSearch(t *testing.T) {
	f := newFixture(t, func(cfg *config.SchedulingConfig) {
		cfg.Reassignment.AllowTimeChanges = true
	})
	f.seedClinic()

	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)
	// rbt-b is booked over the original slot, forcing a time change.
	f.seedSession("blocker", "client-2", "rbt-b", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:        "rbt-a",
		StartDate:    fixtureMonday,
		EndDate:      fixtureMonday.Add(23 * time.Hour),
		Reason:       "training",
		Type:         "training",
		AutoReassign: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Reassignments, 1)

	reassignment := result.Reassignments[0]
	require.Equal(t, domain.ReassignmentSuccessful, reassignment.Status)
	require.NotNil(t, reassignment.NewRBTID)
	assert.Equal(t, "rbt-b", *reassignment.NewRBTID)
	require.NotNil(t, reassignment.NewStartTime)

	// First band slot on the first business day after the window.
	tuesday := fixtureMonday.AddDate(0, 0, 1)
	assert.Equal(t, tuesday.Add(9*time.Hour), *reassignment.NewStartTime)
	assert.Equal(t, tuesday.Add(12*time.Hour), *reassignment.NewEndTime)
	assert.Equal(t, tuesday.Add(9*time.Hour), f.store.sessions["sess-1"].StartTime)
}

func TestProcessRBTUnavailability_NoTimeChangeWithoutStrategy(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)
	f.seedSession("blocker", "client-2", "rbt-b", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:        "rbt-a",
		StartDate:    fixtureMonday,
		EndDate:      fixtureMonday.AddDate(0, 0, 1),
		Reason:       "sick leave",
		Type:         "sick",
		AutoReassign: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Reassignments, 1)
	assert.Equal(t, domain.ReassignmentFailed, result.Reassignments[0].Status)
	assert.Equal(t, "rbt-a", f.store.sessions["sess-1"].RBTID)
	assert.Equal(t, fixtureMonday.Add(10*time.Hour), f.store.sessions["sess-1"].StartTime)
}

func TestProcessRBTUnavailability_DeclarationOnly(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:     "rbt-a",
		StartDate: fixtureMonday,
		EndDate:   fixtureMonday.AddDate(0, 0, 1),
		Reason:    "jury duty",
		Type:      "personal",
	})
	require.NoError(t, err)
	require.Len(t, result.AffectedSessions, 1)
	assert.Empty(t, result.Reassignments)
	assert.Equal(t, "rbt-a", f.store.sessions["sess-1"].RBTID)
}

func TestProcessRBTUnavailability_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	inactive := f.store.rbts["rbt-c"]
	inactive.IsActive = false
	f.store.rbts["rbt-c"] = inactive

	_, err := f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:     "rbt-c",
		StartDate: fixtureMonday,
		EndDate:   fixtureMonday.AddDate(0, 0, 1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = f.unavailability.ProcessRBTUnavailability(context.Background(), service.UnavailabilityRequest{
		RBTID:     "rbt-a",
		StartDate: fixtureMonday,
		EndDate:   fixtureMonday.AddDate(0, 0, -1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestBulkProcessRBTUnavailability(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	items, err := f.unavailability.BulkProcessRBTUnavailability(context.Background(), []service.UnavailabilityRequest{
		{RBTID: "rbt-a", StartDate: fixtureMonday, EndDate: fixtureMonday.AddDate(0, 0, 1), Reason: "sick", Type: "sick"},
		{RBTID: "rbt-404", StartDate: fixtureMonday, EndDate: fixtureMonday.AddDate(0, 0, 1)},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Error)
	assert.NotEmpty(t, items[1].Error)
}

func TestResolveUnavailability(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	note := "cleared to return"
	event, err := f.unavailability.ResolveUnavailability(context.Background(), "rbt-a", &note)
	require.NoError(t, err)
	assert.Equal(t, domain.EventRBTAvailable, event.EventType)
	assert.NotEmpty(t, event.ID)

	assert.Len(t, f.store.eventsOfType(domain.EventRBTAvailable), 1)
	assert.Len(t, f.broadcast.ofType("rbt_available"), 1)
	assert.Contains(t, f.cache.rbtInvalidates, "rbt-a")
}
