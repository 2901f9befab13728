package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

func TestScheduleSession_PrimaryWinsScoreTie(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	// With no history both members score zero; the primary breaks the
	// tie even against a lexicographically smaller id.
	team := f.store.teams["team-1"]
	team.PrimaryRBTID = "rbt-b"
	f.store.teams["team-1"] = team

	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-1",
		StartTime: fixtureMonday.Add(10 * time.Hour),
		Location:  "clinic",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.Session)
	assert.Equal(t, "rbt-b", result.Session.RBTID)
	require.NotNil(t, result.Selection)
	assert.Equal(t, "rbt-b", result.Selection.SelectedRBTID)
	assert.Len(t, result.Selection.Candidates, 2)

	stored, err := f.scheduling.GetSession(context.Background(), result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionScheduled, stored.Status)

	assert.Len(t, f.store.eventsOfType(domain.EventSessionCreated), 1)
	created := f.broadcast.ofType("session_created")
	require.Len(t, created, 1)
	payload, ok := created[0].update.Data.(messaging.SessionCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, result.Session.ID, payload.SessionID)
	assert.Equal(t, "rbt-b", payload.RBTID)
	assert.Equal(t, fixtureMonday.Add(10*time.Hour), payload.StartTime)
	assert.Positive(t, f.cache.sessionInvalidates)
}

func TestScheduleSession_LoyalRBTBeatsPrimary(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	// Six completed sessions with rbt-b, three of them recent. The
	// primary rbt-a has never served the client.
	for i := 0; i < 6; i++ {
		start := fixtureNow.AddDate(0, 0, -7*(i+1)).Truncate(24 * time.Hour).Add(10 * time.Hour)
		f.seedSession(fmtID("hist", i), "client-1", "rbt-b", start, domain.SessionCompleted)
	}

	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-1",
		StartTime: fixtureMonday.Add(10 * time.Hour),
		Location:  "clinic",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "rbt-b", result.Session.RBTID)
	require.NotNil(t, result.Selection)
	assert.Greater(t, result.Selection.Score, 0.0)
}

func TestScheduleSession_PastStartRejected(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	rbtID := "rbt-a"
	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-1",
		RBTID:     &rbtID,
		StartTime: fixtureNow.AddDate(0, 0, -1).Truncate(24 * time.Hour).Add(10 * time.Hour),
		Location:  "clinic",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotNil(t, result.Validation)
	assert.True(t, hasViolation(result.Validation, domain.ViolationBusinessHours))
	assert.Empty(t, f.store.sessions)
	assert.Empty(t, f.broadcast.updates)
}

func TestScheduleSession_DailyCapReached(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	f.seedSession("busy-1", "client-2", "rbt-a", fixtureMonday.Add(9*time.Hour), domain.SessionScheduled)
	f.seedSession("busy-2", "client-2", "rbt-a", fixtureMonday.Add(12*time.Hour+30*time.Minute), domain.SessionScheduled)

	rbtID := "rbt-a"
	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-1",
		RBTID:     &rbtID,
		StartTime: fixtureMonday.Add(16 * time.Hour),
		Location:  "clinic",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.True(t, hasViolation(result.Validation, domain.ViolationDailyCapacity))
}

func TestScheduleSession_ConflictReturnsTieredAlternatives(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	f.seedSession("taken", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	rbtID := "rbt-a"
	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:          "client-1",
		RBTID:             &rbtID,
		StartTime:         fixtureMonday.Add(10 * time.Hour),
		Location:          "clinic",
		AllowAlternatives: true,
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.True(t, hasViolation(result.Validation, domain.ViolationRBTConflict))
	assert.True(t, hasViolation(result.Validation, domain.ViolationClientConflict))

	require.NotEmpty(t, result.Alternatives)
	assert.LessOrEqual(t, len(result.Alternatives), 10)

	// Same-day slots fill the list before anything further out, and the
	// earliest non-conflicting start leads.
	for _, alt := range result.Alternatives {
		assert.Equal(t, domain.TierPreferred, alt.Availability)
	}
	first := result.Alternatives[0]
	assert.Equal(t, "rbt-b", first.RBTID)
	assert.Equal(t, fixtureMonday.Add(13*time.Hour), first.StartTime)
}

func TestScheduleSession_ConcurrentPlacementSurfacesAsConflict(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.store.failSessionCreate = errors.Conflict("sessions overlap for this RBT")

	rbtID := "rbt-a"
	result, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-1",
		RBTID:     &rbtID,
		StartTime: fixtureMonday.Add(10 * time.Hour),
		Location:  "clinic",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotNil(t, result.Validation)
	require.Len(t, result.Validation.Violations, 1)
	assert.Equal(t, domain.ViolationRBTConflict, result.Validation.Violations[0].Type)
	assert.Empty(t, f.broadcast.updates)
}

func TestScheduleSession_UnknownClient(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	_, err := f.scheduling.ScheduleSession(context.Background(), service.ScheduleSessionRequest{
		ClientID:  "client-404",
		StartTime: fixtureMonday.Add(10 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestBulkScheduleSessions(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	result, err := f.scheduling.BulkScheduleSessions(context.Background(), service.BulkScheduleRequest{
		ClientID:  "client-1",
		StartDate: fixtureMonday,
		EndDate:   fixtureMonday.AddDate(0, 0, 4),
		PreferredTimes: []service.PreferredTime{
			{DayOfWeek: 1, Time: "09:00"},
			{DayOfWeek: 3, Time: "09:00"},
		},
		SessionsPerWeek: 2,
		Location:        "clinic",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, 2, result.Scheduled)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Sessions, 2)
	assert.Equal(t, fixtureMonday.Add(9*time.Hour), result.Sessions[0].StartTime)
	assert.Equal(t, fixtureMonday.AddDate(0, 0, 2).Add(9*time.Hour), result.Sessions[1].StartTime)
}

func TestBulkScheduleSessions_RejectsBadRequest(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	_, err := f.scheduling.BulkScheduleSessions(context.Background(), service.BulkScheduleRequest{
		ClientID:        "client-1",
		StartDate:       fixtureMonday,
		EndDate:         fixtureMonday.AddDate(0, 0, -1),
		PreferredTimes:  []service.PreferredTime{{DayOfWeek: 1, Time: "09:00"}},
		SessionsPerWeek: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestRescheduleSession(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	newStart := fixtureMonday.AddDate(0, 0, 1).Add(10 * time.Hour)
	reason := "family request"
	result, err := f.scheduling.RescheduleSession(context.Background(), "sess-1", newStart, &reason)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, newStart, result.Session.StartTime)
	assert.Equal(t, newStart.Add(3*time.Hour), result.Session.EndTime)

	stored := f.store.sessions["sess-1"]
	assert.Equal(t, newStart, stored.StartTime)
	assert.Len(t, f.store.eventsOfType(domain.EventSessionRescheduled), 1)
	assert.Len(t, f.broadcast.ofType("session_rescheduled"), 1)
}

func TestRescheduleSession_MovedSessionDoesNotConflictWithItself(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	// One-hour shift overlaps the session's own current slot; the move
	// must still validate.
	result, err := f.scheduling.RescheduleSession(context.Background(), "sess-1",
		fixtureMonday.Add(11*time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRescheduleSession_TerminalSessionRejected(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("done", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionCancelled)

	_, err := f.scheduling.RescheduleSession(context.Background(), "done",
		fixtureMonday.AddDate(0, 0, 1).Add(10*time.Hour), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestFindAlternativeTimeSlots_RanksContinuityWithinTier(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()

	for i := 0; i < 4; i++ {
		start := fixtureNow.AddDate(0, 0, -7*(i+1)).Truncate(24 * time.Hour).Add(10 * time.Hour)
		f.seedSession(fmtID("hist", i), "client-1", "rbt-b", start, domain.SessionCompleted)
	}

	alternatives, err := f.scheduling.FindAlternativeTimeSlots(context.Background(),
		"client-1", fixtureMonday, 7)
	require.NoError(t, err)
	require.NotEmpty(t, alternatives)
	assert.LessOrEqual(t, len(alternatives), 10)

	// rbt-b carries the client's history, so its slots outrank rbt-a's
	// within the same tier.
	assert.Equal(t, "rbt-b", alternatives[0].RBTID)
	assert.Greater(t, alternatives[0].ContinuityScore, 0.0)
	assert.Equal(t, domain.TierPreferred, alternatives[0].Availability)
}

func hasViolation(v *domain.ValidationResult, t domain.ViolationType) bool {
	if v == nil {
		return false
	}
	for _, violation := range v.Violations {
		if violation.Type == t {
			return true
		}
	}
	return false
}
