package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

func TestCancelSession_FindsOpportunitiesForFreedSlot(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	// client-2 also has rbt-a on their team and nothing booked in the
	// freed window.
	f.store.teams["team-2"] = domain.Team{
		ID: "team-2", ClientID: "client-2",
		RBTIDs: []string{"rbt-a", "rbt-b"}, PrimaryRBTID: "rbt-a",
		EffectiveDate: fixtureNow.AddDate(-1, 0, 0), IsActive: true,
	}

	result, err := f.cancellation.CancelSession(context.Background(), "sess-1", "client illness", true, 3)
	require.NoError(t, err)
	require.True(t, result.Success)

	stored := f.store.sessions["sess-1"]
	assert.Equal(t, domain.SessionCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "client illness", *stored.CancellationReason)

	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "client-2", result.Opportunities[0].ClientID)
	assert.Equal(t, "team-2", result.Opportunities[0].TeamID)

	assert.Len(t, f.store.eventsOfType(domain.EventSessionCancelled), 1)
	cancelled := f.broadcast.ofType("session_cancelled")
	require.Len(t, cancelled, 1)
	payload, ok := cancelled[0].update.Data.(messaging.SessionCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Equal(t, "client illness", payload.Reason)
	assert.Positive(t, f.cache.sessionInvalidates)
}

func TestCancelSession_DropsTeamAvailableRBTCaches(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	// A cached available-RBT set for the client's team must not survive
	// the cancellation, or it would keep hiding the freed RBT.
	_, err := f.cancellation.CancelSession(context.Background(), "sess-1", "client illness", false, 0)
	require.NoError(t, err)

	assert.Contains(t, f.cache.teamSlotInvalidates, "team-1")
}

func TestCancelSession_BusyClientsExcludedFromOpportunities(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)
	// client-2 is already booked over the freed window.
	f.seedSession("sess-2", "client-2", "rbt-b", fixtureMonday.Add(11*time.Hour), domain.SessionScheduled)

	f.store.teams["team-2"] = domain.Team{
		ID: "team-2", ClientID: "client-2",
		RBTIDs: []string{"rbt-a", "rbt-b"}, PrimaryRBTID: "rbt-a",
		EffectiveDate: fixtureNow.AddDate(-1, 0, 0), IsActive: true,
	}

	result, err := f.cancellation.CancelSession(context.Background(), "sess-1", "rbt sick", true, 3)
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities)
}

func TestCancelSession_AlreadyCancelled(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("gone", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionCancelled)

	_, err := f.cancellation.CancelSession(context.Background(), "gone", "again", false, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestCancelSession_CompletedRejected(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("done", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionCompleted)

	_, err := f.cancellation.CancelSession(context.Background(), "done", "oops", false, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestBulkCancelSessions_FailuresDoNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)
	f.seedSession("sess-2", "client-1", "rbt-b", fixtureMonday.AddDate(0, 0, 1).Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.cancellation.BulkCancelSessions(context.Background(),
		[]string{"sess-1", "sess-404", "sess-2"}, "facility closure")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)
	assert.True(t, result.Items[0].Success)
	assert.False(t, result.Items[1].Success)
	assert.NotEmpty(t, result.Items[1].Error)
	assert.True(t, result.Items[2].Success)
}

func TestCancellationStats(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(9*time.Hour), domain.SessionScheduled)
	f.seedSession("sess-2", "client-1", "rbt-a", fixtureMonday.AddDate(0, 0, 1).Add(9*time.Hour), domain.SessionScheduled)
	f.seedSession("sess-3", "client-1", "rbt-b", fixtureMonday.AddDate(0, 0, 2).Add(9*time.Hour), domain.SessionScheduled)

	for id, reason := range map[string]string{
		"sess-1": "client illness",
		"sess-2": "client illness",
		"sess-3": "family emergency",
	} {
		_, err := f.cancellation.CancelSession(context.Background(), id, reason, false, 0)
		require.NoError(t, err)
	}

	stats, err := f.cancellation.Stats(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByReason["client illness"])
	assert.Equal(t, 1, stats.ByReason["family emergency"])
	assert.Equal(t, 2, stats.ByRBT["rbt-a"])
	assert.Equal(t, 1, stats.ByRBT["rbt-b"])
}
