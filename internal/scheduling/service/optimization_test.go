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
)

func TestFindOptimalReschedulingOptions(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.optimization.FindOptimalReschedulingOptions(context.Background(), "sess-1",
		service.OptimizationPreferences{
			MaxDaysFromOriginal: 1,
			MaxOptions:          5,
		})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", result.SessionID)
	require.Len(t, result.Options, 5)

	// 15 starts per day, two days, one RBT; the current placement is
	// excluded before validation.
	assert.Equal(t, 30, result.Metrics.SearchSpaceSize)
	assert.Equal(t, 29, result.Metrics.TotalOptionsEvaluated)
	assert.Len(t, result.Metrics.ConsideredConstraints, 10)

	// Ranks are total, scores non-increasing, and the no-op candidate
	// never appears.
	for i, opt := range result.Options {
		assert.Equal(t, i+1, opt.Rank)
		if i > 0 {
			assert.LessOrEqual(t, opt.OptimizationScore, result.Options[i-1].OptimizationScore)
		}
		if opt.RBTID == "rbt-a" {
			assert.False(t, opt.StartTime.Equal(fixtureMonday.Add(10*time.Hour)))
		}
	}

	// The half-hour shift toward the middle of the day wins: same time
	// proximity as 09:30 but better slot centrality.
	assert.Equal(t, fixtureMonday.Add(10*time.Hour+30*time.Minute), result.Options[0].StartTime)
	assert.Equal(t, "rbt-a", result.Options[0].RBTID)
}

func TestFindOptimalReschedulingOptions_PreferredWindows(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	result, err := f.optimization.FindOptimalReschedulingOptions(context.Background(), "sess-1",
		service.OptimizationPreferences{
			MaxDaysFromOriginal: 1,
			PreferredTimes:      []service.TimeWindow{{Start: "13:00", End: "17:00"}},
		})
	require.NoError(t, err)
	require.NotEmpty(t, result.Options)
	for _, opt := range result.Options {
		hour := opt.StartTime.Hour()
		assert.GreaterOrEqual(t, hour, 13)
		assert.LessOrEqual(t, opt.EndTime.Hour(), 17)
	}
}

func TestFindOptimalReschedulingOptions_DifferentRBTUsesContinuity(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	for i := 0; i < 5; i++ {
		start := fixtureNow.AddDate(0, 0, -7*(i+1)).Truncate(24 * time.Hour).Add(14 * time.Hour)
		f.seedSession(fmtID("hist", i), "client-1", "rbt-b", start, domain.SessionCompleted)
	}

	result, err := f.optimization.FindOptimalReschedulingOptions(context.Background(), "sess-1",
		service.OptimizationPreferences{
			MaxDaysFromOriginal: 1,
			AllowDifferentRBT:   true,
			MaxOptions:          3,
		})
	require.NoError(t, err)
	require.NotEmpty(t, result.Options)
	// Continuity carries the largest weight, so rbt-b leads despite the
	// session currently belonging to rbt-a.
	assert.Equal(t, "rbt-b", result.Options[0].RBTID)
	assert.Greater(t, result.Options[0].ContinuityScore, 0.0)
}

func TestFindOptimalReschedulingOptions_TerminalSession(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("done", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionCompleted)

	_, err := f.optimization.FindOptimalReschedulingOptions(context.Background(), "done",
		service.OptimizationPreferences{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestAnalyzeReschedulingImpact(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	// rbt-a has served the client five times, all more than a month ago:
	// history 20 + primary 20 = 40 continuity.
	for i := 0; i < 5; i++ {
		start := fixtureNow.AddDate(0, 0, -40-7*i).Truncate(24 * time.Hour).Add(10 * time.Hour)
		f.seedSession(fmtID("hist", i), "client-1", "rbt-a", start, domain.SessionCompleted)
	}

	tuesday := fixtureMonday.AddDate(0, 0, 1)
	f.seedSession("other", "client-2", "rbt-b", tuesday.Add(13*time.Hour), domain.SessionScheduled)

	newRBT := "rbt-b"
	analysis, err := f.optimization.AnalyzeReschedulingImpact(context.Background(), "sess-1",
		tuesday.Add(9*time.Hour), &newRBT)
	require.NoError(t, err)

	assert.Equal(t, 2, analysis.AffectedSessions)
	assert.Equal(t, 3, analysis.NotificationCount)
	assert.Len(t, analysis.CascadingChanges, 3)
	assert.InDelta(t, 40.0, analysis.ContinuityDisruption, 0.001)
	assert.InDelta(t, 85.0, analysis.OperationalComplexity, 0.001)
}

func TestAnalyzeReschedulingImpact_SameRBTTimeShift(t *testing.T) {
	f := newFixture(t)
	f.seedClinic()
	f.seedSession("sess-1", "client-1", "rbt-a", fixtureMonday.Add(10*time.Hour), domain.SessionScheduled)

	analysis, err := f.optimization.AnalyzeReschedulingImpact(context.Background(), "sess-1",
		fixtureMonday.Add(14*time.Hour), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, analysis.AffectedSessions)
	assert.Equal(t, 2, analysis.NotificationCount)
	assert.Len(t, analysis.CascadingChanges, 1)
	assert.Zero(t, analysis.ContinuityDisruption)
}
