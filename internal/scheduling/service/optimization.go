package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/engine"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// Weighted components of the optimization score.
const (
	weightContinuity    = 0.45
	weightTimeProximity = 0.25
	weightDayProximity  = 0.20
	weightCentrality    = 0.10

	defaultMaxOptions = 10
)

// OptimizationPreferences steer the rescheduling search.
type OptimizationPreferences struct {
	MaxDaysFromOriginal int
	AllowDifferentRBT   bool
	// PreferredTimes restricts candidate starts to facility-local HH:MM
	// windows. Empty means any business-hours start.
	PreferredTimes []TimeWindow
	MaxOptions     int
}

// TimeWindow is a facility-local HH:MM interval.
type TimeWindow struct {
	Start string
	End   string
}

// OptimizationResult carries the ranked options and search metrics.
type OptimizationResult struct {
	SessionID string                      `json:"session_id"`
	Options   []domain.ReschedulingOption `json:"options"`
	Metrics   domain.OptimizationMetrics  `json:"metrics"`
}

// OptimizationService searches for the best rescheduling options for a
// session and quantifies the impact of a proposed move.
type OptimizationService struct {
	sessions SessionStore
	scorer   *engine.ContinuityScorer
	engine   *engine.ConstraintEngine
	calendar *clock.BusinessCalendar
	clk      clock.Clock
	loader   *contextLoader
	logger   *logger.Logger
}

// NewOptimizationService creates a new optimization service.
func NewOptimizationService(
	sessions SessionStore,
	teams TeamStore,
	availability AvailabilityStore,
	eng *engine.ConstraintEngine,
	scorer *engine.ContinuityScorer,
	clk clock.Clock,
	calendar *clock.BusinessCalendar,
	cfg config.SchedulingConfig,
	log *logger.Logger,
) *OptimizationService {
	return &OptimizationService{
		sessions: sessions,
		scorer:   scorer,
		engine:   eng,
		calendar: calendar,
		clk:      clk,
		loader: &contextLoader{
			sessions:     sessions,
			teams:        teams,
			availability: availability,
			clk:          clk,
			constraints:  constraintsFrom(cfg),
		},
		logger: log.WithComponent("optimization-service"),
	}
}

// FindOptimalReschedulingOptions enumerates candidate placements around
// the session's current slot, validates each through the full rule set,
// and returns them ranked by the weighted optimization score. Ranks are
// total and stable: equal scores order by (day, time, RBT id).
func (s *OptimizationService) FindOptimalReschedulingOptions(ctx context.Context, sessionID string, prefs OptimizationPreferences) (*OptimizationResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, errors.Conflict("session can no longer be rescheduled")
	}

	sctx, err := s.loader.load(ctx, session.ClientID)
	if err != nil {
		return nil, err
	}
	sctx.ExcludeSessionID = &session.ID

	maxDays := prefs.MaxDaysFromOriginal
	if maxDays <= 0 {
		maxDays = 7
	}
	maxOptions := prefs.MaxOptions
	if maxOptions <= 0 {
		maxOptions = defaultMaxOptions
	}

	rbtPool := []string{session.RBTID}
	if prefs.AllowDifferentRBT {
		rbtPool = append([]string(nil), sctx.Team.RBTIDs...)
		sort.Strings(rbtPool)
	}

	cons := sctx.Constraints
	openMin, _ := clock.ParseMinutes(cons.BusinessHoursStart)
	closeMin, _ := clock.ParseMinutes(cons.BusinessHoursEnd)
	duration := int(cons.SessionDuration.Minutes())
	originalStartMin := s.calendar.MinutesOfDay(session.StartTime)
	timeSpan := float64(closeMin - openMin - duration)

	var options []domain.ReschedulingOption
	metrics := domain.OptimizationMetrics{
		ConsideredConstraints: []string{
			"duration", "business_hours", "business_day", "future_start",
			"team_membership", "rbt_conflict", "client_conflict",
			"rbt_availability", "daily_capacity", "rest_gap",
		},
	}

	for offset := 0; offset <= maxDays; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day := session.StartTime.AddDate(0, 0, offset)

		for startMin := openMin; startMin+duration <= closeMin; startMin += 30 {
			start, err := s.calendar.At(day, clock.FormatMinutes(startMin))
			if err != nil {
				continue
			}
			for _, rbtID := range rbtPool {
				metrics.SearchSpaceSize++

				// Skip the no-op candidate.
				if rbtID == session.RBTID && start.Equal(session.StartTime) {
					continue
				}
				if !s.inPreferredWindows(startMin, duration, prefs.PreferredTimes) {
					continue
				}

				metrics.TotalOptionsEvaluated++
				candidate := domain.CandidateSession{
					ClientID:  session.ClientID,
					RBTID:     rbtID,
					StartTime: start,
					EndTime:   start.Add(cons.SessionDuration),
					Location:  session.Location,
				}
				if verdict := s.engine.Validate(candidate, sctx, 0); !verdict.Valid {
					continue
				}

				continuity := s.scorer.Score(rbtID, sctx.SessionHistory, sctx.Team)
				timeProximity := proximity(float64(startMin-originalStartMin), timeSpan)
				dayProximity := proximity(float64(offset), float64(maxDays))
				centrality := centrality(startMin, duration, openMin, closeMin)

				options = append(options, domain.ReschedulingOption{
					RBTID:             rbtID,
					StartTime:         start,
					EndTime:           start.Add(cons.SessionDuration),
					ContinuityScore:   continuity,
					TimeProximity:     timeProximity,
					DayProximity:      dayProximity,
					SlotCentrality:    centrality,
					OptimizationScore: weightContinuity*continuity +
						weightTimeProximity*timeProximity +
						weightDayProximity*dayProximity +
						weightCentrality*centrality,
				})
			}
		}
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].OptimizationScore != options[j].OptimizationScore {
			return options[i].OptimizationScore > options[j].OptimizationScore
		}
		if !options[i].StartTime.Equal(options[j].StartTime) {
			return options[i].StartTime.Before(options[j].StartTime)
		}
		return options[i].RBTID < options[j].RBTID
	})
	if len(options) > maxOptions {
		options = options[:maxOptions]
	}
	for i := range options {
		options[i].Rank = i + 1
	}

	return &OptimizationResult{
		SessionID: session.ID,
		Options:   options,
		Metrics:   metrics,
	}, nil
}

// inPreferredWindows reports whether the candidate fits one of the
// requested HH:MM windows. No windows means no restriction.
func (s *OptimizationService) inPreferredWindows(startMin, duration int, windows []TimeWindow) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		wStart, err1 := clock.ParseMinutes(w.Start)
		wEnd, err2 := clock.ParseMinutes(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if startMin >= wStart && startMin+duration <= wEnd {
			return true
		}
	}
	return false
}

// proximity maps a distance onto 100 (at zero) declining linearly to 0
// at the search boundary.
func proximity(distance, boundary float64) float64 {
	if boundary <= 0 {
		return 100
	}
	if distance < 0 {
		distance = -distance
	}
	p := 100 * (1 - distance/boundary)
	if p < 0 {
		return 0
	}
	return p
}

// centrality scores how close the slot sits to the middle of the
// business window, 0..100.
func centrality(startMin, duration, openMin, closeMin int) float64 {
	windowMid := float64(openMin+closeMin) / 2
	halfSpan := float64(closeMin-openMin) / 2
	if halfSpan <= 0 {
		return 0
	}
	slotMid := float64(startMin) + float64(duration)/2
	offset := slotMid - windowMid
	if offset < 0 {
		offset = -offset
	}
	c := 100 * (1 - offset/halfSpan)
	if c < 0 {
		return 0
	}
	return c
}

// AnalyzeReschedulingImpact quantifies what a proposed move would
// disturb: the target RBT's same-day cohort, the notifications owed, and
// the continuity cost of an RBT change.
func (s *OptimizationService) AnalyzeReschedulingImpact(ctx context.Context, sessionID string, newStart time.Time, newRBTID *string) (*domain.ImpactAnalysis, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	targetRBT := session.RBTID
	if newRBTID != nil {
		targetRBT = *newRBTID
	}

	dayStart, err := s.calendar.At(newStart, "00:00")
	if err != nil {
		return nil, err
	}
	cohort, err := s.sessions.FindByRBTID(ctx, targetRBT, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	analysis := &domain.ImpactAnalysis{NotificationCount: 2}

	affected := 1
	for _, c := range cohort {
		if c.ID != session.ID && c.BlocksPlacement() {
			affected++
		}
	}
	analysis.AffectedSessions = affected

	if !newStart.Equal(session.StartTime) {
		analysis.CascadingChanges = append(analysis.CascadingChanges,
			fmt.Sprintf("session moves from %s to %s",
				session.StartTime.Format(time.RFC3339), newStart.Format(time.RFC3339)))
	}
	if s.calendar.LocalDate(newStart) != s.calendar.LocalDate(session.StartTime) {
		analysis.CascadingChanges = append(analysis.CascadingChanges,
			"session moves to a different day")
	}

	if targetRBT != session.RBTID {
		analysis.NotificationCount = 3
		analysis.CascadingChanges = append(analysis.CascadingChanges,
			"client meets a different RBT")

		sctx, err := s.loader.load(ctx, session.ClientID)
		if err != nil {
			return nil, err
		}
		oldScore := s.scorer.Score(session.RBTID, sctx.SessionHistory, sctx.Team)
		newScore := s.scorer.Score(targetRBT, sctx.SessionHistory, sctx.Team)
		if drop := oldScore - newScore; drop > 0 {
			analysis.ContinuityDisruption = drop
		}
	}

	complexity := 10.0 + 15*float64(len(analysis.CascadingChanges)) +
		10*float64(affected-1)
	if targetRBT != session.RBTID {
		complexity += 20
	}
	if complexity > 100 {
		complexity = 100
	}
	analysis.OperationalComplexity = complexity

	return analysis, nil
}
