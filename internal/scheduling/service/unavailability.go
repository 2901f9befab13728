package service

import (
	"context"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/engine"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// Reassignment searches scan fixed facility-local time bands on each
// candidate day, in hourly steps, for a slot that fits a full session.
var searchBands = []struct{ open, close string }{
	{"09:00", "12:00"},
	{"13:00", "16:00"},
	{"16:00", "19:00"},
}

// UnavailabilityRequest declares an RBT unavailable for a window.
type UnavailabilityRequest struct {
	RBTID        string
	StartDate    time.Time
	EndDate      time.Time
	Reason       string
	Type         string
	AutoReassign bool
}

// UnavailabilityResult aggregates the processing of one declaration.
// Individual reassignment failures appear in Reassignments and never
// fail the declaration itself.
type UnavailabilityResult struct {
	RBTID            string                             `json:"rbt_id"`
	EventID          string                             `json:"event_id"`
	AffectedSessions []domain.Session                   `json:"affected_sessions"`
	Reassignments    []domain.SessionReassignmentResult `json:"reassignments,omitempty"`
}

// BulkUnavailabilityItem is one entry of a bulk declaration outcome.
type BulkUnavailabilityItem struct {
	RBTID  string                 `json:"rbt_id"`
	Result *UnavailabilityResult  `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// UnavailabilityService processes RBT unavailability declarations and
// reassigns affected sessions to other team members.
type UnavailabilityService struct {
	sessions SessionStore
	teams    TeamStore
	rbts     RBTStore
	eventLog EventStore
	engine   *engine.ConstraintEngine
	scorer   *engine.ContinuityScorer
	cache    ScheduleCache
	events   Broadcaster
	clk      clock.Clock
	calendar *clock.BusinessCalendar
	strategy config.ReassignmentConfig
	loader   *contextLoader
	logger   *logger.Logger
}

// NewUnavailabilityService creates a new unavailability service.
func NewUnavailabilityService(
	sessions SessionStore,
	teams TeamStore,
	rbts RBTStore,
	availability AvailabilityStore,
	eventLog EventStore,
	eng *engine.ConstraintEngine,
	scorer *engine.ContinuityScorer,
	cache ScheduleCache,
	events Broadcaster,
	clk clock.Clock,
	calendar *clock.BusinessCalendar,
	cfg config.SchedulingConfig,
	log *logger.Logger,
) *UnavailabilityService {
	return &UnavailabilityService{
		sessions: sessions,
		teams:    teams,
		rbts:     rbts,
		eventLog: eventLog,
		engine:   eng,
		scorer:   scorer,
		cache:    cache,
		events:   events,
		clk:      clk,
		calendar: calendar,
		strategy: cfg.Reassignment,
		loader: &contextLoader{
			sessions:     sessions,
			teams:        teams,
			availability: availability,
			clk:          clk,
			constraints:  constraintsFrom(cfg),
		},
		logger: log.WithComponent("unavailability-service"),
	}
}

// ProcessRBTUnavailability records the declaration, finds the affected
// sessions and, when requested, tries to reassign each one to another
// team member.
func (s *UnavailabilityService) ProcessRBTUnavailability(ctx context.Context, req UnavailabilityRequest) (*UnavailabilityResult, error) {
	rbt, err := s.rbts.FindByID(ctx, req.RBTID)
	if err != nil {
		return nil, err
	}
	if !rbt.IsActive {
		return nil, errors.Conflict("RBT is not active")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, errors.BadRequest("end date precedes start date")
	}

	affected, err := s.affectedSessions(ctx, req.RBTID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	event := &domain.ScheduleEvent{
		EventType: domain.EventRBTUnavailable,
		RBTID:     &req.RBTID,
		NewValues: domain.JSONMap{
			"start_date":        req.StartDate.Format(time.RFC3339),
			"end_date":          req.EndDate.Format(time.RFC3339),
			"type":              req.Type,
			"affected_sessions": len(affected),
		},
		Reason:    &req.Reason,
		CreatedBy: actorID(ctx),
	}
	if err := s.eventLog.Append(ctx, event); err != nil {
		return nil, err
	}

	s.cache.InvalidateRBT(ctx, req.RBTID)

	s.events.Broadcast(ctx, messaging.EventRBTUnavailable, messaging.ScheduleUpdate{
		Type:  "rbt_unavailable",
		RBTID: &req.RBTID,
		Data: messaging.RBTUnavailableEvent{
			RBTID:            req.RBTID,
			StartDate:        req.StartDate,
			EndDate:          req.EndDate,
			Reason:           req.Reason,
			Type:             req.Type,
			AffectedSessions: len(affected),
		},
		Timestamp: s.clk.Now(),
	})

	result := &UnavailabilityResult{
		RBTID:            req.RBTID,
		EventID:          event.ID,
		AffectedSessions: affected,
	}

	if req.AutoReassign {
		for i := range affected {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result.Reassignments = append(result.Reassignments,
				s.reassignSession(ctx, &affected[i], req.RBTID, req.StartDate, req.EndDate))
		}
	}

	s.logger.Info().
		Str("rbt_id", req.RBTID).
		Int("affected_sessions", len(affected)).
		Bool("auto_reassign", req.AutoReassign).
		Msg("rbt unavailability processed")

	return result, nil
}

func (s *UnavailabilityService) affectedSessions(ctx context.Context, rbtID string, from, to time.Time) ([]domain.Session, error) {
	sessions, err := s.sessions.FindByRBTID(ctx, rbtID, from, to)
	if err != nil {
		return nil, err
	}
	var affected []domain.Session
	for _, sess := range sessions {
		if sess.Status == domain.SessionScheduled || sess.Status == domain.SessionConfirmed {
			affected = append(affected, sess)
		}
	}
	return affected, nil
}

// reassignSession tries to hand one session to another member of the
// client's team, keeping the original time if anyone is free, otherwise
// scanning alternative time bands when the strategy allows time changes.
func (s *UnavailabilityService) reassignSession(ctx context.Context, session *domain.Session, unavailableRBT string, windowStart, windowEnd time.Time) domain.SessionReassignmentResult {
	failed := func(reason string) domain.SessionReassignmentResult {
		return domain.SessionReassignmentResult{
			SessionID: session.ID,
			Status:    domain.ReassignmentFailed,
			Reason:    reason,
		}
	}

	sctx, err := s.loader.load(ctx, session.ClientID)
	if err != nil {
		reason := "failed to load scheduling context"
		if errors.Is(err, errors.ErrNotFound) {
			reason = "client has no active team"
		}
		msg := err.Error()
		r := failed(reason)
		r.ErrorMessage = &msg
		return r
	}
	sctx.ExcludeSessionID = &session.ID

	pool := sctx.Team.MembersExcept(unavailableRBT)
	if len(pool) == 0 {
		return failed("No other team members available")
	}

	// Same-time candidates first.
	var available []string
	for _, rbtID := range pool {
		candidate := domain.CandidateSession{
			ClientID:  session.ClientID,
			RBTID:     rbtID,
			StartTime: session.StartTime,
			EndTime:   session.EndTime,
			Location:  session.Location,
		}
		if verdict := s.engine.Validate(candidate, sctx, 0); verdict.Valid {
			available = append(available, rbtID)
		}
	}

	if len(available) > 0 {
		selection, err := s.scorer.SelectRBT(available, sctx.SessionHistory, sctx.Team)
		if err != nil {
			return failed(err.Error())
		}
		return s.applyReassignment(ctx, session, sctx.Team.ID, selection.SelectedRBTID, selection.Score, nil, nil)
	}

	if !s.strategy.AllowTimeChanges {
		return failed("No other team members available")
	}

	// Time-band search over the following business days, best continuity
	// candidates first.
	selection, err := s.scorer.SelectRBT(pool, sctx.SessionHistory, sctx.Team)
	if err != nil {
		return failed(err.Error())
	}
	for _, ranked := range selection.Candidates {
		if start, ok := s.findBandSlot(ctx, sctx, ranked.RBTID, session, windowEnd); ok {
			end := start.Add(sctx.Constraints.SessionDuration)
			return s.applyReassignment(ctx, session, sctx.Team.ID, ranked.RBTID, ranked.Score, &start, &end)
		}
	}

	return failed("No available time slots found")
}

// findBandSlot scans the configured number of business days after the
// unavailability window for the first band slot that validates for both
// parties.
func (s *UnavailabilityService) findBandSlot(ctx context.Context, sctx *domain.SchedulingContext, rbtID string, session *domain.Session, windowEnd time.Time) (time.Time, bool) {
	maxDays := s.strategy.MaxDaysToReschedule
	if maxDays <= 0 {
		maxDays = 7
	}

	day := windowEnd
	for i := 0; i < maxDays; i++ {
		day = s.calendar.NextBusinessDay(day)

		for _, band := range searchBands {
			bandOpen, err := clock.ParseMinutes(band.open)
			if err != nil {
				continue
			}
			bandClose, err := clock.ParseMinutes(band.close)
			if err != nil {
				continue
			}
			duration := int(sctx.Constraints.SessionDuration.Minutes())

			for startMin := bandOpen; startMin+duration <= bandClose; startMin += 60 {
				start, err := s.calendar.At(day, clock.FormatMinutes(startMin))
				if err != nil {
					continue
				}
				candidate := domain.CandidateSession{
					ClientID:  session.ClientID,
					RBTID:     rbtID,
					StartTime: start,
					EndTime:   start.Add(sctx.Constraints.SessionDuration),
					Location:  session.Location,
				}
				if verdict := s.engine.Validate(candidate, sctx, 0); verdict.Valid {
					return start, true
				}
			}
		}
	}
	return time.Time{}, false
}

// applyReassignment persists the new assignment with its audit event and
// broadcasts the change.
func (s *UnavailabilityService) applyReassignment(ctx context.Context, session *domain.Session, teamID, newRBT string, continuity float64, newStart, newEnd *time.Time) domain.SessionReassignmentResult {
	old := *session
	session.RBTID = newRBT
	if newStart != nil && newEnd != nil {
		session.StartTime = *newStart
		session.EndTime = *newEnd
	}
	session.UpdatedBy = actorID(ctx)

	reason := "rbt unavailability"
	event := &domain.ScheduleEvent{
		EventType: domain.EventSessionRescheduled,
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		OldValues: sessionValues(&old),
		NewValues: sessionValues(session),
		Reason:    &reason,
		CreatedBy: actorID(ctx),
	}
	if err := s.sessions.Update(ctx, session, event); err != nil {
		msg := err.Error()
		*session = old
		return domain.SessionReassignmentResult{
			SessionID:    session.ID,
			Status:       domain.ReassignmentFailed,
			Reason:       "persistence failed",
			ErrorMessage: &msg,
		}
	}

	s.cache.InvalidateReschedule(ctx, &old, session)
	s.cache.InvalidateTeamSlots(ctx, teamID)

	s.events.Broadcast(ctx, messaging.EventSessionRescheduled, messaging.ScheduleUpdate{
		Type:      "session_rescheduled",
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		Data: messaging.SessionRescheduledEvent{
			SessionID:    session.ID,
			ClientID:     session.ClientID,
			OldRBTID:     old.RBTID,
			NewRBTID:     session.RBTID,
			OldStartTime: old.StartTime,
			NewStartTime: session.StartTime,
			Reason:       reason,
		},
		Timestamp: s.clk.Now(),
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Str("old_rbt_id", old.RBTID).
		Str("new_rbt_id", session.RBTID).
		Msg("session reassigned")

	result := domain.SessionReassignmentResult{
		SessionID:       session.ID,
		Status:          domain.ReassignmentSuccessful,
		NewRBTID:        &session.RBTID,
		ContinuityScore: &continuity,
	}
	if newStart != nil {
		result.NewStartTime = newStart
		result.NewEndTime = newEnd
	}
	return result
}

// BulkProcessRBTUnavailability applies a list of declarations, reporting
// each outcome independently.
func (s *UnavailabilityService) BulkProcessRBTUnavailability(ctx context.Context, reqs []UnavailabilityRequest) ([]BulkUnavailabilityItem, error) {
	items := make([]BulkUnavailabilityItem, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.ProcessRBTUnavailability(ctx, req)
		item := BulkUnavailabilityItem{RBTID: req.RBTID, Result: result}
		if err != nil {
			item.Error = err.Error()
		}
		items = append(items, item)
	}
	return items, nil
}

// ResolveUnavailability records that an RBT is available again. Write
// only: no sessions are touched.
func (s *UnavailabilityService) ResolveUnavailability(ctx context.Context, rbtID string, note *string) (*domain.ScheduleEvent, error) {
	if _, err := s.rbts.FindByID(ctx, rbtID); err != nil {
		return nil, err
	}

	event := &domain.ScheduleEvent{
		EventType: domain.EventRBTAvailable,
		RBTID:     &rbtID,
		Reason:    note,
		CreatedBy: actorID(ctx),
	}
	if err := s.eventLog.Append(ctx, event); err != nil {
		return nil, err
	}

	s.cache.InvalidateRBT(ctx, rbtID)

	s.events.Broadcast(ctx, messaging.EventRBTUnavailableResolved, messaging.ScheduleUpdate{
		Type:      "rbt_available",
		RBTID:     &rbtID,
		Timestamp: s.clk.Now(),
	})

	return event, nil
}
