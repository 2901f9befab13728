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
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

const (
	defaultDaysAhead   = 7
	maxAlternatives    = 10
	tierAvailableLimit = 3
)

// ScheduleSessionRequest asks for one session placement. RBTID may be
// nil; the service then selects the best available team member.
type ScheduleSessionRequest struct {
	ClientID          string
	RBTID             *string
	StartTime         time.Time
	Location          string
	Notes             *string
	AllowAlternatives bool
}

// ScheduleSessionResult is the structured outcome of a placement
// attempt. Rule violations are a failure result, not an error; errors
// are reserved for missing entities and infrastructure faults.
type ScheduleSessionResult struct {
	Success      bool                       `json:"success"`
	Message      string                     `json:"message,omitempty"`
	Session      *domain.Session            `json:"session,omitempty"`
	Validation   *domain.ValidationResult   `json:"validation,omitempty"`
	Selection    *domain.RBTSelectionResult `json:"selection,omitempty"`
	Conflicts    []domain.Session           `json:"conflicts,omitempty"`
	Alternatives []domain.AlternativeSlot   `json:"alternatives,omitempty"`
}

// RescheduleResult is the structured outcome of a reschedule attempt.
type RescheduleResult struct {
	Success    bool                     `json:"success"`
	Message    string                   `json:"message,omitempty"`
	Session    *domain.Session          `json:"session,omitempty"`
	Validation *domain.ValidationResult `json:"validation,omitempty"`
}

// SchedulingService places, moves and suggests therapy sessions.
type SchedulingService struct {
	sessions SessionStore
	teams    TeamStore
	rbts     RBTStore
	clients  ClientStore
	engine   *engine.ConstraintEngine
	scorer   *engine.ContinuityScorer
	cache    ScheduleCache
	events   Broadcaster
	clk      clock.Clock
	calendar *clock.BusinessCalendar
	loader   *contextLoader
	logger   *logger.Logger
}

// NewSchedulingService creates a new scheduling service.
func NewSchedulingService(
	sessions SessionStore,
	teams TeamStore,
	rbts RBTStore,
	clients ClientStore,
	availability AvailabilityStore,
	eng *engine.ConstraintEngine,
	scorer *engine.ContinuityScorer,
	cache ScheduleCache,
	events Broadcaster,
	clk clock.Clock,
	calendar *clock.BusinessCalendar,
	cfg config.SchedulingConfig,
	log *logger.Logger,
) *SchedulingService {
	return &SchedulingService{
		sessions: sessions,
		teams:    teams,
		rbts:     rbts,
		clients:  clients,
		engine:   eng,
		scorer:   scorer,
		cache:    cache,
		events:   events,
		clk:      clk,
		calendar: calendar,
		loader: &contextLoader{
			sessions:     sessions,
			teams:        teams,
			availability: availability,
			clk:          clk,
			constraints:  constraintsFrom(cfg),
		},
		logger: log.WithComponent("scheduling-service"),
	}
}

// ScheduleSession places a single session. When no RBT is requested the
// available team members are ranked by continuity and the best one is
// chosen.
func (s *SchedulingService) ScheduleSession(ctx context.Context, req ScheduleSessionRequest) (*ScheduleSessionResult, error) {
	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.Enrolled(req.StartTime) {
		return nil, errors.Conflict("client is not actively enrolled at the requested time")
	}

	sctx, err := s.loader.load(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	start := req.StartTime
	end := start.Add(sctx.Constraints.SessionDuration)

	var selection *domain.RBTSelectionResult
	rbtID := ""
	if req.RBTID != nil {
		rbtID = *req.RBTID
	} else {
		available := s.availableTeamMembers(ctx, sctx, start, end)
		if len(available) == 0 {
			result := &ScheduleSessionResult{
				Success: false,
				Message: "no team members are available at the requested time",
			}
			if req.AllowAlternatives {
				result.Alternatives, _ = s.FindAlternativeTimeSlots(ctx, req.ClientID, start, defaultDaysAhead)
			}
			return result, nil
		}
		selection, err = s.scorer.SelectRBT(available, sctx.SessionHistory, sctx.Team)
		if err != nil {
			return nil, err
		}
		rbtID = selection.SelectedRBTID
	}

	candidate := domain.CandidateSession{
		ClientID:  req.ClientID,
		RBTID:     rbtID,
		StartTime: start,
		EndTime:   end,
		Location:  req.Location,
	}
	continuity := s.scorer.Score(rbtID, sctx.SessionHistory, sctx.Team)
	verdict := s.engine.Validate(candidate, sctx, continuity)
	if !verdict.Valid {
		result := &ScheduleSessionResult{
			Success:    false,
			Message:    "requested placement violates scheduling rules",
			Validation: &verdict,
			Selection:  selection,
		}
		if req.AllowAlternatives {
			result.Alternatives, _ = s.FindAlternativeTimeSlots(ctx, req.ClientID, start, defaultDaysAhead)
		}
		return result, nil
	}

	session := &domain.Session{
		ClientID:  req.ClientID,
		RBTID:     rbtID,
		StartTime: start,
		EndTime:   end,
		Status:    domain.SessionScheduled,
		Location:  req.Location,
		Notes:     req.Notes,
		CreatedBy: actorID(ctx),
		UpdatedBy: actorID(ctx),
	}
	event := &domain.ScheduleEvent{
		EventType: domain.EventSessionCreated,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		NewValues: sessionValues(session),
		CreatedBy: actorID(ctx),
	}

	if err := s.sessions.Create(ctx, session, event); err != nil {
		// A concurrent placement won the slot: the exclusion constraint
		// reports Conflict, which callers see as an availability violation.
		if errors.Is(err, errors.ErrConflict) {
			return &ScheduleSessionResult{
				Success: false,
				Message: "the time slot was taken by a concurrent placement",
				Validation: &domain.ValidationResult{
					Valid: false,
					Violations: []domain.Violation{{
						Type:                domain.ViolationRBTConflict,
						Description:         "the slot is no longer free",
						SuggestedResolution: "retry with a different time or RBT",
					}},
				},
				Selection: selection,
			}, nil
		}
		return nil, err
	}
	event.SessionID = &session.ID

	s.cache.InvalidateSession(ctx, session)
	s.cache.InvalidateTeamSlots(ctx, sctx.Team.ID)

	s.events.Broadcast(ctx, messaging.EventSessionCreated, messaging.ScheduleUpdate{
		Type:      "session_created",
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		Data: messaging.SessionCreatedEvent{
			SessionID: session.ID,
			ClientID:  session.ClientID,
			RBTID:     session.RBTID,
			StartTime: session.StartTime,
			EndTime:   session.EndTime,
			Location:  session.Location,
		},
		Timestamp: s.clk.Now(),
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Str("client_id", session.ClientID).
		Str("rbt_id", session.RBTID).
		Time("start_time", session.StartTime).
		Msg("session scheduled")

	return &ScheduleSessionResult{
		Success:    true,
		Session:    session,
		Validation: &verdict,
		Selection:  selection,
	}, nil
}

// availableTeamMembers returns the team members who pass the full rule
// set for the slot, cache-first with a short TTL.
func (s *SchedulingService) availableTeamMembers(ctx context.Context, sctx *domain.SchedulingContext, start, end time.Time) []string {
	if ids, hit := s.cache.GetAvailableRBTs(ctx, sctx.Team.ID, start, end); hit {
		return ids
	}

	members := append([]string(nil), sctx.Team.RBTIDs...)
	sort.Strings(members)

	var available []string
	for _, rbtID := range members {
		candidate := domain.CandidateSession{
			ClientID:  sctx.ClientID,
			RBTID:     rbtID,
			StartTime: start,
			EndTime:   end,
		}
		if verdict := s.engine.Validate(candidate, sctx, 0); verdict.Valid {
			available = append(available, rbtID)
		}
	}

	s.cache.SetAvailableRBTs(ctx, sctx.Team.ID, start, end, available)
	return available
}

// BulkScheduleRequest expands a recurring pattern into sessions.
type BulkScheduleRequest struct {
	ClientID       string
	StartDate      time.Time
	EndDate        time.Time
	PreferredTimes []PreferredTime
	SessionsPerWeek int
	Location       string
}

// PreferredTime names a weekday slot for bulk expansion. DayOfWeek is
// ISO (1=Mon .. 5=Fri), Time is facility-local HH:MM.
type PreferredTime struct {
	DayOfWeek int
	Time      string
}

// BulkScheduleFailure records one candidate date that could not be
// placed.
type BulkScheduleFailure struct {
	Date       time.Time                `json:"date"`
	Reason     string                   `json:"reason"`
	Validation *domain.ValidationResult `json:"validation,omitempty"`
}

// BulkScheduleResult aggregates a bulk expansion.
type BulkScheduleResult struct {
	Requested int                   `json:"requested"`
	Scheduled int                   `json:"scheduled"`
	Failed    int                   `json:"failed"`
	Sessions  []domain.Session      `json:"sessions"`
	Failures  []BulkScheduleFailure `json:"failures,omitempty"`
}

// BulkScheduleSessions expands the pattern day by day and places each
// candidate individually. A failing candidate never aborts the batch,
// and no alternatives are generated for individual items.
func (s *SchedulingService) BulkScheduleSessions(ctx context.Context, req BulkScheduleRequest) (*BulkScheduleResult, error) {
	if req.SessionsPerWeek <= 0 || len(req.PreferredTimes) == 0 {
		return nil, errors.BadRequest("sessions per week and preferred times are required")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, errors.BadRequest("end date precedes start date")
	}

	result := &BulkScheduleResult{}
	weekOf := func(t time.Time) string {
		year, week := t.In(s.calendar.Location()).ISOWeek()
		return fmt.Sprintf("%d-%02d", year, week)
	}

	weeklyCount := map[string]int{}
	for day := req.StartDate; !day.After(req.EndDate); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.calendar.IsBusinessDay(day) {
			continue
		}
		week := weekOf(day)
		if weeklyCount[week] >= req.SessionsPerWeek {
			continue
		}

		weekday := domain.ISOWeekday(day.In(s.calendar.Location()).Weekday())
		start, ok := s.preferredStart(day, weekday, req.PreferredTimes)
		if !ok {
			continue
		}

		result.Requested++
		placement, err := s.ScheduleSession(ctx, ScheduleSessionRequest{
			ClientID:  req.ClientID,
			StartTime: start,
			Location:  req.Location,
		})
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, BulkScheduleFailure{
				Date: day, Reason: err.Error(),
			})
			continue
		}
		if !placement.Success {
			result.Failed++
			result.Failures = append(result.Failures, BulkScheduleFailure{
				Date: day, Reason: placement.Message, Validation: placement.Validation,
			})
			continue
		}
		result.Scheduled++
		result.Sessions = append(result.Sessions, *placement.Session)
		weeklyCount[week]++
	}

	return result, nil
}

// preferredStart resolves the first preferred entry matching the weekday
// into an absolute start instant.
func (s *SchedulingService) preferredStart(day time.Time, weekday int, preferred []PreferredTime) (time.Time, bool) {
	for _, p := range preferred {
		if p.DayOfWeek != weekday {
			continue
		}
		start, err := s.calendar.At(day, p.Time)
		if err != nil {
			continue
		}
		return start, true
	}
	return time.Time{}, false
}

// FindAlternativeTimeSlots suggests up to ten (RBT, time) placements
// near the preferred date, tiered by how far out they fall and ranked by
// continuity within each tier.
func (s *SchedulingService) FindAlternativeTimeSlots(ctx context.Context, clientID string, preferredDate time.Time, daysAhead int) ([]domain.AlternativeSlot, error) {
	if daysAhead <= 0 {
		daysAhead = defaultDaysAhead
	}

	sctx, err := s.loader.load(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var alternatives []domain.AlternativeSlot
	for offset := 0; offset <= daysAhead; offset++ {
		day := preferredDate.AddDate(0, 0, offset)
		if !s.calendar.IsBusinessDay(day) {
			continue
		}

		slots, err := s.engine.FindAvailableTimeSlots(ctx, day, sctx)
		if err != nil {
			return nil, err
		}

		tier := domain.TierPossible
		switch {
		case offset == 0:
			tier = domain.TierPreferred
		case offset <= tierAvailableLimit:
			tier = domain.TierAvailable
		}

		for _, rbtID := range engine.RBTIDsSorted(slots) {
			score := s.scorer.Score(rbtID, sctx.SessionHistory, sctx.Team)
			for _, slot := range slots[rbtID] {
				alternatives = append(alternatives, domain.AlternativeSlot{
					RBTID:           rbtID,
					StartTime:       slot.StartTime,
					EndTime:         slot.EndTime,
					ContinuityScore: score,
					Availability:    tier,
				})
			}
		}
	}

	sort.SliceStable(alternatives, func(i, j int) bool {
		ti, tj := tierRank(alternatives[i].Availability), tierRank(alternatives[j].Availability)
		if ti != tj {
			return ti < tj
		}
		if alternatives[i].ContinuityScore != alternatives[j].ContinuityScore {
			return alternatives[i].ContinuityScore > alternatives[j].ContinuityScore
		}
		if !alternatives[i].StartTime.Equal(alternatives[j].StartTime) {
			return alternatives[i].StartTime.Before(alternatives[j].StartTime)
		}
		return alternatives[i].RBTID < alternatives[j].RBTID
	})

	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}
	return alternatives, nil
}

func tierRank(t domain.AvailabilityTier) int {
	switch t {
	case domain.TierPreferred:
		return 0
	case domain.TierAvailable:
		return 1
	default:
		return 2
	}
}

// RescheduleSession moves a session to a new start time, keeping its
// RBT. The moved session itself is excluded from conflict checks, so a
// zero-distance move validates and records a no-op event.
func (s *SchedulingService) RescheduleSession(ctx context.Context, sessionID string, newStart time.Time, reason *string) (*RescheduleResult, error) {
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

	newEnd := newStart.Add(sctx.Constraints.SessionDuration)
	candidate := domain.CandidateSession{
		ClientID:  session.ClientID,
		RBTID:     session.RBTID,
		StartTime: newStart,
		EndTime:   newEnd,
		Location:  session.Location,
	}
	continuity := s.scorer.Score(session.RBTID, sctx.SessionHistory, sctx.Team)
	verdict := s.engine.Validate(candidate, sctx, continuity)
	if !verdict.Valid {
		return &RescheduleResult{
			Success:    false,
			Message:    "new time violates scheduling rules",
			Validation: &verdict,
		}, nil
	}

	old := *session
	session.StartTime = newStart
	session.EndTime = newEnd
	session.UpdatedBy = actorID(ctx)

	event := &domain.ScheduleEvent{
		EventType: domain.EventSessionRescheduled,
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		OldValues: sessionValues(&old),
		NewValues: sessionValues(session),
		Reason:    reason,
		CreatedBy: actorID(ctx),
	}
	if err := s.sessions.Update(ctx, session, event); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return &RescheduleResult{
				Success: false,
				Message: "the new time slot was taken by a concurrent placement",
				Validation: &domain.ValidationResult{
					Valid: false,
					Violations: []domain.Violation{{
						Type:        domain.ViolationRBTConflict,
						Description: "the slot is no longer free",
					}},
				},
			}, nil
		}
		return nil, err
	}

	s.cache.InvalidateReschedule(ctx, &old, session)
	s.cache.InvalidateTeamSlots(ctx, sctx.Team.ID)

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
			Reason:       derefOrEmpty(reason),
		},
		Timestamp: s.clk.Now(),
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Time("old_start", old.StartTime).
		Time("new_start", session.StartTime).
		Msg("session rescheduled")

	return &RescheduleResult{Success: true, Session: session, Validation: &verdict}, nil
}

// GetSession returns one session by id.
func (s *SchedulingService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.FindByID(ctx, id)
}

// ListClientSessions returns a client's sessions in a window.
func (s *SchedulingService) ListClientSessions(ctx context.Context, clientID string, from, to time.Time) ([]domain.Session, error) {
	return s.sessions.FindByClientID(ctx, clientID, from, to)
}

// ListRBTSessions returns an RBT's sessions in a window.
func (s *SchedulingService) ListRBTSessions(ctx context.Context, rbtID string, from, to time.Time) ([]domain.Session, error) {
	return s.sessions.FindByRBTID(ctx, rbtID, from, to)
}
