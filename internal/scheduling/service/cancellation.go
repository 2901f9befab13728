package service

import (
	"context"
	"sort"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/engine"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// RescheduleOpportunity is a client who could take over a freed
// (RBT, time) slot after a cancellation.
type RescheduleOpportunity struct {
	ClientID        string  `json:"client_id"`
	TeamID          string  `json:"team_id"`
	ContinuityScore float64 `json:"continuity_score"`
}

// CancelResult is the outcome of one cancellation.
type CancelResult struct {
	Success       bool                    `json:"success"`
	Session       *domain.Session         `json:"session,omitempty"`
	Opportunities []RescheduleOpportunity `json:"opportunities,omitempty"`
}

// BulkCancelItem is one entry of a bulk cancellation outcome.
type BulkCancelItem struct {
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BulkCancelResult aggregates a bulk cancellation.
type BulkCancelResult struct {
	Cancelled int              `json:"cancelled"`
	Failed    int              `json:"failed"`
	Items     []BulkCancelItem `json:"items"`
}

// CancellationStats summarizes cancellations over a window.
type CancellationStats struct {
	Total              int            `json:"total"`
	ByReason           map[string]int `json:"by_reason"`
	ByRBT              map[string]int `json:"by_rbt"`
	AverageNoticeHours float64        `json:"average_notice_hours"`
}

// CancellationService cancels sessions and finds clients who can use the
// freed slots.
type CancellationService struct {
	sessions SessionStore
	teams    TeamStore
	eventLog EventStore
	scorer   *engine.ContinuityScorer
	cache    ScheduleCache
	events   Broadcaster
	clk      clock.Clock
	logger   *logger.Logger
}

// NewCancellationService creates a new cancellation service.
func NewCancellationService(
	sessions SessionStore,
	teams TeamStore,
	eventLog EventStore,
	scorer *engine.ContinuityScorer,
	cache ScheduleCache,
	events Broadcaster,
	clk clock.Clock,
	log *logger.Logger,
) *CancellationService {
	return &CancellationService{
		sessions: sessions,
		teams:    teams,
		eventLog: eventLog,
		scorer:   scorer,
		cache:    cache,
		events:   events,
		clk:      clk,
		logger:   log.WithComponent("cancellation-service"),
	}
}

// CancelSession cancels one session. With findAlternatives set it also
// searches for other clients of the same RBT who could take the freed
// slot, ranked by continuity.
func (s *CancellationService) CancelSession(ctx context.Context, sessionID, reason string, findAlternatives bool, maxAlternatives int) (*CancelResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionCancelled {
		return nil, errors.Conflict("session is already cancelled")
	}
	if session.Status == domain.SessionCompleted {
		return nil, errors.Conflict("completed sessions cannot be cancelled")
	}

	old := *session
	session.Status = domain.SessionCancelled
	session.CancellationReason = &reason
	session.UpdatedBy = actorID(ctx)

	event := &domain.ScheduleEvent{
		EventType: domain.EventSessionCancelled,
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		OldValues: sessionValues(&old),
		NewValues: sessionValues(session),
		Reason:    &reason,
		CreatedBy: actorID(ctx),
	}
	if err := s.sessions.Update(ctx, session, event); err != nil {
		return nil, err
	}

	s.cache.InvalidateSession(ctx, session)
	// The freed slot changes which RBTs are available to the client's
	// team, so the cached available-RBT sets must go too.
	if team, err := s.teams.FindActiveByClientID(ctx, session.ClientID); err == nil {
		s.cache.InvalidateTeamSlots(ctx, team.ID)
	}

	s.events.Broadcast(ctx, messaging.EventSessionCancelled, messaging.ScheduleUpdate{
		Type:      "session_cancelled",
		SessionID: &session.ID,
		ClientID:  &session.ClientID,
		RBTID:     &session.RBTID,
		Data: messaging.SessionCancelledEvent{
			SessionID: session.ID,
			ClientID:  session.ClientID,
			RBTID:     session.RBTID,
			StartTime: session.StartTime,
			Reason:    reason,
		},
		Timestamp: s.clk.Now(),
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Str("reason", reason).
		Msg("session cancelled")

	result := &CancelResult{Success: true, Session: session}
	if findAlternatives {
		result.Opportunities, err = s.findOpportunities(ctx, session, maxAlternatives)
		if err != nil {
			// The cancellation already committed; a failed search only
			// costs the suggestions.
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("opportunity search failed")
		}
	}
	return result, nil
}

// findOpportunities looks for other clients whose active team includes
// the freed RBT and who have no session overlapping the freed window.
func (s *CancellationService) findOpportunities(ctx context.Context, cancelled *domain.Session, limit int) ([]RescheduleOpportunity, error) {
	if limit <= 0 {
		limit = 3
	}

	teams, err := s.teams.FindActiveByRBTID(ctx, cancelled.RBTID)
	if err != nil {
		return nil, err
	}

	var opportunities []RescheduleOpportunity
	for _, team := range teams {
		if team.ClientID == cancelled.ClientID {
			continue
		}

		conflicts, err := s.sessions.CheckConflicts(ctx, team.ClientID, cancelled.RBTID,
			cancelled.StartTime, cancelled.EndTime, &cancelled.ID)
		if err != nil {
			return nil, err
		}
		busy := false
		for _, c := range conflicts {
			if c.ClientID == team.ClientID {
				busy = true
				break
			}
		}
		if busy {
			continue
		}

		history, err := s.sessions.FindByClientID(ctx, team.ClientID,
			s.clk.Now().AddDate(0, 0, -historyDays), s.clk.Now())
		if err != nil {
			return nil, err
		}
		t := team
		opportunities = append(opportunities, RescheduleOpportunity{
			ClientID:        team.ClientID,
			TeamID:          team.ID,
			ContinuityScore: s.scorer.Score(cancelled.RBTID, history, &t),
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].ContinuityScore != opportunities[j].ContinuityScore {
			return opportunities[i].ContinuityScore > opportunities[j].ContinuityScore
		}
		return opportunities[i].ClientID < opportunities[j].ClientID
	})
	if len(opportunities) > limit {
		opportunities = opportunities[:limit]
	}
	return opportunities, nil
}

// BulkCancelSessions cancels a list of sessions, reporting each outcome
// independently. One failure never aborts the batch.
func (s *CancellationService) BulkCancelSessions(ctx context.Context, sessionIDs []string, reason string) (*BulkCancelResult, error) {
	result := &BulkCancelResult{}
	for _, id := range sessionIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.CancelSession(ctx, id, reason, false, 0); err != nil {
			result.Failed++
			result.Items = append(result.Items, BulkCancelItem{SessionID: id, Error: err.Error()})
			continue
		}
		result.Cancelled++
		result.Items = append(result.Items, BulkCancelItem{SessionID: id, Success: true})
	}
	return result, nil
}

// Stats summarizes cancellation events in a window: counts by reason and
// RBT, and the average notice between cancellation and the session's
// original start.
func (s *CancellationService) Stats(ctx context.Context, from, to time.Time) (*CancellationStats, error) {
	events, err := s.eventLog.Query(ctx, domain.EventFilter{
		EventTypes: []domain.EventType{domain.EventSessionCancelled},
		From:       &from,
		To:         &to,
	})
	if err != nil {
		return nil, err
	}

	stats := &CancellationStats{
		ByReason: map[string]int{},
		ByRBT:    map[string]int{},
	}
	var noticeHours float64
	var noticed int
	for _, e := range events {
		stats.Total++
		if e.Reason != nil {
			stats.ByReason[*e.Reason]++
		}
		if e.RBTID != nil {
			stats.ByRBT[*e.RBTID]++
		}
		if raw, ok := e.OldValues["start_time"].(string); ok {
			if start, err := time.Parse(time.RFC3339, raw); err == nil {
				noticeHours += start.Sub(e.CreatedAt).Hours()
				noticed++
			}
		}
	}
	if noticed > 0 {
		stats.AverageNoticeHours = noticeHours / float64(noticed)
	}
	return stats, nil
}
