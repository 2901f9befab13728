package service

import (
	"context"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/actor"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/config"
)

// Session lookup windows around "now" when assembling a scheduling
// context. History feeds the continuity scorer and reaches further back.
const (
	contextPastDays   = 30
	contextFutureDays = 90
	historyDays       = 365
)

// contextLoader assembles the SchedulingContext every placement decision
// runs against: the client's active team, every team member's sessions
// in range, their availability declarations and the client's history.
type contextLoader struct {
	sessions     SessionStore
	teams        TeamStore
	availability AvailabilityStore
	clk          clock.Clock
	constraints  domain.SchedulingConstraints
}

func (l *contextLoader) load(ctx context.Context, clientID string) (*domain.SchedulingContext, error) {
	team, err := l.teams.FindActiveByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := l.clk.Now()
	from := now.AddDate(0, 0, -contextPastDays)
	to := now.AddDate(0, 0, contextFutureDays)

	seen := make(map[string]bool)
	var existing []domain.Session
	collect := func(sessions []domain.Session) {
		for _, s := range sessions {
			if !seen[s.ID] {
				seen[s.ID] = true
				existing = append(existing, s)
			}
		}
	}

	clientSessions, err := l.sessions.FindByClientID(ctx, clientID, from, to)
	if err != nil {
		return nil, err
	}
	collect(clientSessions)

	for _, rbtID := range team.RBTIDs {
		rbtSessions, err := l.sessions.FindByRBTID(ctx, rbtID, from, to)
		if err != nil {
			return nil, err
		}
		collect(rbtSessions)
	}

	slots, err := l.availability.FindByRBTIDs(ctx, team.RBTIDs)
	if err != nil {
		return nil, err
	}

	history, err := l.sessions.FindByClientID(ctx, clientID, now.AddDate(0, 0, -historyDays), now)
	if err != nil {
		return nil, err
	}

	return &domain.SchedulingContext{
		ClientID:         clientID,
		Team:             team,
		ExistingSessions: existing,
		Availability:     slots,
		SessionHistory:   history,
		Constraints:      l.constraints,
	}, nil
}

// constraintsFrom maps the configured policy knobs onto engine
// constraints. Valid days stay Mon-Fri; the calendar carries holidays.
func constraintsFrom(cfg config.SchedulingConfig) domain.SchedulingConstraints {
	cons := domain.DefaultConstraints()
	if cfg.SessionDuration > 0 {
		cons.SessionDuration = cfg.SessionDuration
	}
	if cfg.BusinessHoursStart != "" {
		cons.BusinessHoursStart = cfg.BusinessHoursStart
	}
	if cfg.BusinessHoursEnd != "" {
		cons.BusinessHoursEnd = cfg.BusinessHoursEnd
	}
	if cfg.MaxSessionsPerDay > 0 {
		cons.MaxSessionsPerDay = cfg.MaxSessionsPerDay
	}
	if cfg.MinBreakBetween > 0 {
		cons.MinBreakBetween = cfg.MinBreakBetween
	}
	return cons
}

// actorFrom resolves the acting user, falling back to the system actor
// for unattended operations.
func actorFrom(ctx context.Context) *actor.Actor {
	if a := actor.FromContext(ctx); a != nil {
		return a
	}
	return actor.SystemActor()
}

func actorID(ctx context.Context) *string {
	a := actorFrom(ctx)
	return &a.ID
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sessionValues renders the audit payload for a session's state.
func sessionValues(s *domain.Session) domain.JSONMap {
	values := domain.JSONMap{
		"rbt_id":     s.RBTID,
		"start_time": s.StartTime.Format(time.RFC3339),
		"end_time":   s.EndTime.Format(time.RFC3339),
		"status":     string(s.Status),
	}
	if s.Location != "" {
		values["location"] = s.Location
	}
	return values
}
