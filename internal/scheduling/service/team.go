package service

import (
	"context"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// AssignTeamRequest creates a client's care team.
type AssignTeamRequest struct {
	ClientID               string
	RBTIDs                 []string
	PrimaryRBTID           string
	EffectiveDate          time.Time
	RequiredQualifications []string
}

// AssignTeamResult carries the created team plus per-RBT qualification
// checks. Missing qualifications are warnings, never failures.
type AssignTeamResult struct {
	Team                *domain.Team               `json:"team"`
	QualificationChecks []domain.QualificationCheck `json:"qualification_checks"`
}

// TeamService owns team membership and the primary-RBT role.
type TeamService struct {
	teams   TeamStore
	rbts    RBTStore
	clients ClientStore
	cache   ScheduleCache
	events  Broadcaster
	clk     clock.Clock
	logger  *logger.Logger
}

// NewTeamService creates a new team service.
func NewTeamService(
	teams TeamStore,
	rbts RBTStore,
	clients ClientStore,
	cache ScheduleCache,
	events Broadcaster,
	clk clock.Clock,
	log *logger.Logger,
) *TeamService {
	return &TeamService{
		teams:   teams,
		rbts:    rbts,
		clients: clients,
		cache:   cache,
		events:  events,
		clk:     clk,
		logger:  log.WithComponent("team-service"),
	}
}

// AssignTeam creates the client's active team. Fails if the client is
// inactive or already has an active team, if any listed RBT is inactive,
// or if the primary is not on the roster.
func (s *TeamService) AssignTeam(ctx context.Context, req AssignTeamRequest) (*AssignTeamResult, error) {
	if len(req.RBTIDs) == 0 {
		return nil, errors.BadRequest("team needs at least one RBT")
	}

	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.Enrolled(req.EffectiveDate) {
		return nil, errors.Conflict("client is not actively enrolled")
	}

	if existing, err := s.teams.FindActiveByClientID(ctx, req.ClientID); err == nil && existing != nil {
		return nil, errors.Conflict("client already has an active team")
	} else if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	roster := map[string]bool{}
	for _, id := range req.RBTIDs {
		if roster[id] {
			return nil, errors.BadRequest("duplicate RBT in team roster")
		}
		roster[id] = true
	}
	if !roster[req.PrimaryRBTID] {
		return nil, errors.BadRequest("primary RBT must be a team member")
	}

	rbts, err := s.rbts.FindByIDs(ctx, req.RBTIDs)
	if err != nil {
		return nil, err
	}
	if len(rbts) != len(req.RBTIDs) {
		return nil, errors.NotFound("one or more RBTs")
	}

	checks := make([]domain.QualificationCheck, 0, len(rbts))
	for i := range rbts {
		rbt := &rbts[i]
		if !rbt.Employed(req.EffectiveDate) {
			return nil, errors.Conflict("RBT " + rbt.ID + " is not actively employed")
		}
		missing := rbt.MissingQualifications(req.RequiredQualifications)
		checks = append(checks, domain.QualificationCheck{
			RBTID:                 rbt.ID,
			Qualified:             len(missing) == 0,
			MissingQualifications: missing,
		})
		if len(missing) > 0 {
			s.logger.Warn().
				Str("rbt_id", rbt.ID).
				Strs("missing_qualifications", missing).
				Msg("team member missing qualifications")
		}
	}

	team := &domain.Team{
		ClientID:      req.ClientID,
		RBTIDs:        req.RBTIDs,
		PrimaryRBTID:  req.PrimaryRBTID,
		EffectiveDate: req.EffectiveDate,
		CreatedBy:     actorID(ctx),
	}
	event := &domain.ScheduleEvent{
		EventType: domain.EventTeamCreated,
		ClientID:  &team.ClientID,
		NewValues: teamValues(team),
		CreatedBy: actorID(ctx),
	}
	if err := s.teams.Create(ctx, team, event); err != nil {
		return nil, err
	}
	event.TeamID = &team.ID

	s.cache.InvalidateClient(ctx, team.ClientID)
	s.cache.InvalidateTeamSlots(ctx, team.ID)

	s.broadcastTeam(ctx, messaging.EventTeamCreated, "team_created", team)

	s.logger.Info().
		Str("team_id", team.ID).
		Str("client_id", team.ClientID).
		Int("members", len(team.RBTIDs)).
		Msg("team assigned")

	return &AssignTeamResult{Team: team, QualificationChecks: checks}, nil
}

// AddRBT adds a member to the roster. Duplicates are rejected.
func (s *TeamService) AddRBT(ctx context.Context, teamID, rbtID string) (*domain.Team, error) {
	team, err := s.activeTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.HasMember(rbtID) {
		return nil, errors.Conflict("RBT is already on the team")
	}

	rbt, err := s.rbts.FindByID(ctx, rbtID)
	if err != nil {
		return nil, err
	}
	if !rbt.Employed(s.clk.Now()) {
		return nil, errors.Conflict("RBT is not actively employed")
	}

	old := teamValues(team)
	team.RBTIDs = append(team.RBTIDs, rbtID)

	if err := s.mutateRoster(ctx, team, domain.EventRBTAdded, old, nil); err != nil {
		return nil, err
	}
	return team, nil
}

// RemoveRBT removes a member. Removing the primary is rejected; change
// the primary first.
func (s *TeamService) RemoveRBT(ctx context.Context, teamID, rbtID string) (*domain.Team, error) {
	team, err := s.activeTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.HasMember(rbtID) {
		return nil, errors.NotFound("team member")
	}
	if team.PrimaryRBTID == rbtID {
		return nil, errors.Conflict("cannot remove the primary RBT; change the primary first")
	}

	old := teamValues(team)
	team.RBTIDs = team.MembersExcept(rbtID)

	if err := s.mutateRoster(ctx, team, domain.EventRBTRemoved, old, nil); err != nil {
		return nil, err
	}
	s.cache.InvalidateRBT(ctx, rbtID)
	return team, nil
}

// ChangePrimaryRBT designates a new primary, who must already be a
// member.
func (s *TeamService) ChangePrimaryRBT(ctx context.Context, teamID, rbtID string, reason *string) (*domain.Team, error) {
	team, err := s.activeTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.HasMember(rbtID) {
		return nil, errors.BadRequest("new primary must already be a team member")
	}
	if team.PrimaryRBTID == rbtID {
		return team, nil
	}

	old := teamValues(team)
	team.PrimaryRBTID = rbtID

	if err := s.mutateRoster(ctx, team, domain.EventPrimaryChanged, old, reason); err != nil {
		return nil, err
	}
	return team, nil
}

// EndTeam deactivates the team. Ending an already ended team is a no-op.
func (s *TeamService) EndTeam(ctx context.Context, teamID string, endDate time.Time) (*domain.Team, error) {
	team, err := s.teams.FindByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.IsActive {
		return team, nil
	}

	old := teamValues(team)
	team.IsActive = false
	team.EndDate = &endDate

	event := &domain.ScheduleEvent{
		EventType: domain.EventTeamEnded,
		TeamID:    &team.ID,
		ClientID:  &team.ClientID,
		OldValues: old,
		NewValues: teamValues(team),
		CreatedBy: actorID(ctx),
	}
	if err := s.teams.End(ctx, team, event); err != nil {
		return nil, err
	}

	s.cache.InvalidateClient(ctx, team.ClientID)
	s.cache.InvalidateTeamSlots(ctx, team.ID)
	s.broadcastTeam(ctx, messaging.EventTeamEnded, "team_ended", team)

	s.logger.Info().Str("team_id", team.ID).Msg("team ended")
	return team, nil
}

// GetTeam returns a team by id.
func (s *TeamService) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	return s.teams.FindByID(ctx, id)
}

// GetActiveTeamForClient returns the client's active team.
func (s *TeamService) GetActiveTeamForClient(ctx context.Context, clientID string) (*domain.Team, error) {
	return s.teams.FindActiveByClientID(ctx, clientID)
}

func (s *TeamService) activeTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.teams.FindByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.IsActive {
		return nil, errors.Conflict("team is no longer active")
	}
	return team, nil
}

func (s *TeamService) mutateRoster(ctx context.Context, team *domain.Team, eventType domain.EventType, old domain.JSONMap, reason *string) error {
	event := &domain.ScheduleEvent{
		EventType: eventType,
		TeamID:    &team.ID,
		ClientID:  &team.ClientID,
		OldValues: old,
		NewValues: teamValues(team),
		Reason:    reason,
		CreatedBy: actorID(ctx),
	}
	if err := s.teams.UpdateRoster(ctx, team, event); err != nil {
		return err
	}

	s.cache.InvalidateClient(ctx, team.ClientID)
	s.cache.InvalidateTeamSlots(ctx, team.ID)

	routingKey := messaging.EventTeamUpdated
	updateType := "team_updated"
	if eventType == domain.EventPrimaryChanged {
		routingKey = messaging.EventTeamPrimaryChanged
		updateType = "primary_changed"
	}
	s.broadcastTeam(ctx, routingKey, updateType, team)

	s.logger.Info().
		Str("team_id", team.ID).
		Str("event_type", string(eventType)).
		Msg("team updated")
	return nil
}

func (s *TeamService) broadcastTeam(ctx context.Context, routingKey, updateType string, team *domain.Team) {
	s.events.Broadcast(ctx, routingKey, messaging.ScheduleUpdate{
		Type:     updateType,
		ClientID: &team.ClientID,
		Data: messaging.TeamChangedEvent{
			TeamID:       team.ID,
			ClientID:     team.ClientID,
			PrimaryRBTID: team.PrimaryRBTID,
			RBTIDs:       team.RBTIDs,
			Fields:       map[string]any{"is_active": team.IsActive},
		},
		Timestamp: s.clk.Now(),
	})
}

func teamValues(t *domain.Team) domain.JSONMap {
	values := domain.JSONMap{
		"rbt_ids":        append([]string(nil), t.RBTIDs...),
		"primary_rbt_id": t.PrimaryRBTID,
		"is_active":      t.IsActive,
	}
	if t.EndDate != nil {
		values["end_date"] = t.EndDate.Format(time.RFC3339)
	}
	return values
}
