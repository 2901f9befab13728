// Package service implements the scheduling operations: placement,
// bulk placement, rescheduling, cancellation, RBT unavailability
// processing, rescheduling optimization and team management. Services
// depend on the persistence ports below so tests can substitute
// in-memory fakes.
package service

import (
	"context"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// SessionStore is the session persistence port.
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindByClientID(ctx context.Context, clientID string, from, to time.Time) ([]domain.Session, error)
	FindByRBTID(ctx context.Context, rbtID string, from, to time.Time) ([]domain.Session, error)
	FindActiveByDateRange(ctx context.Context, from, to time.Time) ([]domain.Session, error)
	CheckConflicts(ctx context.Context, clientID, rbtID string, start, end time.Time, excludeSessionID *string) ([]domain.Session, error)
	Create(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error
	Update(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error
}

// TeamStore is the team persistence port.
type TeamStore interface {
	FindByID(ctx context.Context, id string) (*domain.Team, error)
	FindActiveByClientID(ctx context.Context, clientID string) (*domain.Team, error)
	FindActiveByRBTID(ctx context.Context, rbtID string) ([]domain.Team, error)
	Create(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error
	UpdateRoster(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error
	End(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error
}

// RBTStore is the RBT profile port.
type RBTStore interface {
	FindByID(ctx context.Context, id string) (*domain.RBT, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.RBT, error)
	FindActive(ctx context.Context) ([]domain.RBT, error)
	FindAvailableForTimeSlot(ctx context.Context, start, end time.Time, timezone string, excludeIDs []string) ([]domain.RBT, error)
}

// ClientStore is the client profile port.
type ClientStore interface {
	FindByID(ctx context.Context, id string) (*domain.Client, error)
}

// AvailabilityStore is the recurring availability port.
type AvailabilityStore interface {
	FindByRBTID(ctx context.Context, rbtID string) ([]domain.AvailabilitySlot, error)
	FindByRBTIDs(ctx context.Context, rbtIDs []string) ([]domain.AvailabilitySlot, error)
}

// EventStore is the append-only audit log port. Entity mutators append
// their events transactionally through the entity stores; this port
// covers standalone events and reads.
type EventStore interface {
	Append(ctx context.Context, event *domain.ScheduleEvent) error
	Query(ctx context.Context, filter domain.EventFilter) ([]domain.ScheduleEvent, error)
}

// Broadcaster fans schedule updates out to real-time subscribers.
// Broadcast failures are logged by implementations and never fail the
// parent operation.
type Broadcaster interface {
	Broadcast(ctx context.Context, routingKey string, update messaging.ScheduleUpdate)
}

// ScheduleCache is the availability cache port. Every method is
// best-effort; implementations log failures and degrade to misses.
type ScheduleCache interface {
	GetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time) ([]string, bool)
	SetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time, rbtIDs []string)
	InvalidateSession(ctx context.Context, s *domain.Session)
	InvalidateReschedule(ctx context.Context, old, updated *domain.Session)
	InvalidateRBT(ctx context.Context, rbtID string)
	InvalidateClient(ctx context.Context, clientID string)
	InvalidateTeamSlots(ctx context.Context, teamID string)
}
