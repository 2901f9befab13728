package consumers

import (
	"context"

	schedcache "github.com/brightsteps/scheduling-backend/internal/scheduling/cache"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/repository"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// UserEventConsumer keeps the local users table in sync with the
// identity service. Scheduling queries join users for RBT and client
// records, so replication lag here shows up as missing profiles.
type UserEventConsumer struct {
	consumer *messaging.Consumer
	users    *repository.UserRepository
	cache    *schedcache.AvailabilityCache
	logger   *logger.Logger
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(
	rmq *messaging.RabbitMQ,
	users *repository.UserRepository,
	cache *schedcache.AvailabilityCache,
	log *logger.Logger,
) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "scheduling-service.user-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := &UserEventConsumer{
		consumer: consumer,
		users:    users,
		cache:    cache,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserUpsert)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpsert)
	consumer.RegisterHandler(messaging.EventUserDeactivated, c.handleUserDeactivated)

	return c, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *UserEventConsumer) handleUserUpsert(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpsertEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("event_type", event.Type).
		Msg("replicating user record")

	err := c.users.Upsert(ctx, &domain.User{
		ID:        data.UserID,
		Email:     data.Email,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Phone:     data.Phone,
		Role:      domain.Role(data.Role),
		IsActive:  data.IsActive,
	})
	if err != nil {
		return err
	}

	// An RBT toggled inactive mid-update stops matching cached
	// availability lookups.
	if domain.Role(data.Role) == domain.RoleRBT && !data.IsActive {
		c.cache.InvalidateRBT(ctx, data.UserID)
	}

	return nil
}

func (c *UserEventConsumer) handleUserDeactivated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeactivatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user deactivated event")

	if err := c.users.Deactivate(ctx, data.UserID); err != nil {
		return err
	}

	c.cache.InvalidateRBT(ctx, data.UserID)
	return nil
}
