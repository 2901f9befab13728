// Package events adapts the scheduling services' broadcast port onto
// the RabbitMQ schedule exchange. Delivery is best-effort: failures are
// logged and never fail the mutation that triggered them.
package events

import (
	"context"

	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// SchedulePublisher fans schedule updates out on the schedule.events
// topic exchange, routed by event type so subscribers can bind per
// client, RBT, or globally.
type SchedulePublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewSchedulePublisher creates a new schedule event publisher
func NewSchedulePublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*SchedulePublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeScheduleEvents, "scheduling-service", log)
	if err != nil {
		return nil, err
	}

	return &SchedulePublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// Broadcast publishes one schedule update on the given routing key.
func (p *SchedulePublisher) Broadcast(ctx context.Context, routingKey string, update messaging.ScheduleUpdate) {
	if err := p.publisher.Publish(ctx, routingKey, update); err != nil {
		p.logger.Error().
			Err(err).
			Str("routing_key", routingKey).
			Str("update_type", update.Type).
			Msg("failed to publish schedule update")
	}
}
