package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
)

const eventColumns = `
	id, event_type, session_id, rbt_id, client_id, team_id,
	old_values, new_values, reason, metadata, created_by, created_at`

// EventLogRepository reads the append-only audit log. Writes happen
// through insertScheduleEvent inside the owning entity's transaction;
// the log exposes no update or delete path.
type EventLogRepository struct {
	db *database.DB
}

// NewEventLogRepository creates a new event log repository
func NewEventLogRepository(db *database.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

// Append writes one standalone event, for actions with no entity row of
// their own (RBT unavailability declarations). A reused event ID hits
// the primary key and surfaces as a Conflict.
func (r *EventLogRepository) Append(ctx context.Context, event *domain.ScheduleEvent) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return insertScheduleEvent(ctx, tx, event)
	})
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// Query lists events matching the filter, newest first.
func (r *EventLogRepository) Query(ctx context.Context, filter domain.EventFilter) ([]domain.ScheduleEvent, error) {
	var (
		conds []string
		args  []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		conds = append(conds, "event_type = ANY("+arg(pq.Array(types))+")")
	}
	if filter.SessionID != nil {
		conds = append(conds, "session_id = "+arg(*filter.SessionID))
	}
	if filter.RBTID != nil {
		conds = append(conds, "rbt_id = "+arg(*filter.RBTID))
	}
	if filter.ClientID != nil {
		conds = append(conds, "client_id = "+arg(*filter.ClientID))
	}
	if filter.TeamID != nil {
		conds = append(conds, "team_id = "+arg(*filter.TeamID))
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at < "+arg(*filter.To))
	}

	query := `SELECT ` + eventColumns + ` FROM schedule_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	var events []domain.ScheduleEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, mapDBError(err)
	}
	return events, nil
}

// insertScheduleEvent appends one audit event within the caller's
// transaction, so entity writes and their log entries commit together.
func insertScheduleEvent(ctx context.Context, tx *sqlx.Tx, event *domain.ScheduleEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO schedule_events (
			id, event_type, session_id, rbt_id, client_id, team_id,
			old_values, new_values, reason, metadata, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	return tx.QueryRowxContext(ctx, query,
		event.ID, event.EventType, event.SessionID, event.RBTID,
		event.ClientID, event.TeamID, event.OldValues, event.NewValues,
		event.Reason, event.Metadata, event.CreatedBy,
	).Scan(&event.CreatedAt)
}
