package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

const sessionColumns = `
	id, client_id, rbt_id, start_time, end_time, status, location,
	notes, cancellation_reason, completion_notes,
	created_by, updated_by, created_at, updated_at`

// SessionRepository handles session persistence. The sessions table
// carries exclusion constraints (rbt_no_overlap, client_no_overlap) over
// non-cancelled rows, so concurrent placements for the same slot cannot
// both commit; the loser surfaces as a Conflict.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindByID gets a session by ID
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	err := r.db.GetContext(ctx, &s, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session")
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return &s, nil
}

// FindByClientID lists a client's sessions within a time range, oldest first.
func (r *SessionRepository) FindByClientID(ctx context.Context, clientID string, from, to time.Time) ([]domain.Session, error) {
	var sessions []domain.Session

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE client_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`
	if err := r.db.SelectContext(ctx, &sessions, query, clientID, from, to); err != nil {
		return nil, mapDBError(err)
	}

	return sessions, nil
}

// FindByRBTID lists an RBT's sessions within a time range, oldest first.
func (r *SessionRepository) FindByRBTID(ctx context.Context, rbtID string, from, to time.Time) ([]domain.Session, error) {
	var sessions []domain.Session

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE rbt_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`
	if err := r.db.SelectContext(ctx, &sessions, query, rbtID, from, to); err != nil {
		return nil, mapDBError(err)
	}

	return sessions, nil
}

// FindActiveByDateRange lists every non-terminal session starting within
// the range.
func (r *SessionRepository) FindActiveByDateRange(ctx context.Context, from, to time.Time) ([]domain.Session, error) {
	var sessions []domain.Session

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE start_time >= $1 AND start_time < $2
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY start_time`
	if err := r.db.SelectContext(ctx, &sessions, query, from, to); err != nil {
		return nil, mapDBError(err)
	}

	return sessions, nil
}

// CheckConflicts returns every non-cancelled session for the client or
// the RBT overlapping [start, end). Cancelled and no-show sessions free
// their slot. excludeSessionID removes the session being moved.
func (r *SessionRepository) CheckConflicts(ctx context.Context, clientID, rbtID string, start, end time.Time, excludeSessionID *string) ([]domain.Session, error) {
	var sessions []domain.Session

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE (client_id = $1 OR rbt_id = $2)
		  AND status NOT IN ('cancelled', 'no_show')
		  AND start_time < $4 AND end_time > $3
		  AND ($5::uuid IS NULL OR id != $5)
		ORDER BY start_time`
	if err := r.db.SelectContext(ctx, &sessions, query, clientID, rbtID, start, end, excludeSessionID); err != nil {
		return nil, mapDBError(err)
	}

	return sessions, nil
}

// Create persists a new session and appends its audit event in one
// transaction.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = domain.SessionScheduled
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO sessions (
				id, client_id, rbt_id, start_time, end_time, status,
				location, notes, created_by, updated_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`
		if err := tx.QueryRowxContext(ctx, query,
			s.ID, s.ClientID, s.RBTID, s.StartTime, s.EndTime, s.Status,
			s.Location, s.Notes, s.CreatedBy, s.UpdatedBy,
		).Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return err
		}

		return insertScheduleEvent(ctx, tx, event)
	})
	if err != nil {
		return mapDBError(err)
	}

	return nil
}

// Update rewrites the mutable session fields and appends the audit event
// in one transaction. Event may be nil for internal corrections.
func (r *SessionRepository) Update(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE sessions SET
				rbt_id = $2, start_time = $3, end_time = $4, status = $5,
				location = $6, notes = $7, cancellation_reason = $8,
				completion_notes = $9, updated_by = $10, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`
		if err := tx.QueryRowxContext(ctx, query,
			s.ID, s.RBTID, s.StartTime, s.EndTime, s.Status,
			s.Location, s.Notes, s.CancellationReason,
			s.CompletionNotes, s.UpdatedBy,
		).Scan(&s.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("session")
			}
			return err
		}

		if event != nil {
			return insertScheduleEvent(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return mapDBError(err)
	}

	return nil
}

// mapDBError translates driver errors into the application taxonomy,
// passing AppErrors through untouched.
func mapDBError(err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}
	if mapped := database.MapContextError(err); mapped != nil {
		return mapped
	}
	return err
}
