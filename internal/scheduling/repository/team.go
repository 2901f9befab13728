package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

const teamColumns = `
	id, client_id, rbt_ids, primary_rbt_id, effective_date, end_date,
	is_active, created_by, created_at, updated_at`

type teamRow struct {
	ID            string         `db:"id"`
	ClientID      string         `db:"client_id"`
	RBTIDs        pq.StringArray `db:"rbt_ids"`
	PrimaryRBTID  string         `db:"primary_rbt_id"`
	EffectiveDate sql.NullTime   `db:"effective_date"`
	EndDate       sql.NullTime   `db:"end_date"`
	IsActive      bool           `db:"is_active"`
	CreatedBy     sql.NullString `db:"created_by"`
	CreatedAt     sql.NullTime   `db:"created_at"`
	UpdatedAt     sql.NullTime   `db:"updated_at"`
}

func (row *teamRow) toDomain() *domain.Team {
	t := &domain.Team{
		ID:           row.ID,
		ClientID:     row.ClientID,
		RBTIDs:       []string(row.RBTIDs),
		PrimaryRBTID: row.PrimaryRBTID,
		IsActive:     row.IsActive,
	}
	if row.EffectiveDate.Valid {
		t.EffectiveDate = row.EffectiveDate.Time
	}
	if row.EndDate.Valid {
		t.EndDate = &row.EndDate.Time
	}
	if row.CreatedBy.Valid {
		t.CreatedBy = &row.CreatedBy.String
	}
	if row.CreatedAt.Valid {
		t.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		t.UpdatedAt = row.UpdatedAt.Time
	}
	return t
}

// TeamRepository handles team persistence. The teams table has a partial
// unique index (active_team_per_client) on client_id where is_active, so
// two active teams for one client cannot coexist.
type TeamRepository struct {
	db *database.DB
}

// NewTeamRepository creates a new team repository
func NewTeamRepository(db *database.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// FindByID gets a team by ID
func (r *TeamRepository) FindByID(ctx context.Context, id string) (*domain.Team, error) {
	var row teamRow

	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("team")
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return row.toDomain(), nil
}

// FindActiveByClientID gets the client's active team, or NotFound when
// no team has been assigned.
func (r *TeamRepository) FindActiveByClientID(ctx context.Context, clientID string) (*domain.Team, error) {
	var row teamRow

	query := `SELECT ` + teamColumns + ` FROM teams WHERE client_id = $1 AND is_active = true`
	err := r.db.GetContext(ctx, &row, query, clientID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("active team for client")
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return row.toDomain(), nil
}

// FindActiveByRBTID lists every active team carrying the RBT on its roster.
func (r *TeamRepository) FindActiveByRBTID(ctx context.Context, rbtID string) ([]domain.Team, error) {
	var rows []teamRow

	query := `
		SELECT ` + teamColumns + `
		FROM teams
		WHERE is_active = true AND $1 = ANY(rbt_ids)
		ORDER BY client_id`
	if err := r.db.SelectContext(ctx, &rows, query, rbtID); err != nil {
		return nil, mapDBError(err)
	}

	teams := make([]domain.Team, 0, len(rows))
	for i := range rows {
		teams = append(teams, *rows[i].toDomain())
	}
	return teams, nil
}

// Create persists a new team and appends its audit event in one
// transaction.
func (r *TeamRepository) Create(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.IsActive = true

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO teams (
				id, client_id, rbt_ids, primary_rbt_id, effective_date,
				is_active, created_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at`
		if err := tx.QueryRowxContext(ctx, query,
			t.ID, t.ClientID, pq.Array(t.RBTIDs), t.PrimaryRBTID,
			t.EffectiveDate, t.IsActive, t.CreatedBy,
		).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}

		return insertScheduleEvent(ctx, tx, event)
	})
	if err != nil {
		return mapDBError(err)
	}

	return nil
}

// UpdateRoster rewrites the roster and primary, appending the audit
// event in the same transaction. Used by member add/remove and primary
// changes.
func (r *TeamRepository) UpdateRoster(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE teams SET
				rbt_ids = $2, primary_rbt_id = $3, updated_at = now()
			WHERE id = $1 AND is_active = true
			RETURNING updated_at`
		if err := tx.QueryRowxContext(ctx, query,
			t.ID, pq.Array(t.RBTIDs), t.PrimaryRBTID,
		).Scan(&t.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("active team")
			}
			return err
		}

		return insertScheduleEvent(ctx, tx, event)
	})
	if err != nil {
		return mapDBError(err)
	}

	return nil
}

// End deactivates the team, stamping its end date, and appends the audit
// event in the same transaction.
func (r *TeamRepository) End(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE teams SET
				is_active = false, end_date = $2, updated_at = now()
			WHERE id = $1 AND is_active = true
			RETURNING updated_at`
		if err := tx.QueryRowxContext(ctx, query, t.ID, t.EndDate).
			Scan(&t.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("active team")
			}
			return err
		}
		t.IsActive = false

		return insertScheduleEvent(ctx, tx, event)
	})
	if err != nil {
		return mapDBError(err)
	}

	return nil
}
