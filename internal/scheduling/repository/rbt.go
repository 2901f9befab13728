package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

const rbtColumns = `
	u.id, u.email, u.first_name, u.last_name, u.phone, u.role,
	u.is_active, u.created_at, u.updated_at,
	p.license_number, p.qualifications, p.hourly_rate,
	p.hire_date, p.termination_date`

type rbtRow struct {
	ID              string         `db:"id"`
	Email           string         `db:"email"`
	FirstName       string         `db:"first_name"`
	LastName        string         `db:"last_name"`
	Phone           sql.NullString `db:"phone"`
	Role            string         `db:"role"`
	IsActive        bool           `db:"is_active"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	LicenseNumber   string         `db:"license_number"`
	Qualifications  pq.StringArray `db:"qualifications"`
	HourlyRate      float64        `db:"hourly_rate"`
	HireDate        time.Time      `db:"hire_date"`
	TerminationDate sql.NullTime   `db:"termination_date"`
}

func (row *rbtRow) toDomain() *domain.RBT {
	r := &domain.RBT{
		User: domain.User{
			ID:        row.ID,
			Email:     row.Email,
			FirstName: row.FirstName,
			LastName:  row.LastName,
			Role:      domain.Role(row.Role),
			IsActive:  row.IsActive,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
		LicenseNumber:  row.LicenseNumber,
		Qualifications: []string(row.Qualifications),
		HourlyRate:     row.HourlyRate,
		HireDate:       row.HireDate,
	}
	if row.Phone.Valid {
		r.Phone = &row.Phone.String
	}
	if row.TerminationDate.Valid {
		r.TerminationDate = &row.TerminationDate.Time
	}
	return r
}

// RBTRepository reads RBT profiles. Profiles join the shared users table
// with rbt_profiles.
type RBTRepository struct {
	db *database.DB
}

// NewRBTRepository creates a new RBT repository
func NewRBTRepository(db *database.DB) *RBTRepository {
	return &RBTRepository{db: db}
}

// FindByID gets an RBT by ID
func (r *RBTRepository) FindByID(ctx context.Context, id string) (*domain.RBT, error) {
	var row rbtRow

	query := `
		SELECT ` + rbtColumns + `
		FROM users u
		JOIN rbt_profiles p ON p.user_id = u.id
		WHERE u.id = $1 AND u.role = 'rbt'`
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("rbt")
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return row.toDomain(), nil
}

// FindByIDs gets multiple RBTs at once, ordered by ID. Missing IDs are
// silently absent from the result.
func (r *RBTRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.RBT, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []rbtRow
	query := `
		SELECT ` + rbtColumns + `
		FROM users u
		JOIN rbt_profiles p ON p.user_id = u.id
		WHERE u.id = ANY($1) AND u.role = 'rbt'
		ORDER BY u.id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, mapDBError(err)
	}

	rbts := make([]domain.RBT, 0, len(rows))
	for i := range rows {
		rbts = append(rbts, *rows[i].toDomain())
	}
	return rbts, nil
}

// FindActive lists every actively employed RBT, ordered by ID.
func (r *RBTRepository) FindActive(ctx context.Context) ([]domain.RBT, error) {
	var rows []rbtRow

	query := `
		SELECT ` + rbtColumns + `
		FROM users u
		JOIN rbt_profiles p ON p.user_id = u.id
		WHERE u.role = 'rbt' AND u.is_active = true
		  AND p.termination_date IS NULL
		ORDER BY u.id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, mapDBError(err)
	}

	rbts := make([]domain.RBT, 0, len(rows))
	for i := range rows {
		rbts = append(rbts, *rows[i].toDomain())
	}
	return rbts, nil
}

// FindAvailableForTimeSlot lists actively employed RBTs whose declared
// availability covers [start, end) on that weekday and who have no
// blocking session overlapping it. Day-of-week and local times are
// computed against the given facility timezone. excludeIDs removes RBTs
// already ruled out (the unavailable RBT during reassignment).
func (r *RBTRepository) FindAvailableForTimeSlot(ctx context.Context, start, end time.Time, timezone string, excludeIDs []string) ([]domain.RBT, error) {
	var rows []rbtRow

	query := `
		SELECT ` + rbtColumns + `
		FROM users u
		JOIN rbt_profiles p ON p.user_id = u.id
		WHERE u.role = 'rbt' AND u.is_active = true
		  AND p.termination_date IS NULL
		  AND p.hire_date <= $1
		  AND NOT (u.id = ANY($4))
		  AND EXISTS (
			SELECT 1 FROM availability_slots a
			WHERE a.rbt_id = u.id
			  AND a.is_active = true
			  AND a.day_of_week = EXTRACT(ISODOW FROM $1 AT TIME ZONE $3)
			  AND a.start_time <= to_char($1 AT TIME ZONE $3, 'HH24:MI')
			  AND a.end_time >= to_char($2 AT TIME ZONE $3, 'HH24:MI')
			  AND a.effective_date <= $1
			  AND (a.end_date IS NULL OR a.end_date >= $1)
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.rbt_id = u.id
			  AND s.status NOT IN ('cancelled', 'no_show')
			  AND s.start_time < $2 AND s.end_time > $1
		  )
		ORDER BY u.id`
	if err := r.db.SelectContext(ctx, &rows, query, start, end, timezone, pq.Array(excludeIDs)); err != nil {
		return nil, mapDBError(err)
	}

	rbts := make([]domain.RBT, 0, len(rows))
	for i := range rows {
		rbts = append(rbts, *rows[i].toDomain())
	}
	return rbts, nil
}
