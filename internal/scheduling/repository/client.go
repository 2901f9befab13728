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

const clientColumns = `
	u.id, u.email, u.first_name, u.last_name, u.phone, u.role,
	u.is_active, u.created_at, u.updated_at,
	p.date_of_birth, p.guardian_contact, p.special_needs,
	p.enrollment_date, p.discharge_date`

type clientRow struct {
	ID              string         `db:"id"`
	Email           string         `db:"email"`
	FirstName       string         `db:"first_name"`
	LastName        string         `db:"last_name"`
	Phone           sql.NullString `db:"phone"`
	Role            string         `db:"role"`
	IsActive        bool           `db:"is_active"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	DateOfBirth     time.Time      `db:"date_of_birth"`
	GuardianContact string         `db:"guardian_contact"`
	SpecialNeeds    pq.StringArray `db:"special_needs"`
	EnrollmentDate  time.Time      `db:"enrollment_date"`
	DischargeDate   sql.NullTime   `db:"discharge_date"`
}

func (row *clientRow) toDomain() *domain.Client {
	c := &domain.Client{
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
		DateOfBirth:     row.DateOfBirth,
		GuardianContact: row.GuardianContact,
		SpecialNeeds:    []string(row.SpecialNeeds),
		EnrollmentDate:  row.EnrollmentDate,
	}
	if row.Phone.Valid {
		c.Phone = &row.Phone.String
	}
	if row.DischargeDate.Valid {
		c.DischargeDate = &row.DischargeDate.Time
	}
	return c
}

// ClientRepository reads client profiles (users joined with
// client_profiles).
type ClientRepository struct {
	db *database.DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *database.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// FindByID gets a client by ID
func (r *ClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	var row clientRow

	query := `
		SELECT ` + clientColumns + `
		FROM users u
		JOIN client_profiles p ON p.user_id = u.id
		WHERE u.id = $1`
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("client")
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return row.toDomain(), nil
}

// FindActive lists every enrolled, non-discharged client, ordered by ID.
func (r *ClientRepository) FindActive(ctx context.Context) ([]domain.Client, error) {
	var rows []clientRow

	query := `
		SELECT ` + clientColumns + `
		FROM users u
		JOIN client_profiles p ON p.user_id = u.id
		WHERE u.is_active = true AND p.discharge_date IS NULL
		ORDER BY u.id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, mapDBError(err)
	}

	clients := make([]domain.Client, 0, len(rows))
	for i := range rows {
		clients = append(clients, *rows[i].toDomain())
	}
	return clients, nil
}
