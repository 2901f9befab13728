package repository

import (
	"context"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
)

// UserRepository maintains the local users table replicated from the
// identity service via user events. RBT and client lookups join it.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts or updates a replicated user record
func (r *UserRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, phone, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName,
		user.Phone, user.Role, user.IsActive)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// Deactivate marks a replicated user inactive. Unknown IDs are a no-op
// since the deactivation may arrive before the user was ever replicated.
func (r *UserRepository) Deactivate(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET is_active = false, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return mapDBError(err)
	}
	return nil
}
