package repository

import (
	"context"

	"github.com/lib/pq"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/database"
)

const availabilityColumns = `
	id, rbt_id, day_of_week, start_time, end_time, is_recurring,
	effective_date, end_date, is_active, created_at, updated_at`

// AvailabilityRepository reads RBT recurring availability declarations.
type AvailabilityRepository struct {
	db *database.DB
}

// NewAvailabilityRepository creates a new availability repository
func NewAvailabilityRepository(db *database.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// FindByRBTID lists an RBT's active availability slots ordered by
// weekday then start time.
func (r *AvailabilityRepository) FindByRBTID(ctx context.Context, rbtID string) ([]domain.AvailabilitySlot, error) {
	var slots []domain.AvailabilitySlot

	query := `
		SELECT ` + availabilityColumns + `
		FROM availability_slots
		WHERE rbt_id = $1 AND is_active = true
		ORDER BY day_of_week, start_time`
	if err := r.db.SelectContext(ctx, &slots, query, rbtID); err != nil {
		return nil, mapDBError(err)
	}

	return slots, nil
}

// FindByRBTIDs lists active availability for a set of RBTs in one round
// trip, ordered by RBT then weekday then start time.
func (r *AvailabilityRepository) FindByRBTIDs(ctx context.Context, rbtIDs []string) ([]domain.AvailabilitySlot, error) {
	if len(rbtIDs) == 0 {
		return nil, nil
	}

	var slots []domain.AvailabilitySlot
	query := `
		SELECT ` + availabilityColumns + `
		FROM availability_slots
		WHERE rbt_id = ANY($1) AND is_active = true
		ORDER BY rbt_id, day_of_week, start_time`
	if err := r.db.SelectContext(ctx, &slots, query, pq.Array(rbtIDs)); err != nil {
		return nil, mapDBError(err)
	}

	return slots, nil
}
