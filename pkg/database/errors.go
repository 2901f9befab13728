package database

import (
	"context"
	"strings"

	"github.com/lib/pq"

	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Exclusion constraint violation (23P01): overlapping active sessions.
	// This is how a losing concurrent placement observes the no-overlap rule.
	case "23P01":
		return errors.Conflict(formatExclusionMessage(pqErr))

	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// MapContextError converts context cancellation into the timeout taxonomy.
func MapContextError(err error) *errors.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("database operation")
	}
	if errors.Is(err, context.Canceled) {
		return errors.Timeout("database operation")
	}
	return nil
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "session_duration"):
		return errors.Validation(map[string]string{
			"end_time": "sessions must be exactly 3 hours long",
		})

	case strings.Contains(constraint, "business_hours"):
		return errors.Validation(map[string]string{
			"start_time": "sessions must fall between 09:00 and 19:00",
		})

	case strings.Contains(constraint, "business_day") || strings.Contains(constraint, "weekday"):
		return errors.Validation(map[string]string{
			"start_time": "sessions may only be scheduled Monday through Friday",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: scheduled, confirmed, completed, cancelled, no_show",
		})

	case strings.Contains(constraint, "role_valid"):
		return errors.Validation(map[string]string{
			"role": "must be one of: admin, coordinator, rbt, client_family",
		})

	case strings.Contains(constraint, "termination_after_hire"):
		return errors.Validation(map[string]string{
			"termination_date": "must not precede the hire date",
		})

	case strings.Contains(constraint, "slot_within_hours"):
		return errors.Validation(map[string]string{
			"start_time": "availability slots must fall between 09:00 and 19:00",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatExclusionMessage creates a user-friendly message for session overlap violations.
func formatExclusionMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "rbt_no_overlap"):
		return "the RBT already has a session during this time"
	case strings.Contains(constraint, "client_no_overlap"):
		return "the client already has a session during this time"
	default:
		return "a conflicting session exists for this time"
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "license_number"):
		return "an RBT with this license number already exists"
	case strings.Contains(constraint, "email"):
		return "a user with this email already exists"
	case strings.Contains(constraint, "active_team_per_client"):
		return "the client already has an active team"
	case strings.Contains(constraint, "schedule_events_pkey"):
		return "a schedule event with this id already exists"
	default:
		return "a record with these values already exists"
	}
}
