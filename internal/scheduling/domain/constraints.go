package domain

import (
	"time"
)

// ViolationType classifies a scheduling rule failure
type ViolationType string

const (
	ViolationDuration         ViolationType = "duration_violation"
	ViolationBusinessHours    ViolationType = "business_hours_violation"
	ViolationBusinessDay      ViolationType = "business_day_violation"
	ViolationTeamMembership   ViolationType = "team_membership_violation"
	ViolationRBTConflict      ViolationType = "rbt_unavailable"
	ViolationClientConflict   ViolationType = "client_unavailable"
	ViolationRBTAvailability  ViolationType = "rbt_availability_violation"
	ViolationDailyCapacity    ViolationType = "daily_capacity_violation"
	ViolationInsufficientRest ViolationType = "insufficient_break_violation"
)

// Violation is one failed scheduling rule with a human-readable
// description and a suggested fix.
type Violation struct {
	Type                ViolationType `json:"type"`
	Description         string        `json:"description"`
	SuggestedResolution string        `json:"suggested_resolution,omitempty"`
}

// ValidationResult is the constraint engine's verdict on a candidate
// session. Score is informational; Valid alone gates placement.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
	Score      float64     `json:"score"`
}

// CandidateSession is a proposed placement to validate.
type CandidateSession struct {
	ClientID  string    `json:"client_id"`
	RBTID     string    `json:"rbt_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Location  string    `json:"location"`
}

// SchedulingConstraints are the facility policy knobs evaluated by the
// constraint engine.
type SchedulingConstraints struct {
	SessionDuration    time.Duration  `json:"session_duration"`
	BusinessHoursStart string         `json:"business_hours_start"` // HH:MM
	BusinessHoursEnd   string         `json:"business_hours_end"`   // HH:MM
	ValidDays          []time.Weekday `json:"valid_days"`
	MaxSessionsPerDay  int            `json:"max_sessions_per_day"`
	MinBreakBetween    time.Duration  `json:"min_break_between_sessions"`
}

// DefaultConstraints returns the facility defaults: 3-hour sessions,
// 09:00-19:00 Mon-Fri, two sessions per RBT per day, 30-minute breaks.
func DefaultConstraints() SchedulingConstraints {
	return SchedulingConstraints{
		SessionDuration:    3 * time.Hour,
		BusinessHoursStart: "09:00",
		BusinessHoursEnd:   "19:00",
		ValidDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		MaxSessionsPerDay: 2,
		MinBreakBetween:   30 * time.Minute,
	}
}

// SchedulingContext carries everything the constraint engine needs to
// judge a candidate: the client's team, sessions in range, team member
// availability, session history and the active constraints. It is
// assembled once per operation and passed by reference.
type SchedulingContext struct {
	ClientID         string
	Team             *Team
	ExistingSessions []Session
	Availability     []AvailabilitySlot
	SessionHistory   []Session
	Constraints      SchedulingConstraints

	// ExcludeSessionID removes the session being moved from conflict,
	// cap and break checks during rescheduling.
	ExcludeSessionID *string
}

// SessionsFor returns the non-excluded existing sessions, optionally
// filtered to one RBT.
func (c *SchedulingContext) SessionsFor(rbtID string) []Session {
	var out []Session
	for _, s := range c.ExistingSessions {
		if c.ExcludeSessionID != nil && s.ID == *c.ExcludeSessionID {
			continue
		}
		if rbtID != "" && s.RBTID != rbtID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// RankedCandidate is one scored contender from RBT selection.
type RankedCandidate struct {
	RBTID     string  `json:"rbt_id"`
	Score     float64 `json:"score"`
	IsPrimary bool    `json:"is_primary"`
}

// RBTSelectionResult records the chosen RBT and the runner-ups for
// auditability.
type RBTSelectionResult struct {
	SelectedRBTID string            `json:"selected_rbt_id"`
	Score         float64           `json:"score"`
	Candidates    []RankedCandidate `json:"candidates"`
}

// ReassignmentStatus is the outcome of one automatic reassignment attempt
type ReassignmentStatus string

const (
	ReassignmentSuccessful ReassignmentStatus = "successful"
	ReassignmentFailed     ReassignmentStatus = "failed"
)

// SessionReassignmentResult describes what happened to one session
// affected by RBT unavailability.
type SessionReassignmentResult struct {
	SessionID       string             `json:"session_id"`
	Status          ReassignmentStatus `json:"status"`
	NewRBTID        *string            `json:"new_rbt_id,omitempty"`
	NewStartTime    *time.Time         `json:"new_start_time,omitempty"`
	NewEndTime      *time.Time         `json:"new_end_time,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	ErrorMessage    *string            `json:"error_message,omitempty"`
	ContinuityScore *float64           `json:"continuity_score,omitempty"`
}

// ReschedulingOption is one ranked alternative from the optimizer.
// Rank 1 is the highest-scoring option; ranks are stable and total.
type ReschedulingOption struct {
	Rank              int       `json:"rank"`
	RBTID             string    `json:"rbt_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	OptimizationScore float64   `json:"optimization_score"`
	ContinuityScore   float64   `json:"continuity_score"`
	TimeProximity     float64   `json:"time_proximity"`
	DayProximity      float64   `json:"day_proximity"`
	SlotCentrality    float64   `json:"slot_centrality"`
}

// OptimizationMetrics summarizes the optimizer's search.
type OptimizationMetrics struct {
	TotalOptionsEvaluated int      `json:"total_options_evaluated"`
	ConsideredConstraints []string `json:"considered_constraints"`
	SearchSpaceSize       int      `json:"search_space_size"`
}

// ImpactAnalysis quantifies the fallout of a proposed reschedule.
type ImpactAnalysis struct {
	AffectedSessions      int      `json:"affected_sessions"`
	CascadingChanges      []string `json:"cascading_changes"`
	NotificationCount     int      `json:"notification_count"`
	ContinuityDisruption  float64  `json:"continuity_disruption"`  // 0..100
	OperationalComplexity float64  `json:"operational_complexity"` // 0..100
}
