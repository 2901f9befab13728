package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types routed on the schedule exchange. Subscribers key off these
// to fan updates out to the right client, RBT, or global audience.
const (
	EventSessionCreated     = "schedule.session.created"
	EventSessionCancelled   = "schedule.session.cancelled"
	EventSessionRescheduled = "schedule.session.rescheduled"

	EventRBTUnavailable          = "schedule.rbt.unavailable"
	EventRBTUnavailableResolved  = "schedule.rbt.unavailable.resolved"

	EventTeamCreated        = "schedule.team.created"
	EventTeamUpdated        = "schedule.team.updated"
	EventTeamEnded          = "schedule.team.ended"
	EventTeamPrimaryChanged = "schedule.team.primary_changed"
)

// Event types routed on the user exchange, owned by the identity
// service. The scheduling service consumes them to keep its local user
// records current.
const (
	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserDeactivated = "user.deactivated"
)

// Exchange names
const (
	ExchangeScheduleEvents = "schedule.events"
	ExchangeUserEvents     = "user.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ScheduleUpdate is the broadcast payload consumed by real-time
// subscribers and the notification collaborator. Subscribers are keyed
// by client id, RBT id, or global. Data carries the typed event payload
// for the update's routing key.
type ScheduleUpdate struct {
	Type      string    `json:"type"`
	SessionID *string   `json:"session_id,omitempty"`
	ClientID  *string   `json:"client_id,omitempty"`
	RBTID     *string   `json:"rbt_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCreatedEvent is published when a session is placed
type SessionCreatedEvent struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	RBTID     string    `json:"rbt_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Location  string    `json:"location"`
}

// SessionCancelledEvent is published when a session is cancelled
type SessionCancelledEvent struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	RBTID     string    `json:"rbt_id"`
	StartTime time.Time `json:"start_time"`
	Reason    string    `json:"reason"`
}

// SessionRescheduledEvent is published when a session moves in time or
// changes RBT
type SessionRescheduledEvent struct {
	SessionID    string    `json:"session_id"`
	ClientID     string    `json:"client_id"`
	OldRBTID     string    `json:"old_rbt_id"`
	NewRBTID     string    `json:"new_rbt_id"`
	OldStartTime time.Time `json:"old_start_time"`
	NewStartTime time.Time `json:"new_start_time"`
	Reason       string    `json:"reason,omitempty"`
}

// RBTUnavailableEvent is published when an RBT is reported unavailable
type RBTUnavailableEvent struct {
	RBTID            string    `json:"rbt_id"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	Reason           string    `json:"reason"`
	Type             string    `json:"type"`
	AffectedSessions int       `json:"affected_sessions"`
}

// TeamChangedEvent is published on team create/update/end and primary change
type TeamChangedEvent struct {
	TeamID       string         `json:"team_id"`
	ClientID     string         `json:"client_id"`
	PrimaryRBTID string         `json:"primary_rbt_id,omitempty"`
	RBTIDs       []string       `json:"rbt_ids,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// UserUpsertEvent carries the user fields replicated into each
// consuming service on user.created and user.updated
type UserUpsertEvent struct {
	UserID    string  `json:"user_id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone,omitempty"`
	Role      string  `json:"role"`
	IsActive  bool    `json:"is_active"`
}

// UserDeactivatedEvent is published when a user account is disabled
type UserDeactivatedEvent struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
