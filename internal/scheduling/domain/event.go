package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a scheduling action in the audit log
type EventType string

const (
	EventSessionCreated     EventType = "session_created"
	EventSessionCancelled   EventType = "session_cancelled"
	EventSessionRescheduled EventType = "session_rescheduled"
	EventRBTUnavailable     EventType = "rbt_unavailable"
	EventRBTAvailable       EventType = "rbt_available"
	EventTeamCreated        EventType = "team_created"
	EventTeamUpdated        EventType = "team_updated"
	EventTeamEnded          EventType = "team_ended"
	EventRBTAdded           EventType = "rbt_added"
	EventRBTRemoved         EventType = "rbt_removed"
	EventPrimaryChanged     EventType = "primary_changed"
)

// JSONMap is a free-form key/value payload stored as JSONB.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}

// ScheduleEvent is one immutable entry in the append-only audit log.
// Events are never updated or deleted; the API surface offers no way to
// express either.
type ScheduleEvent struct {
	ID        string    `json:"id" db:"id"`
	EventType EventType `json:"event_type" db:"event_type"`
	SessionID *string   `json:"session_id,omitempty" db:"session_id"`
	RBTID     *string   `json:"rbt_id,omitempty" db:"rbt_id"`
	ClientID  *string   `json:"client_id,omitempty" db:"client_id"`
	TeamID    *string   `json:"team_id,omitempty" db:"team_id"`
	OldValues JSONMap   `json:"old_values,omitempty" db:"old_values"`
	NewValues JSONMap   `json:"new_values,omitempty" db:"new_values"`
	Reason    *string   `json:"reason,omitempty" db:"reason"`
	Metadata  JSONMap   `json:"metadata,omitempty" db:"metadata"`
	CreatedBy *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventFilter selects events from the log. Zero fields match everything.
type EventFilter struct {
	EventTypes []EventType
	SessionID  *string
	RBTID      *string
	ClientID   *string
	TeamID     *string
	From       *time.Time
	To         *time.Time
	Limit      int
}
