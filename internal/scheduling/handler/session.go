package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/httputil"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// SessionHandler handles session scheduling endpoints. Rule violations
// come back as 422 with the structured result; errors keep their mapped
// status codes.
type SessionHandler struct {
	scheduling   *service.SchedulingService
	cancellation *service.CancellationService
	logger       *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(scheduling *service.SchedulingService, cancellation *service.CancellationService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		scheduling:   scheduling,
		cancellation: cancellation,
		logger:       log,
	}
}

type scheduleSessionRequest struct {
	ClientID          string    `json:"client_id" validate:"required"`
	RBTID             *string   `json:"rbt_id,omitempty"`
	StartTime         time.Time `json:"start_time" validate:"required"`
	Location          string    `json:"location" validate:"required"`
	Notes             *string   `json:"notes,omitempty"`
	AllowAlternatives bool      `json:"allow_alternatives"`
}

// Create schedules a single session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.scheduling.ScheduleSession(r.Context(), service.ScheduleSessionRequest{
		ClientID:          req.ClientID,
		RBTID:             req.RBTID,
		StartTime:         req.StartTime,
		Location:          req.Location,
		Notes:             req.Notes,
		AllowAlternatives: req.AllowAlternatives,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if !result.Success {
		httputil.UnprocessableEntity(w, result)
		return
	}

	httputil.Created(w, result)
}

type bulkScheduleRequest struct {
	ClientID       string `json:"client_id" validate:"required"`
	StartDate      string `json:"start_date" validate:"required"`
	EndDate        string `json:"end_date" validate:"required"`
	PreferredTimes []struct {
		DayOfWeek int    `json:"day_of_week" validate:"required,min=1,max=5"`
		Time      string `json:"time" validate:"required"`
	} `json:"preferred_times" validate:"required,min=1,dive"`
	SessionsPerWeek int    `json:"sessions_per_week" validate:"required,min=1"`
	Location        string `json:"location" validate:"required"`
}

// BulkCreate expands a recurring pattern into individual sessions
func (h *SessionHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkScheduleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httputil.Error(w, errors.BadRequest("start_date must be YYYY-MM-DD"))
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httputil.Error(w, errors.BadRequest("end_date must be YYYY-MM-DD"))
		return
	}

	preferred := make([]service.PreferredTime, 0, len(req.PreferredTimes))
	for _, p := range req.PreferredTimes {
		preferred = append(preferred, service.PreferredTime{DayOfWeek: p.DayOfWeek, Time: p.Time})
	}

	result, err := h.scheduling.BulkScheduleSessions(r.Context(), service.BulkScheduleRequest{
		ClientID:        req.ClientID,
		StartDate:       startDate,
		EndDate:         endDate,
		PreferredTimes:  preferred,
		SessionsPerWeek: req.SessionsPerWeek,
		Location:        req.Location,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

type rescheduleRequest struct {
	NewStartTime time.Time `json:"new_start_time" validate:"required"`
	Reason       *string   `json:"reason,omitempty"`
}

// Reschedule moves a session to a new start time
func (h *SessionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rescheduleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.scheduling.RescheduleSession(r.Context(), id, req.NewStartTime, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if !result.Success {
		httputil.UnprocessableEntity(w, result)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	Reason           string `json:"reason" validate:"required"`
	FindAlternatives bool   `json:"find_alternatives"`
	MaxAlternatives  int    `json:"max_alternatives"`
}

// Cancel cancels a session, optionally suggesting clients for the freed slot
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.cancellation.CancelSession(r.Context(), id, req.Reason, req.FindAlternatives, req.MaxAlternatives)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

type bulkCancelRequest struct {
	SessionIDs []string `json:"session_ids" validate:"required,min=1"`
	Reason     string   `json:"reason" validate:"required"`
}

// BulkCancel cancels a list of sessions
func (h *SessionHandler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	var req bulkCancelRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.cancellation.BulkCancelSessions(r.Context(), req.SessionIDs, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Get gets a session by ID
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.scheduling.GetSession(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// ListByClient lists a client's sessions in a window
func (h *SessionHandler) ListByClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	from, to, err := windowFromQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	sessions, err := h.scheduling.ListClientSessions(r.Context(), clientID, from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sessions)
}

// ListByRBT lists an RBT's sessions in a window
func (h *SessionHandler) ListByRBT(w http.ResponseWriter, r *http.Request) {
	rbtID := chi.URLParam(r, "rbtId")
	from, to, err := windowFromQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	sessions, err := h.scheduling.ListRBTSessions(r.Context(), rbtID, from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sessions)
}

// Alternatives suggests tiered (RBT, time) placements near a preferred date
func (h *SessionHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		httputil.Error(w, errors.BadRequest("client_id is required"))
		return
	}

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("date must be YYYY-MM-DD"))
		return
	}

	daysAhead := 0
	if raw := r.URL.Query().Get("days_ahead"); raw != "" {
		daysAhead, _ = strconv.Atoi(raw)
	}

	alternatives, err := h.scheduling.FindAlternativeTimeSlots(r.Context(), clientID, date, daysAhead)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alternatives)
}

// CancellationStats summarizes cancellations over a window
func (h *SessionHandler) CancellationStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowFromQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	stats, err := h.cancellation.Stats(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

// windowFromQuery parses optional start_date / end_date query parameters,
// defaulting to the next 30 days.
func windowFromQuery(r *http.Request) (time.Time, time.Time, error) {
	from := time.Now().UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 30)

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.BadRequest("start_date must be YYYY-MM-DD")
		}
		from = t
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.BadRequest("end_date must be YYYY-MM-DD")
		}
		to = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.BadRequest("end_date precedes start_date")
	}
	return from, to, nil
}
