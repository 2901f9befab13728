package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/httputil"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// UnavailabilityHandler handles RBT unavailability endpoints
type UnavailabilityHandler struct {
	service *service.UnavailabilityService
	logger  *logger.Logger
}

// NewUnavailabilityHandler creates a new unavailability handler
func NewUnavailabilityHandler(svc *service.UnavailabilityService, log *logger.Logger) *UnavailabilityHandler {
	return &UnavailabilityHandler{
		service: svc,
		logger:  log,
	}
}

type unavailabilityRequest struct {
	RBTID        string    `json:"rbt_id" validate:"required"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
	Reason       string    `json:"reason" validate:"required"`
	Type         string    `json:"type" validate:"required,oneof=sick vacation training personal"`
	AutoReassign bool      `json:"auto_reassign"`
}

func (r unavailabilityRequest) toService() service.UnavailabilityRequest {
	return service.UnavailabilityRequest{
		RBTID:        r.RBTID,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Reason:       r.Reason,
		Type:         r.Type,
		AutoReassign: r.AutoReassign,
	}
}

// Declare records an unavailability window and optionally reassigns the
// affected sessions
func (h *UnavailabilityHandler) Declare(w http.ResponseWriter, r *http.Request) {
	var req unavailabilityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.ProcessRBTUnavailability(r.Context(), req.toService())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

type bulkUnavailabilityRequest struct {
	Declarations []unavailabilityRequest `json:"declarations" validate:"required,min=1,dive"`
}

// BulkDeclare processes a list of declarations independently
func (h *UnavailabilityHandler) BulkDeclare(w http.ResponseWriter, r *http.Request) {
	var req bulkUnavailabilityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	reqs := make([]service.UnavailabilityRequest, 0, len(req.Declarations))
	for _, d := range req.Declarations {
		reqs = append(reqs, d.toService())
	}

	items, err := h.service.BulkProcessRBTUnavailability(r.Context(), reqs)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, items)
}

// Resolve records that an RBT is available again
func (h *UnavailabilityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	rbtID := chi.URLParam(r, "rbtId")

	var req struct {
		Note *string `json:"note,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	event, err := h.service.ResolveUnavailability(r.Context(), rbtID, req.Note)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, event)
}
