package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/httputil"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// TeamHandler handles care-team endpoints
type TeamHandler struct {
	service *service.TeamService
	logger  *logger.Logger
}

// NewTeamHandler creates a new team handler
func NewTeamHandler(svc *service.TeamService, log *logger.Logger) *TeamHandler {
	return &TeamHandler{
		service: svc,
		logger:  log,
	}
}

type assignTeamRequest struct {
	ClientID               string    `json:"client_id" validate:"required"`
	RBTIDs                 []string  `json:"rbt_ids" validate:"required,min=1"`
	PrimaryRBTID           string    `json:"primary_rbt_id" validate:"required"`
	EffectiveDate          time.Time `json:"effective_date" validate:"required"`
	RequiredQualifications []string  `json:"required_qualifications,omitempty"`
}

// Create assigns a client's care team
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req assignTeamRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.AssignTeam(r.Context(), service.AssignTeamRequest{
		ClientID:               req.ClientID,
		RBTIDs:                 req.RBTIDs,
		PrimaryRBTID:           req.PrimaryRBTID,
		EffectiveDate:          req.EffectiveDate,
		RequiredQualifications: req.RequiredQualifications,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Get gets a team by ID
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	team, err := h.service.GetTeam(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}

// GetByClient gets the client's active team
func (h *TeamHandler) GetByClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")

	team, err := h.service.GetActiveTeamForClient(r.Context(), clientID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}

// AddRBT adds a member to the roster
func (h *TeamHandler) AddRBT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		RBTID string `json:"rbt_id" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	team, err := h.service.AddRBT(r.Context(), id, req.RBTID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}

// RemoveRBT removes a member from the roster
func (h *TeamHandler) RemoveRBT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rbtID := chi.URLParam(r, "rbtId")

	team, err := h.service.RemoveRBT(r.Context(), id, rbtID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}

// ChangePrimary designates a new primary RBT
func (h *TeamHandler) ChangePrimary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		RBTID  string  `json:"rbt_id" validate:"required"`
		Reason *string `json:"reason,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	team, err := h.service.ChangePrimaryRBT(r.Context(), id, req.RBTID, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}

// End deactivates the team
func (h *TeamHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		EndDate time.Time `json:"end_date" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	team, err := h.service.EndTeam(r.Context(), id, req.EndDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, team)
}
