package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/httputil"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// OptimizationHandler handles rescheduling optimization endpoints
type OptimizationHandler struct {
	service *service.OptimizationService
	logger  *logger.Logger
}

// NewOptimizationHandler creates a new optimization handler
func NewOptimizationHandler(svc *service.OptimizationService, log *logger.Logger) *OptimizationHandler {
	return &OptimizationHandler{
		service: svc,
		logger:  log,
	}
}

// Optimize returns ranked rescheduling options for a session.
//
// Query parameters: max_days, allow_different_rbt, max_options, and
// preferred_times as comma-separated HH:MM-HH:MM windows.
func (h *OptimizationHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prefs := service.OptimizationPreferences{}
	query := r.URL.Query()
	if raw := query.Get("max_days"); raw != "" {
		prefs.MaxDaysFromOriginal, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("max_options"); raw != "" {
		prefs.MaxOptions, _ = strconv.Atoi(raw)
	}
	prefs.AllowDifferentRBT = query.Get("allow_different_rbt") == "true"

	if raw := query.Get("preferred_times"); raw != "" {
		for _, window := range strings.Split(raw, ",") {
			parts := strings.SplitN(window, "-", 2)
			if len(parts) != 2 {
				httputil.Error(w, errors.BadRequest("preferred_times must be HH:MM-HH:MM windows"))
				return
			}
			prefs.PreferredTimes = append(prefs.PreferredTimes, service.TimeWindow{
				Start: parts[0],
				End:   parts[1],
			})
		}
	}

	result, err := h.service.FindOptimalReschedulingOptions(r.Context(), id, prefs)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Impact quantifies what a proposed move would disturb
func (h *OptimizationHandler) Impact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	newStart, err := time.Parse(time.RFC3339, r.URL.Query().Get("new_start_time"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("new_start_time must be RFC3339"))
		return
	}

	var newRBTID *string
	if raw := r.URL.Query().Get("new_rbt_id"); raw != "" {
		newRBTID = &raw
	}

	analysis, err := h.service.AnalyzeReschedulingImpact(r.Context(), id, newStart, newRBTID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, analysis)
}
