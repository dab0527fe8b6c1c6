package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
	"github.com/aussiebroadwan/lockstep/pkg/httpx"
	"github.com/aussiebroadwan/lockstep/pkg/slogx"
)

// BaselinesHandler exposes learned baselines for operators, e.g. to confirm
// a deployment has warmed up or to spot a clamped (poisoned) value.
type BaselinesHandler struct {
	Baselines baseline.Store
}

type baselineResponse struct {
	Name      string  `json:"name"`
	Millis    float64 `json:"millis"`
	UpdatedAt string  `json:"updated_at"`
}

func (h *BaselinesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	name := r.PathValue("name")
	if name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "baseline name is required")
		return
	}

	rec, err := h.Baselines.Read(r.Context(), name)
	if err != nil {
		if errors.Is(err, baseline.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "no baseline learned for this name")
			return
		}
		log.Error("baseline read failed", "name", name, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "unable to read baseline")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, baselineResponse{
		Name:      name,
		Millis:    rec.Millis,
		UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// BaselineResetHandler deletes a learned baseline so the next successful
// login relearns it from scratch. Removing the record also clears its
// timestamp, so the relearn is not held back by the save throttle.
type BaselineResetHandler struct {
	Baselines baseline.Store
}

func (h *BaselineResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	name := r.PathValue("name")
	if name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "baseline name is required")
		return
	}

	if err := h.Baselines.Delete(r.Context(), name); err != nil {
		if errors.Is(err, baseline.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "no baseline learned for this name")
			return
		}
		log.Error("baseline delete failed", "name", name, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "unable to delete baseline")
		return
	}

	log.Info("baseline reset", "name", name)
	w.WriteHeader(http.StatusNoContent)
}
