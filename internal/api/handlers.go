package api

import (
	"encoding/json"
	"net/http"

	"github.com/vpnshift/vpnshift/internal/health"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// Handler serves the read-only status endpoints. The monitor is nil when
// health monitoring is disabled.
type Handler struct {
	engine  *takeover.Engine
	checker *takeover.Checker
	monitor *health.Monitor
	version VersionInfo
}

// NewHandler creates an API handler over the running takeover components.
func NewHandler(engine *takeover.Engine, checker *takeover.Checker, monitor *health.Monitor, version VersionInfo) *Handler {
	return &Handler{
		engine:  engine,
		checker: checker,
		monitor: monitor,
		version: version,
	}
}

// GetStatus returns the takeover lifecycle state and the persisted snapshot.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status()
	if err != nil {
		WriteInternalError(w, "Failed to read takeover state: "+err.Error())
		return
	}

	response := StatusResponse{
		Version:  h.version,
		Takeover: status,
	}
	if h.monitor != nil && h.monitor.IsRunning() {
		monitorStatus := h.monitor.Status()
		response.Health = &monitorStatus
	}

	writeJSONData(w, response)
}

// GetHealth returns the drift monitor state and last check results.
// GET /api/v1/health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{}
	if h.monitor != nil {
		response.Monitoring = h.monitor.IsRunning()
		monitorStatus := h.monitor.Status()
		response.Status = &monitorStatus
	}

	writeJSONData(w, response)
}

// GetInspect verifies every applied takeover element against the snapshot.
// GET /api/v1/inspect
func (h *Handler) GetInspect(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status()
	if err != nil {
		WriteInternalError(w, "Failed to read takeover state: "+err.Error())
		return
	}

	states := h.checker.Check(status.Snapshot)
	response := InspectResponse{Healthy: true, Checks: make([]CheckItem, 0, len(states))}
	for i := range states {
		state := &states[i]
		if !state.OK() {
			response.Healthy = false
		}
		response.Checks = append(response.Checks, CheckItem{
			Component:   state.Component,
			Description: state.Description,
			Exists:      state.Exists,
			ShouldExist: state.ShouldExist,
			OK:          state.OK(),
			Message:     state.Message(),
		})
	}

	writeJSONData(w, response)
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}
