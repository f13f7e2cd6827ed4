package api

import (
	"net/http"

	"geoquery/pkg/orchestrator"
	"geoquery/pkg/tracker"
)

// StatsHandler reports usage counters and session counts.
type StatsHandler struct {
	tracker *tracker.Tracker
	orch    *orchestrator.Orchestrator
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(t *tracker.Tracker, orch *orchestrator.Orchestrator) *StatsHandler {
	return &StatsHandler{tracker: t, orch: orch}
}

// HandleStats serves the counters snapshot.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":    h.tracker.Snapshot(),
		"sessions": h.orch.SessionCount(),
	})
}
