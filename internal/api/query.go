package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"geoquery/pkg/model"
	"geoquery/pkg/orchestrator"
	"geoquery/pkg/registry"
)

// QueryHandler serves the query pipeline endpoints.
type QueryHandler struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(orch *orchestrator.Orchestrator, reg *registry.Registry) *QueryHandler {
	return &QueryHandler{orch: orch, registry: reg}
}

type queryRequest struct {
	SessionID string     `json:"session_id"`
	Query     string     `json:"query"`
	Pin       *model.Pin `json:"pin,omitempty"`
}

// HandleQuery runs one conversational turn.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	resp := h.orch.TranslateQuery(r.Context(), req.SessionID, req.Query, req.Pin)
	writeJSON(w, http.StatusOK, resp)
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

// HandleReset clears a session's conversation context.
func (h *QueryHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	h.orch.Reset(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

type collectionInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	ResolutionM float64 `json:"resolution_m"`
	Static      bool    `json:"static"`
	Composite   bool    `json:"composite"`
	CloudProp   string  `json:"cloud_property,omitempty"`
}

// HandleCollections lists the catalogue, optionally filtered by ?category=.
func (h *QueryHandler) HandleCollections(w http.ResponseWriter, r *http.Request) {
	profiles := h.registry.All()
	if cat := r.URL.Query().Get("category"); cat != "" {
		profiles = h.registry.ByCategory(registry.Category(cat))
	}
	out := make([]collectionInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, collectionInfo{
			ID:          p.ID,
			Title:       p.Title,
			Category:    string(p.Category),
			ResolutionM: p.ResolutionM,
			Static:      p.Static,
			Composite:   p.Composite,
			CloudProp:   p.CloudProperty,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
