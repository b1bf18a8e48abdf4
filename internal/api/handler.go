package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/agent"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/orchestrator"
)

// Handler exposes the coordinator over HTTP.
type Handler struct {
	coordinator *orchestrator.Coordinator
	registry    *agent.Registry
	logger      *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(coordinator *orchestrator.Coordinator, registry *agent.Registry, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, registry: registry, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/workflows", h.createWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/execute", h.executeWorkflow)
		r.Post("/workflows/{id}/pause", h.pauseWorkflow)
		r.Post("/workflows/{id}/resume", h.resumeWorkflow)
		r.Post("/workflows/{id}/cancel", h.cancelWorkflow)

		r.Get("/agents", h.listAgents)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "anubuddhi"})
}

type createWorkflowRequest struct {
	Goal        string                `json:"goal"`
	Objectives  []string              `json:"objectives,omitempty"`
	Constraints map[string]any        `json:"constraints,omitempty"`
	Strategy    orchestrator.Strategy `json:"strategy,omitempty"`
	Execute     bool                  `json:"execute,omitempty"`
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := h.coordinator.CreateWorkflow(r.Context(), req.Goal, req.Objectives, req.Constraints, req.Strategy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if req.Execute {
		if err := h.coordinator.ExecuteWorkflow(id, req.Strategy); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error(), "workflow_id": id})
			return
		}
	}

	snap, err := h.coordinator.MonitorWorkflow(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  h.coordinator.ActiveWorkflows(),
		"history": h.coordinator.History(),
	})
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coordinator.MonitorWorkflow(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type executeRequest struct {
	Strategy orchestrator.Strategy `json:"strategy,omitempty"`
}

func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	id := chi.URLParam(r, "id")
	if err := h.coordinator.ExecuteWorkflow(id, req.Strategy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": "enqueued"})
}

func (h *Handler) pauseWorkflow(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.coordinator.PauseWorkflow)
}

func (h *Handler) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.coordinator.ResumeWorkflow)
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.coordinator.CancelWorkflow)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := chi.URLParam(r, "id")
	if err := op(id); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.coordinator.MonitorWorkflow(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type agentView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Performance  any      `json:"performance,omitempty"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	perf := h.coordinator.Performance()
	agents := h.registry.List()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		v := agentView{
			ID:           a.ID,
			Name:         a.Name,
			Role:         a.Role,
			Capabilities: a.Capabilities(),
		}
		if rec, ok := perf[a.ID]; ok {
			v.Performance = rec
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrWorkflowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
