// Package api provides HTTP handlers for the tableforge REST API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tableforge/internal/command"
	"tableforge/internal/domain"
	"tableforge/internal/executor"
)

// Handler serves the mutation, undo/redo, timeline, and history endpoints.
type Handler struct {
	exec     *executor.Executor
	registry *command.Registry
	history  domain.HistoryRepository // nil disables the history endpoint
	logger   *slog.Logger
}

// NewHandler creates a Handler over the wired executor.
func NewHandler(exec *executor.Executor, registry *command.Registry,
	history domain.HistoryRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exec: exec, registry: registry, history: history, logger: logger}
}

// commandRequest is the body of POST /v1/tables/{table}/commands.
type commandRequest struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	Label  string         `json:"label,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// commandResponse is the envelope returned by execute, undo, and redo.
type commandResponse struct {
	Success      bool                    `json:"success"`
	CommandID    string                  `json:"command_id,omitempty"`
	Execution    *domain.ExecutionResult `json:"execution,omitempty"`
	DiffViewName string                  `json:"diff_view_name,omitempty"`
}

// ExecuteCommand builds a command from its registered factory and runs it.
func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.Type == "" {
		writeError(w, domain.ErrValidation("command type is required"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	cmd, err := h.registry.Create(domain.CommandType(req.Type), req.ID, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.exec.Execute(r.Context(), table, cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Success:      res.Success,
		CommandID:    req.ID,
		Execution:    res.Execution,
		DiffViewName: res.DiffViewName,
	})
}

// Undo reverses the most recent command on the table.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	res, err := h.exec.Undo(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Success: res.Success, Execution: res.Execution})
}

// Redo re-applies the most recently undone command on the table.
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	res, err := h.exec.Redo(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Success: res.Success, Execution: res.Execution})
}

// timelineRecordAPI is the wire form of one timeline record.
type timelineRecordAPI struct {
	ID           string    `json:"id"`
	CommandType  string    `json:"command_type"`
	Label        string    `json:"label"`
	Tier         int       `json:"tier"`
	UndoDisabled bool      `json:"undo_disabled"`
	ExecutedAt   time.Time `json:"executed_at"`
}

type timelineResponse struct {
	Records  []timelineRecordAPI `json:"records"`
	Position int                 `json:"position"`
}

// Timeline returns the table's command timeline and current position.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	records, pos := h.exec.Timeline(table)

	out := make([]timelineRecordAPI, len(records))
	for i, rec := range records {
		out[i] = timelineRecordAPI{
			ID:           rec.ID,
			CommandType:  string(rec.CommandType),
			Label:        rec.Label,
			Tier:         int(rec.Tier),
			UndoDisabled: rec.UndoDisabled,
			ExecutedAt:   rec.ExecutedAt,
		}
	}
	writeJSON(w, http.StatusOK, timelineResponse{Records: out, Position: pos})
}

// historyEntryAPI is the wire form of one history entry.
type historyEntryAPI struct {
	ID          string `json:"id"`
	CommandID   string `json:"command_id"`
	CommandType string `json:"command_type"`
	Label       string `json:"label"`
	ParamsJSON  string `json:"params_json"`
	Tier        int    `json:"tier"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ExecutedAt  int64  `json:"executed_at"`
}

type historyResponse struct {
	Entries []historyEntryAPI `json:"entries"`
}

// History returns the table's persisted audit trail, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, domain.ErrNotFound("history is not enabled"))
		return
	}
	table := chi.URLParam(r, "table")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.ErrValidation("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries, err := h.history.List(r.Context(), table, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyEntryAPI, len(entries))
	for i, e := range entries {
		out[i] = historyEntryAPI{
			ID:          e.ID,
			CommandID:   e.CommandID,
			CommandType: e.CommandType,
			Label:       e.Label,
			ParamsJSON:  e.ParamsJSON,
			Tier:        e.Tier,
			Action:      e.Action,
			Status:      e.Status,
			Error:       e.Error,
			ExecutedAt:  e.ExecutedAt,
		}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: out})
}

// CommandTypes lists the command types the registry can build.
func (h *Handler) CommandTypes(w http.ResponseWriter, _ *http.Request) {
	types := h.registry.Types()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	sort.Strings(out)
	writeJSON(w, http.StatusOK, map[string][]string{"types": out})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
