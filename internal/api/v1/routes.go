// Package v1 provides the status and control API of the agent controllers.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/runctl/internal/api/common"
	"github.com/stacklok/runctl/internal/coordinator"
	"github.com/stacklok/runctl/internal/executor"
	"github.com/stacklok/runctl/internal/history"
	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/queue"
	"github.com/stacklok/runctl/internal/status"
)

// SourceAPI tags jobs requested through the API
const SourceAPI = "API request"

const maxHistoryLimit = 500

// Controllers is the view of the coordinator used by the API
type Controllers interface {
	Executors() []*executor.Executor
	Executor(agentID string) (*executor.Executor, bool)
	StartAgent(agentID string) error
	StopAgent(agentID string) error
}

// HistoryReader lists recorded runs
type HistoryReader interface {
	List(ctx context.Context, agentID string, limit int) ([]history.Run, error)
}

// AgentResponse is the status of one agent's controller
type AgentResponse struct {
	status.ExecutorStatus
	Queue []job.Job `json:"queue"`
}

// AgentListResponse lists every agent
type AgentListResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// JobRequest is a manual run request
type JobRequest struct {
	RunProfileName string `json:"runProfileName,omitempty"`
	RunProfileType string `json:"runProfileType,omitempty"`
	Partition      string `json:"partition,omitempty"`
	RunImmediate   bool   `json:"runImmediate,omitempty"`
	Exclusive      bool   `json:"exclusive,omitempty"`
}

// JobResponse reports what happened to a run request
type JobResponse struct {
	Outcome string `json:"outcome"`
	Queue   string `json:"queue"`
}

// CancelResponse reports whether a run was cancelled
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HistoryResponse lists the recorded runs of an agent, newest first
type HistoryResponse struct {
	Runs []history.Run `json:"runs"`
}

// Routes holds the handlers of the agents API
type Routes struct {
	controllers Controllers
	history     HistoryReader
}

// Router creates the router of the agents API. history may be nil when no run history is kept.
func Router(controllers Controllers, history HistoryReader) http.Handler {
	routes := &Routes{controllers: controllers, history: history}

	r := chi.NewRouter()
	r.Get("/agents", routes.listAgents)
	r.Route("/agents/{agent}", func(r chi.Router) {
		r.Get("/", routes.getAgent)
		r.Post("/jobs", routes.addJob)
		r.Post("/start", routes.startAgent)
		r.Post("/stop", routes.stopAgent)
		r.Post("/cancel", routes.cancelRun)
		r.Get("/history", routes.listHistory)
	})
	return r
}

func agentResponse(e *executor.Executor) AgentResponse {
	queued := e.QueuedJobs()
	if queued == nil {
		queued = []job.Job{}
	}
	return AgentResponse{ExecutorStatus: e.Status(), Queue: queued}
}

func (rr *Routes) listAgents(w http.ResponseWriter, _ *http.Request) {
	executors := rr.controllers.Executors()
	response := AgentListResponse{Agents: make([]AgentResponse, 0, len(executors))}
	for _, e := range executors {
		response.Agents = append(response.Agents, agentResponse(e))
	}
	common.WriteJSONResponse(w, response, http.StatusOK)
}

// executor resolves the agent of the request, writing the error response when it fails
func (rr *Routes) executor(w http.ResponseWriter, r *http.Request) (string, *executor.Executor, bool) {
	agentID, err := common.IDParam(r, "agent")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	e, ok := rr.controllers.Executor(agentID)
	if !ok {
		common.WriteErrorResponse(w, "agent not found: "+agentID, http.StatusNotFound)
		return agentID, nil, false
	}
	return agentID, e, true
}

func (rr *Routes) getAgent(w http.ResponseWriter, r *http.Request) {
	_, e, ok := rr.executor(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, agentResponse(e), http.StatusOK)
}

func (rr *Routes) addJob(w http.ResponseWriter, r *http.Request) {
	agentID, e, ok := rr.executor(w, r)
	if !ok {
		return
	}

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	runProfileType, err := job.ParseRunProfileType(req.RunProfileType)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	j := job.Job{
		RunProfileName: req.RunProfileName,
		RunProfileType: runProfileType,
		Partition:      req.Partition,
		RunImmediate:   req.RunImmediate,
		Exclusive:      req.Exclusive,
	}
	if j.IsEmpty() {
		common.WriteErrorResponse(w, "runProfileName or runProfileType is required", http.StatusBadRequest)
		return
	}

	outcome := e.Add(j, SourceAPI)
	slog.Info("Run requested through the API", "agent", agentID, "job", j.String(), "outcome", outcome.String())

	code := http.StatusAccepted
	switch {
	case outcome == queue.Unresolved:
		common.WriteErrorResponse(w, "no run profile configured for "+j.String(), http.StatusUnprocessableEntity)
		return
	case !outcome.Accepted():
		code = http.StatusOK
	}
	common.WriteJSONResponse(w, JobResponse{Outcome: outcome.String(), Queue: e.Status().QueueSnapshot}, code)
}

func (rr *Routes) startAgent(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := rr.executor(w, r)
	if !ok {
		return
	}
	if err := rr.controllers.StartAgent(agentID); err != nil {
		rr.writeControlError(w, agentID, err)
		return
	}
	rr.writeAgent(w, agentID)
}

func (rr *Routes) stopAgent(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := rr.executor(w, r)
	if !ok {
		return
	}
	if err := rr.controllers.StopAgent(agentID); err != nil {
		rr.writeControlError(w, agentID, err)
		return
	}
	rr.writeAgent(w, agentID)
}

func (rr *Routes) writeAgent(w http.ResponseWriter, agentID string) {
	e, ok := rr.controllers.Executor(agentID)
	if !ok {
		common.WriteErrorResponse(w, "agent not found: "+agentID, http.StatusNotFound)
		return
	}
	common.WriteJSONResponse(w, agentResponse(e), http.StatusOK)
}

func (*Routes) writeControlError(w http.ResponseWriter, agentID string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrAgentNotFound):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, executor.ErrControllerDisabled):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Controller operation failed", "agent", agentID, "error", err)
		common.WriteErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func (rr *Routes) cancelRun(w http.ResponseWriter, r *http.Request) {
	_, e, ok := rr.executor(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, CancelResponse{Cancelled: e.CancelRun()}, http.StatusOK)
}

func (rr *Routes) listHistory(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := rr.executor(w, r)
	if !ok {
		return
	}
	if rr.history == nil {
		common.WriteErrorResponse(w, "run history is not enabled", http.StatusNotFound)
		return
	}

	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			common.WriteErrorResponse(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := rr.history.List(r.Context(), agentID, limit)
	if err != nil {
		slog.Error("Failed to list run history", "agent", agentID, "error", err)
		common.WriteErrorResponse(w, "failed to list run history", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, HistoryResponse{Runs: runs}, http.StatusOK)
}
