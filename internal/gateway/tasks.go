package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/auth"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/planning"
	"github.com/haasonsaas/nexushub/internal/tasks"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// TaskController drives the lifecycle of a tenant's tasks.
type TaskController interface {
	Get(ctx context.Context, tenantID, taskID string) (*models.Task, error)
	List(ctx context.Context, tenantID string, status models.TaskStatus, limit, offset int) ([]*models.Task, error)
	Resume(ctx context.Context, tenantID, taskID string) (*models.Task, error)
	Pause(ctx context.Context, tenantID, taskID string) error
	Cancel(ctx context.Context, tenantID, taskID string) error
}

// PlanRefiner moves a plan's step statuses forward.
type PlanRefiner interface {
	RefinePlan(ctx context.Context, tc *models.TenantContext, planID string, currentStep int) (*models.Plan, error)
}

// WithTasks serves the /v1/tasks routes.
func WithTasks(tc TaskController) Option {
	return func(s *Server) { s.tasks = tc }
}

// WithPlans serves the /v1/plans routes.
func WithPlans(pr PlanRefiner) Option {
	return func(s *Server) { s.plans = pr }
}

const defaultTaskListLimit = 50

type taskListBody struct {
	Tasks []*models.Task `json:"tasks"`
}

type taskStatusBody struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

type refineRequest struct {
	CurrentStep int `json:"current_step"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultTaskListLimit)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid offset"})
		return
	}
	list, err := s.tasks.List(r.Context(), tenantID, models.TaskStatus(q.Get("status")), limit, offset)
	if err != nil {
		s.writeLifecycleError(w, tenantID, err)
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, taskListBody{Tasks: list})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	task, err := s.tasks.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		s.writeLifecycleError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	task, err := s.tasks.Resume(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		s.writeLifecycleError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.transitionTask(w, r, models.TaskPaused, s.tasks.Pause)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.transitionTask(w, r, models.TaskFailed, s.tasks.Cancel)
}

func (s *Server) transitionTask(w http.ResponseWriter, r *http.Request, to models.TaskStatus, apply func(context.Context, string, string) error) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	id := r.PathValue("id")
	if err := apply(r.Context(), tenantID, id); err != nil {
		s.writeLifecycleError(w, tenantID, err)
		return
	}
	s.logger.Info("task transitioned", "tenant_id", tenantID, "task_id", id, "status", to)
	writeJSON(w, http.StatusOK, taskStatusBody{TaskID: id, Status: to})
}

func (s *Server) handleRefinePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentStep < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "current_step must be a positive step number"})
		return
	}
	plan, err := s.plans.RefinePlan(r.Context(), &models.TenantContext{TenantID: tenantID}, r.PathValue("id"), req.CurrentStep)
	if err != nil {
		s.writeLifecycleError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// writeLifecycleError reports records of other tenants as missing and
// refused state transitions as conflicts.
func (s *Server) writeLifecycleError(w http.ResponseWriter, tenantID string, err error) {
	if errors.Is(err, tasks.ErrNotFound) || errors.Is(err, planning.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	if fe, ok := faults.As(err); ok && fe.Kind == faults.KindBusinessLogic && !fe.Retryable() {
		errorID := uuid.NewString()
		s.logger.Info("task transition refused", "tenant_id", tenantID, "error_id", errorID, "error", err)
		writeJSON(w, fe.Kind.HTTPStatus(), errorBody{Error: fe.Message, ErrorID: errorID})
		return
	}
	s.writeError(w, err)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
