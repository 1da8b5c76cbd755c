package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/beaverqueue/jobrunner/internal/store"
	"github.com/beaverqueue/jobrunner/pkg/types"
)

type taskCreateRequest struct {
	InputData         string  `json:"input_data"`
	MaxExecutionTime  *int    `json:"max_execution_time,omitempty"`
	TaskType          *string `json:"task_type,omitempty"`
	SimulatedDuration *int    `json:"simulated_duration,omitempty"`
	Replicas          *int    `json:"replicas,omitempty"`
}

// handleCreateTask admits replicas tasks at once: the quota check and
// every insert run against the same request, matching the reference
// implementation's per-replica loop. Publish to the dispatch queue must
// succeed before the task is reported created; a publish failure after
// the DB insert leaves that one task Pending and aborts the remaining
// replicas, returning what was created so far is not attempted — the
// whole request fails, matching the "publish MUST succeed" invariant.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InputData == "" {
		writeError(w, newError(kindInputValidation, "input_data is required"))
		return
	}

	maxExecutionTime := types.DefaultMaxExecutionTime
	if req.MaxExecutionTime != nil {
		maxExecutionTime = *req.MaxExecutionTime
	}
	taskType := types.DefaultTaskType
	if req.TaskType != nil && *req.TaskType != "" {
		taskType = *req.TaskType
	}
	simulatedDuration := types.DefaultSimulatedDuration
	if req.SimulatedDuration != nil {
		simulatedDuration = *req.SimulatedDuration
	}
	replicas := 1
	if req.Replicas != nil {
		if *req.Replicas < 0 {
			writeError(w, newError(kindInputValidation, "replicas must not be negative"))
			return
		}
		replicas = *req.Replicas
	}

	current, err := s.tasks.CountTasksForOwner(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if current+replicas > user.TaskQuota {
		available := user.TaskQuota - current
		writeError(w, newError(kindQuotaExceeded, fmt.Sprintf("Quota exceeded. Available: %d", available)))
		return
	}

	created := make([]types.Task, 0, replicas)
	for i := 0; i < replicas; i++ {
		task, err := s.tasks.CreateTask(r.Context(), store.NewTaskParams{
			InputData:         req.InputData,
			OwnerID:           claims.UserID,
			TaskType:          taskType,
			MaxExecutionTime:  maxExecutionTime,
			SimulatedDuration: simulatedDuration,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.queue.Append(r.Context(), task.ID); err != nil {
			writeError(w, newError(kindTransientInfra, "failed to publish task to dispatch queue"))
			return
		}
		if s.metrics != nil {
			s.metrics.RecordCreated()
		}
		created = append(created, *task)
	}

	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 20)

	tasks, err := s.tasks.ListTasks(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, newError(kindNotFound, "task not found"))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.tasks.CancelTask(r.Context(), id, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, newError(kindNotFound, "task not found"))
			return
		}
		if errors.Is(err, store.ErrForbidden) {
			writeError(w, newError(kindForbidden, "not authorized to cancel this task"))
			return
		}
		writeError(w, err)
		return
	}

	if s.metrics != nil && task.Status == types.StatusCancelled {
		s.metrics.RecordCancelled()
	}

	if task.Status.IsTerminal() && task.Status != types.StatusCancelled {
		writeJSON(w, http.StatusOK, message("Task already finished"))
		return
	}
	writeJSON(w, http.StatusOK, message("Task cancelled"))
}

func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	n, err := s.tasks.KillAllForOwner(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message(fmt.Sprintf("Terminated %d active tasks", n)))
}

func (s *Server) handleDeleteAllTasks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	n, err := s.tasks.DeleteAllForOwner(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message(fmt.Sprintf("Successfully deleted %d tasks from your history.", n)))
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, newError(kindInputValidation, "invalid task id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
