// Package api implements the control plane's HTTP surface: account
// management, task submission and lifecycle, and the admin operations,
// backed by the task store and dispatch queue.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/beaverqueue/jobrunner/internal/auth"
	"github.com/beaverqueue/jobrunner/internal/metrics"
	"github.com/beaverqueue/jobrunner/internal/store"
	"github.com/beaverqueue/jobrunner/pkg/types"
)

// UserStore is the subset of the task store the API needs for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, hashedPassword string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	GetUserByID(ctx context.Context, id int64) (*types.User, error)
	UpdateUsername(ctx context.Context, userID int64, username string) error
	UpdatePassword(ctx context.Context, userID int64, hashedPassword string) error
	ListUsers(ctx context.Context) ([]store.UserWithTaskCount, error)
}

// TaskStore is the subset of the task store the API needs for tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, p store.NewTaskParams) (*types.Task, error)
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	ListTasks(ctx context.Context, skip, limit int) ([]types.Task, error)
	CountTasksForOwner(ctx context.Context, ownerID int64) (int, error)
	CancelTask(ctx context.Context, id, ownerID int64) (*types.Task, error)
	KillAllForOwner(ctx context.Context, ownerID int64) (int64, error)
	DeleteAllForOwner(ctx context.Context, ownerID int64) (int64, error)
	ResetSystem(ctx context.Context) error
}

// Queue is the subset of the dispatch queue the API needs: publish on
// creation, purge on admin reset, and a reachability check for health.
type Queue interface {
	Append(ctx context.Context, taskID int64) error
	Purge(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Pinger reports reachability, used by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds every dependency the HTTP handlers need.
type Server struct {
	users   UserStore
	tasks   TaskStore
	queue   Queue
	db      Pinger
	issuer  *auth.TokenIssuer
	metrics *metrics.Collector
}

// NewServer wires a Server's dependencies.
func NewServer(users UserStore, tasks TaskStore, q Queue, db Pinger, issuer *auth.TokenIssuer, m *metrics.Collector) *Server {
	return &Server{users: users, tasks: tasks, queue: q, db: db, issuer: issuer, metrics: m}
}

// NewRouter builds the full route table.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/users/me", s.requireAuth(s.handleUpdateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/users/me/quota", s.requireAuth(s.handleQuota)).Methods(http.MethodGet)

	r.HandleFunc("/tasks", s.requireAuth(s.handleCreateTask)).Methods(http.MethodPost)
	r.HandleFunc("/tasks", s.requireAuth(s.handleListTasks)).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.requireAuth(s.handleDeleteAllTasks)).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/kill-all", s.requireAuth(s.handleKillAll)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.requireAuth(s.handleGetTask)).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/cancel", s.requireAuth(s.handleCancelTask)).Methods(http.MethodPost)

	r.HandleFunc("/admin/reset-system", s.requireAdmin(s.handleResetSystem)).Methods(http.MethodPost)
	r.HandleFunc("/admin/users", s.requireAdmin(s.handleListUsers)).Methods(http.MethodGet)

	return r
}
