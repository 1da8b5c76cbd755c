package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beaverqueue/jobrunner/internal/auth"
	"github.com/beaverqueue/jobrunner/internal/store"
)

type profileUpdateRequest struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

type profileUpdateResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, newError(kindInputValidation, "malformed request body"))
		return
	}

	if req.Username != nil && *req.Username != "" {
		if err := s.users.UpdateUsername(r.Context(), claims.UserID, *req.Username); err != nil {
			if errors.Is(err, store.ErrUsernameTaken) {
				writeError(w, newError(kindConflict, "username already taken"))
				return
			}
			writeError(w, err)
			return
		}
	}

	if req.Password != nil && *req.Password != "" {
		hashed, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.users.UpdatePassword(r.Context(), claims.UserID, hashed); err != nil {
			writeError(w, err)
			return
		}
	}

	user, err := s.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profileUpdateResponse{Message: "Profile updated successfully", Username: user.Username})
}

type quotaResponse struct {
	Quota     int `json:"quota"`
	Used      int `json:"used"`
	Available int `json:"available"`
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, newError(kindNotFound, "user not found"))
			return
		}
		writeError(w, err)
		return
	}

	used, err := s.tasks.CountTasksForOwner(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	available := user.TaskQuota - used
	if available < 0 {
		available = 0
	}
	writeJSON(w, http.StatusOK, quotaResponse{Quota: user.TaskQuota, Used: used, Available: available})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
