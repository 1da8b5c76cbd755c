package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beaverqueue/jobrunner/internal/auth"
	"github.com/beaverqueue/jobrunner/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, newError(kindInputValidation, "username and password are required"))
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.users.CreateUser(r.Context(), req.Username, hashed); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, newError(kindConflict, "username already registered"))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, message("User created successfully"))
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	IsAdmin     bool   `json:"is_admin"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, newError(kindInputValidation, "username and password are required"))
		return
	}

	user, err := s.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, newError(kindAuth, "incorrect username or password"))
			return
		}
		writeError(w, err)
		return
	}
	if !auth.VerifyPassword(req.Password, user.HashedPassword) {
		writeError(w, newError(kindAuth, "incorrect username or password"))
		return
	}

	token, err := s.issuer.Issue(user.Username, user.ID, user.IsAdmin)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer", IsAdmin: user.IsAdmin})
}
