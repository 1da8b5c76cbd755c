package api

import "net/http"

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Redis    string `json:"redis"`
	Postgres string `json:"postgres"`
}

// handleHealth is a superset of the required {status, service} shape: it
// also reports queue and store reachability, so a load balancer or an
// operator can tell a degraded dependency from a dead process.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "api", Redis: "ok", Postgres: "ok"}

	ctx := r.Context()
	if err := s.queue.Ping(ctx); err != nil {
		resp.Redis = "unreachable"
		resp.Status = "degraded"
	}
	if err := s.db.Ping(ctx); err != nil {
		resp.Postgres = "unreachable"
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}
