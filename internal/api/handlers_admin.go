package api

import "net/http"

// handleResetSystem truncates the task store and purges the dispatch
// queue's stream key. Requires admin, enforced by the requireAdmin
// middleware wrapping this handler in the route table.
func (s *Server) handleResetSystem(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.ResetSystem(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Purge(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message("System purged successfully. All records cleared and IDs reset."))
}
