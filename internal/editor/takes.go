package editor

import (
	"net/http"

	"github.com/MrWong99/vocalparam/internal/recording"
)

func (s *Server) handleStartTake(w http.ResponseWriter, r *http.Request) {
	var line recording.Line
	if err := decodeJSON(w, r, &line); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := line.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	st, err := s.takes.Start(r.Context(), line)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleCurrentTake(w http.ResponseWriter, r *http.Request) {
	st, ok := s.takes.Status()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Message: "no take has been started"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStopTake finalizes the current take before its planned length.
// A take stopped before its tail beat answers 422 with the integrity
// detail.
func (s *Server) handleStopTake(w http.ResponseWriter, r *http.Request) {
	st, err := s.takes.Stop(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type acceptResponse struct {
	Alias      string `json:"alias"`
	Generation uint64 `json:"generation"`
}

// handleAcceptTake stores the take and queues estimation. Markers arrive
// later over /ws, hence 202.
func (s *Server) handleAcceptTake(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	gen, err := s.takes.Accept(r.Context(), alias)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptResponse{Alias: alias, Generation: gen})
}

func (s *Server) handleDiscardTake(w http.ResponseWriter, r *http.Request) {
	if err := s.takes.Discard(r.Context(), r.PathValue("alias")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayTake(w http.ResponseWriter, r *http.Request) {
	if err := s.takes.Play(r.Context(), r.PathValue("alias")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
