package editor

import (
	"fmt"
	"net/http"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/store"
)

// markersView carries the five markers in milliseconds, the unit shown in
// the parameter table.
type markersView struct {
	Offset       float64 `json:"offset"`
	Overlap      float64 `json:"overlap"`
	PreUtterance float64 `json:"preutterance"`
	Consonant    float64 `json:"consonant"`
	Cutoff       float64 `json:"cutoff"`
}

type entryView struct {
	Alias      string       `json:"alias"`
	Status     store.Status `json:"status"`
	Fallback   bool         `json:"fallback"`
	Generation uint64       `json:"generation"`
	SampleRate int          `json:"sample_rate"`
	DurationMS float64      `json:"duration_ms"`
	WAVPath    string       `json:"wav_path,omitempty"`
	Error      string       `json:"error,omitempty"`
	Markers    *markersView `json:"markers,omitempty"`
}

func viewOf(r store.Record) entryView {
	v := entryView{
		Alias:      r.Alias,
		Status:     r.Status,
		Fallback:   r.Fallback,
		Generation: r.Generation,
		SampleRate: r.SampleRate,
		DurationMS: oto.SamplesToMS(r.Duration, r.SampleRate),
		WAVPath:    r.WAVPath,
		Error:      r.Error,
	}
	if r.HasEntry() {
		e := r.Entry
		v.Markers = &markersView{
			Offset:       oto.SamplesToMS(e.Offset, r.SampleRate),
			Overlap:      oto.SamplesToMS(e.Overlap, r.SampleRate),
			PreUtterance: oto.SamplesToMS(e.PreUtterance, r.SampleRate),
			Consonant:    oto.SamplesToMS(e.Consonant, r.SampleRate),
			Cutoff:       oto.SamplesToMS(e.Cutoff, r.SampleRate),
		}
	}
	return v
}

// editResponse answers marker edits. A rejected edit is not an HTTP
// failure: Accepted is false and Entry holds the retained values.
type editResponse struct {
	Accepted bool      `json:"accepted"`
	Entry    entryView `json:"entry"`
}

func parseSource(s string) (store.Source, error) {
	switch store.Source(s) {
	case "", store.SourceTable:
		return store.SourceTable, nil
	case store.SourceCanvas:
		return store.SourceCanvas, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	recs := s.store.List(r.Context())
	views := make([]entryView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("alias"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

type setMarkerRequest struct {
	ValueMS *float64 `json:"value_ms"`
	Source  string   `json:"source"`
}

// handleSetMarker sets one marker. Values are milliseconds. A cutoff sent
// by the canvas is an absolute position and is converted to the stored
// negative-from-end form; the table sends the stored form directly.
func (s *Server) handleSetMarker(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	m, err := oto.ParseMarker(r.PathValue("marker"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var req setMarkerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.ValueMS == nil {
		badRequest(w, "value_ms is required")
		return
	}
	src, err := parseSource(req.Source)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rec, err := s.store.Get(r.Context(), alias)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value := oto.MSToSamples(*req.ValueMS, rec.SampleRate)
	if m == oto.MarkerCutoff && src == store.SourceCanvas {
		value = oto.CutoffFromPosition(value, rec.Duration)
	}

	updated, accepted, err := s.store.SetMarker(r.Context(), alias, m, value, src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Accepted: accepted, Entry: viewOf(updated)})
}

type dragRequest struct {
	DeltaMS *float64 `json:"delta_ms"`
	Source  string   `json:"source"`
}

// handleDrag moves offset, overlap, preutterance and consonant together.
func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")

	var req dragRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.DeltaMS == nil {
		badRequest(w, "delta_ms is required")
		return
	}
	src, err := parseSource(req.Source)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rec, err := s.store.Get(r.Context(), alias)
	if err != nil {
		writeError(w, r, err)
		return
	}
	delta := oto.MSToSamples(*req.DeltaMS, rec.SampleRate)
	updated, accepted, err := s.store.Drag(r.Context(), alias, delta, src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Accepted: accepted, Entry: viewOf(updated)})
}

type spectrogramView struct {
	WindowSize int         `json:"window_size"`
	Hop        int         `json:"hop"`
	Frames     [][]float64 `json:"frames"`
}

type analysisView struct {
	Alias       string           `json:"alias"`
	SampleRate  int              `json:"sample_rate"`
	EnvelopeHop int              `json:"envelope_hop"`
	Envelope    []float64        `json:"envelope"`
	OnsetMS     float64          `json:"onset_ms"`
	Fallback    bool             `json:"fallback"`
	Spectrogram *spectrogramView `json:"spectrogram,omitempty"`
}

// handleAnalysis returns the drawing data for the canvas. The full
// spectrogram is large and only included with ?spectrogram=1.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	rec, err := s.store.Get(r.Context(), alias)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, ok := s.analyzer.Result(alias)
	if !ok || res.Generation != rec.Generation {
		if rec.Take == nil {
			writeError(w, r, fmt.Errorf("editor: %q has no audio: %w", alias, store.ErrNotFound))
			return
		}
		if res, err = s.analyzer.Analyze(r.Context(), rec.Take); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, analysisViewOf(res, rec.SampleRate, r.URL.Query().Get("spectrogram") == "1"))
}

func analysisViewOf(res *analysis.Result, rate int, withGrid bool) analysisView {
	v := analysisView{
		Alias:       res.Alias,
		SampleRate:  rate,
		EnvelopeHop: res.Envelope.Hop,
		Envelope:    res.Envelope.Values,
		OnsetMS:     oto.SamplesToMS(res.Estimate.Onset, rate),
		Fallback:    res.Estimate.Fallback,
	}
	if withGrid {
		v.Spectrogram = &spectrogramView{
			WindowSize: res.Grid.WindowSize,
			Hop:        res.Grid.Hop,
			Frames:     res.Grid.Frames,
		}
	}
	return v
}

// handleExportOto writes every estimated record as oto.ini text.
func (s *Server) handleExportOto(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="oto.ini"`)
	n, err := s.store.WriteOto(r.Context(), w)
	if err != nil {
		observe.Logger(r.Context()).Warn("oto export failed", "written", n, "err", err)
	}
}
