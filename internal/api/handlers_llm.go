package api

import (
	"encoding/json"
	"net/http"
)

// GET /api/llm/status
func (rt *Router) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.llm.CheckStatus(r.Context()))
}

// POST /api/projects/{id}/participants/{pid}/summary/generate[?stream=1]
//
// With stream=1 the body is newline-delimited JSON: {"chunk":...} lines as
// the model produces them, then one {"summary":...} or {"error":...} line.
// The summary is not saved.
func (rt *Router) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	projectID, participantID := r.PathValue("id"), r.PathValue("pid")
	if r.URL.Query().Get("stream") != "1" {
		summary, err := rt.analysis.GenerateSummary(r.Context(), projectID, participantID, nil)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	onChunk := func(s string) {
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		_ = enc.Encode(map[string]string{"chunk": s})
		if flusher != nil {
			flusher.Flush()
		}
	}
	summary, err := rt.analysis.GenerateSummary(r.Context(), projectID, participantID, onChunk)
	if err != nil {
		if !started {
			rt.writeError(w, r, err)
			return
		}
		rt.log.Warn("summary stream aborted", "project", projectID, "participant", participantID, "error", err)
		_ = enc.Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = enc.Encode(map[string]string{"summary": summary})
}

// POST /api/projects/{id}/participants/{pid}/answers/extract
func (rt *Router) handleExtractAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := rt.analysis.ExtractAnswers(r.Context(), r.PathValue("id"), r.PathValue("pid"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": answers})
}
