package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/services"
)

// GET /api/projects
func (rt *Router) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := rt.store.GetAllProjects(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// PUT /api/projects replaces every project with the body.
func (rt *Router) handleSaveAllProjects(w http.ResponseWriter, r *http.Request) {
	var projects []models.Project
	if err := decodeBody(r, &projects); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.store.SaveAllProjects(r.Context(), projects); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(projects)})
}

// POST /api/projects
func (rt *Router) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := decodeBody(r, &p); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		rt.writeError(w, r, services.NewInvalidError("name required"))
		return
	}
	id, err := rt.store.AddProject(r.Context(), p)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// GET /api/projects/{id}
func (rt *Router) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.store.GetProject(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PUT /api/projects/{id} updates scalar fields only.
func (rt *Router) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var p models.Project
	if err := decodeBody(r, &p); err != nil {
		rt.writeError(w, r, err)
		return
	}
	p.ID = id
	if err := rt.store.UpdateProject(r.Context(), p); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DELETE /api/projects/{id}
func (rt *Router) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.store.DeleteProject(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bundleRequest struct {
	Passphrase string           `json:"passphrase"`
	Bundle     *services.Bundle `json:"bundle,omitempty"`
}

// POST /api/projects/{id}/export {passphrase?}
func (rt *Router) handleExportProject(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			rt.writeError(w, r, err)
			return
		}
	}
	b, err := rt.bundles.Export(r.Context(), r.PathValue("id"), req.Passphrase)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/projects/import {bundle, passphrase?}
func (rt *Router) handleImportProject(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := decodeBody(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	id, err := rt.bundles.Import(r.Context(), req.Bundle, req.Passphrase)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// GET /api/projects/{id}/answers.csv
func (rt *Router) handleAnswersCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.store.GetProject(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	b, err := services.ExportAnswersCSV(p)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=project-%d-answers.csv", id))
	_, _ = w.Write(b)
}

// PUT /api/scopes/{scopeId}/design
func (rt *Router) handleSaveDesign(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathScopeID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var d models.SituationDesign
	if err := decodeBody(r, &d); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.store.SaveSituationDesign(r.Context(), scopeID, d); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/projects/{id}/participants/{pid}
func (rt *Router) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.store.GetParticipant(r.Context(), id, r.PathValue("pid"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type textBody struct {
	Text string `json:"text"`
}

func (rt *Router) handleParticipantInterview(w http.ResponseWriter, r *http.Request) {
	rt.updateParticipantText(w, r, rt.store.UpdateParticipantInterview)
}

func (rt *Router) handleParticipantSummary(w http.ResponseWriter, r *http.Request) {
	rt.updateParticipantText(w, r, rt.store.UpdateParticipantSummary)
}

func (rt *Router) updateParticipantText(w http.ResponseWriter, r *http.Request,
	update func(ctx context.Context, projectID int64, participantID, text string) error) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var body textBody
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := update(r.Context(), id, r.PathValue("pid"), body.Text); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PUT /api/projects/{id}/participants/{pid}/answers replaces the answer set.
// An unknown participant is accepted and ignored.
func (rt *Router) handleParticipantAnswers(w http.ResponseWriter, r *http.Request) {
	id, err := pathProjectID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var answers models.Answers
	if err := decodeBody(r, &answers); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.store.UpdateParticipantAnswers(r.Context(), id, r.PathValue("pid"), answers); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
