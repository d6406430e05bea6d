package api

import (
	"net/http"
	"strings"

	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/services"
)

// GET /api/questionnaire
func (rt *Router) handleQuestionnaire(w http.ResponseWriter, r *http.Request) {
	items, err := rt.store.ListQuestionnaire(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GET /api/factors
func (rt *Router) handleFactors(w http.ResponseWriter, r *http.Request) {
	factors, err := rt.store.ListFactors(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, factors)
}

// GET /api/projects/{id}/questions?enabled=true
func (rt *Router) handleProjectQuestions(w http.ResponseWriter, r *http.Request) {
	var (
		sections []models.SectionQuestions
		err      error
	)
	if v := r.URL.Query().Get("enabled"); v == "1" || strings.EqualFold(v, "true") {
		sections, err = rt.questions.EnabledProjectQuestions(r.Context(), r.PathValue("id"))
	} else {
		sections, err = rt.questions.ProjectQuestions(r.Context(), r.PathValue("id"))
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

// PUT /api/projects/{id}/questions/{questionId} {isEnabled}
func (rt *Router) handleQuestionStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsEnabled *bool `json:"isEnabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if body.IsEnabled == nil {
		rt.writeError(w, r, services.NewInvalidError("isEnabled required"))
		return
	}
	err := rt.questions.UpdateProjectQuestionStatus(r.Context(), r.PathValue("id"), r.PathValue("questionId"), *body.IsEnabled)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/scopes/{scopeId}/undesirable-rules
func (rt *Router) handleListRules(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathScopeID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rules, err := rt.store.GetUndesirableRules(r.Context(), scopeID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scopeId": scopeID, "rules": rules})
}

// PUT /api/scopes/{scopeId}/undesirable-rules {rules}
func (rt *Router) handleSaveRules(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathScopeID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var body struct {
		Rules []string `json:"rules"`
	}
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.store.SaveUndesirableRules(r.Context(), scopeID, body.Rules); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/scopes/{scopeId}/undesirable-rules {rule}
func (rt *Router) handleAddRule(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathScopeID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var body struct {
		Rule string `json:"rule"`
	}
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Rule) == "" {
		rt.writeError(w, r, services.NewInvalidError("rule required"))
		return
	}
	if err := rt.store.AddUndesirableRule(r.Context(), scopeID, body.Rule); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DELETE /api/scopes/{scopeId}/undesirable-rules?rule=...
func (rt *Router) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	scopeID, err := pathScopeID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rule := r.URL.Query().Get("rule")
	if rule == "" {
		rt.writeError(w, r, services.NewInvalidError("rule required"))
		return
	}
	if err := rt.store.RemoveUndesirableRule(r.Context(), scopeID, rule); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
