package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/services"
)

const maxBodyBytes = 32 << 20

type Router struct {
	store     Store
	llm       LLM
	questions *services.QuestionService
	analysis  *services.AnalysisService
	bundles   *services.BundleService
	log       *slog.Logger
}

func NewRouter(store Store, llm LLM, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     store,
		llm:       llm,
		questions: services.NewQuestionService(store, logger),
		analysis:  services.NewAnalysisService(store, llm, logger),
		bundles:   services.NewBundleService(store, logger),
		log:       logger,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", rt.handleHealth)

	mux.HandleFunc("GET /api/projects", rt.handleListProjects)
	mux.HandleFunc("PUT /api/projects", rt.handleSaveAllProjects)
	mux.HandleFunc("POST /api/projects", rt.handleAddProject)
	mux.HandleFunc("POST /api/projects/import", rt.handleImportProject)
	mux.HandleFunc("GET /api/projects/{id}", rt.handleGetProject)
	mux.HandleFunc("PUT /api/projects/{id}", rt.handleUpdateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", rt.handleDeleteProject)
	mux.HandleFunc("POST /api/projects/{id}/export", rt.handleExportProject)
	mux.HandleFunc("GET /api/projects/{id}/answers.csv", rt.handleAnswersCSV)
	mux.HandleFunc("PUT /api/scopes/{scopeId}/design", rt.handleSaveDesign)

	mux.HandleFunc("GET /api/projects/{id}/participants/{pid}", rt.handleGetParticipant)
	mux.HandleFunc("PUT /api/projects/{id}/participants/{pid}/interview", rt.handleParticipantInterview)
	mux.HandleFunc("PUT /api/projects/{id}/participants/{pid}/summary", rt.handleParticipantSummary)
	mux.HandleFunc("PUT /api/projects/{id}/participants/{pid}/answers", rt.handleParticipantAnswers)

	mux.HandleFunc("GET /api/questionnaire", rt.handleQuestionnaire)
	mux.HandleFunc("GET /api/factors", rt.handleFactors)
	mux.HandleFunc("GET /api/projects/{id}/questions", rt.handleProjectQuestions)
	mux.HandleFunc("PUT /api/projects/{id}/questions/{questionId}", rt.handleQuestionStatus)

	mux.HandleFunc("GET /api/scopes/{scopeId}/undesirable-rules", rt.handleListRules)
	mux.HandleFunc("PUT /api/scopes/{scopeId}/undesirable-rules", rt.handleSaveRules)
	mux.HandleFunc("POST /api/scopes/{scopeId}/undesirable-rules", rt.handleAddRule)
	mux.HandleFunc("DELETE /api/scopes/{scopeId}/undesirable-rules", rt.handleRemoveRule)

	mux.HandleFunc("GET /api/llm/status", rt.handleLLMStatus)
	mux.HandleFunc("POST /api/projects/{id}/participants/{pid}/summary/generate", rt.handleGenerateSummary)
	mux.HandleFunc("POST /api/projects/{id}/participants/{pid}/answers/extract", rt.handleExtractAnswers)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": "MoFASA API"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps service and repository errors onto HTTP status codes.
// Unclassified errors are logged and reported as 500 without detail.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusFor(se.Code), errorBody{Error: se.Message, Code: string(se.Code)})
		return
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: string(services.ErrorNotFound)})
	case errors.Is(err, db.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: string(services.ErrorInvalid)})
	default:
		rt.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnavailable:
		return http.StatusServiceUnavailable
	case services.ErrorTimeout:
		return http.StatusGatewayTimeout
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return services.NewInvalidError("invalid JSON body: " + err.Error())
	}
	return nil
}

func pathProjectID(r *http.Request) (int64, error) {
	return services.ParseProjectID(r.PathValue("id"))
}

func pathScopeID(r *http.Request) (int64, error) {
	raw := r.PathValue("scopeId")
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, services.NewInvalidError("invalid scope id: " + strconv.Quote(raw))
	}
	return id, nil
}
