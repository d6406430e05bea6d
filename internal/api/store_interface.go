package api

import (
	"context"

	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/ollama"
	"github.com/soaringjerry/mofasa/internal/services"
)

// Store is the repository surface the HTTP layer serves. *db.Store
// implements it.
type Store interface {
	services.QuestionStore
	services.AnalysisStore
	services.BundleStore

	GetAllProjects(ctx context.Context) ([]models.Project, error)
	SaveAllProjects(ctx context.Context, projects []models.Project) error
	AddProject(ctx context.Context, p models.Project) (int64, error)
	UpdateProject(ctx context.Context, p models.Project) error
	DeleteProject(ctx context.Context, id int64) error
	SaveSituationDesign(ctx context.Context, scopeID int64, d models.SituationDesign) error

	UpdateParticipantInterview(ctx context.Context, projectID int64, participantID, text string) error
	UpdateParticipantSummary(ctx context.Context, projectID int64, participantID, text string) error
	UpdateParticipantAnswers(ctx context.Context, projectID int64, participantID string, answers models.Answers) error

	ListQuestionnaire(ctx context.Context) ([]models.QuestionnaireItem, error)
	ListFactors(ctx context.Context) ([]models.Factor, error)

	GetUndesirableRules(ctx context.Context, scopeID int64) ([]string, error)
	SaveUndesirableRules(ctx context.Context, scopeID int64, rules []string) error
	AddUndesirableRule(ctx context.Context, scopeID int64, rule string) error
	RemoveUndesirableRule(ctx context.Context, scopeID int64, rule string) error
}

// LLM is the Ollama surface the HTTP layer needs. *ollama.Client
// implements it.
type LLM interface {
	services.Generator
	CheckStatus(ctx context.Context) ollama.Status
}
