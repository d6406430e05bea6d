package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soaringjerry/mofasa/internal/models"
)

type QuestionStore interface {
	QuestionSection(ctx context.Context, questionID string) (string, error)
	CountEnabledInSection(ctx context.Context, projectID int64, section string) (int, error)
	UpsertQuestionOverride(ctx context.Context, projectID int64, questionID, section string, enabled bool) error
	GetProjectQuestions(ctx context.Context, projectID int64) ([]models.SectionQuestions, error)
	GetEnabledProjectQuestions(ctx context.Context, projectID int64) ([]models.SectionQuestions, error)
}

// QuestionService owns per-project question overrides and keeps at least one
// question enabled in every section.
type QuestionService struct {
	store QuestionStore
	log   *slog.Logger
}

func NewQuestionService(store QuestionStore, logger *slog.Logger) *QuestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionService{store: store, log: logger}
}

func (s *QuestionService) UpdateProjectQuestionStatus(ctx context.Context, projectID, questionID string, enabled bool) error {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(questionID) == "" {
		return NewInvalidError("question id required")
	}
	section, err := s.store.QuestionSection(ctx, questionID)
	if err != nil {
		return storeError(err, fmt.Sprintf("question %q", questionID))
	}
	if !enabled {
		n, err := s.store.CountEnabledInSection(ctx, pid, section)
		if err != nil {
			return err
		}
		if n <= 1 {
			return NewConflictError(fmt.Sprintf("cannot disable question: section %q must keep at least one enabled question", section))
		}
	}
	if err := s.store.UpsertQuestionOverride(ctx, pid, questionID, section, enabled); err != nil {
		return err
	}
	s.log.Info("question override saved", "project", pid, "question", questionID, "section", section, "enabled", enabled)
	return nil
}

func (s *QuestionService) ProjectQuestions(ctx context.Context, projectID string) ([]models.SectionQuestions, error) {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return nil, err
	}
	return s.store.GetProjectQuestions(ctx, pid)
}

func (s *QuestionService) EnabledProjectQuestions(ctx context.Context, projectID string) ([]models.SectionQuestions, error) {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return nil, err
	}
	return s.store.GetEnabledProjectQuestions(ctx, pid)
}
