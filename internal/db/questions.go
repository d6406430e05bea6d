package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soaringjerry/mofasa/internal/models"
)

// resolvedEnabled is the override-or-default state of a questionnaire row q
// joined to project_questions pq.
const resolvedEnabled = `COALESCE(pq.isEnabled, q.isEnabled)`

const resolvedQuestionsSQL = `SELECT q.id, q.section, q.questionId, q.questionText, q.questionType, q.options, q.factors, q.orderIndex, ` + resolvedEnabled + `
    FROM questionnaire q
    LEFT JOIN project_questions pq ON pq.projectId = ? AND pq.questionId = q.questionId AND pq.section = q.section`

// QuestionSection returns the section a question belongs to.
func (s *Store) QuestionSection(ctx context.Context, questionID string) (string, error) {
	var section string
	err := s.db.QueryRowContext(ctx, `SELECT section FROM questionnaire WHERE questionId = ? ORDER BY id LIMIT 1`, questionID).Scan(&section)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup question %s: %w", questionID, err)
	}
	return section, nil
}

// CountEnabledInSection counts the questions of section that are effectively
// enabled for projectID.
func (s *Store) CountEnabledInSection(ctx context.Context, projectID int64, section string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questionnaire q
    LEFT JOIN project_questions pq ON pq.projectId = ? AND pq.questionId = q.questionId AND pq.section = q.section
    WHERE q.section = ? AND `+resolvedEnabled+` = 1`, projectID, section).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count enabled questions in %s: %w", section, err)
	}
	return n, nil
}

// UpsertQuestionOverride records a per-project enabled flag for one question.
func (s *Store) UpsertQuestionOverride(ctx context.Context, projectID int64, questionID, section string, enabled bool) error {
	return upsertOverride(ctx, s.db, projectID, questionID, section, enabled)
}

func upsertOverride(ctx context.Context, q DBTX, projectID int64, questionID, section string, enabled bool) error {
	_, err := q.ExecContext(ctx, `INSERT INTO project_questions (projectId, questionId, section, isEnabled)
      VALUES (?, ?, ?, ?)
      ON CONFLICT(projectId, questionId, section) DO UPDATE SET isEnabled = excluded.isEnabled`,
		projectID, questionID, section, boolToInt64(enabled))
	if err != nil {
		return fmt.Errorf("upsert override %s/%s: %w", section, questionID, err)
	}
	return nil
}

// GetProjectQuestions returns the full questionnaire with enabled flags
// resolved for projectID, grouped by section.
func (s *Store) GetProjectQuestions(ctx context.Context, projectID int64) ([]models.SectionQuestions, error) {
	return s.projectQuestions(ctx, projectID, false)
}

// GetEnabledProjectQuestions is GetProjectQuestions restricted to the
// effectively enabled questions.
func (s *Store) GetEnabledProjectQuestions(ctx context.Context, projectID int64) ([]models.SectionQuestions, error) {
	return s.projectQuestions(ctx, projectID, true)
}

func (s *Store) projectQuestions(ctx context.Context, projectID int64, onlyEnabled bool) ([]models.SectionQuestions, error) {
	query := resolvedQuestionsSQL
	if onlyEnabled {
		query += ` WHERE ` + resolvedEnabled + ` = 1`
	}
	query += ` ORDER BY ` + sectionOrderSQL("q.section") + `, q.orderIndex, q.id`

	var out []models.SectionQuestions
	err := s.queryEach(ctx, s.db, "project questions", query, []any{projectID}, func(r rowScanner) error {
		item, err := s.scanQuestion(r)
		if err != nil {
			return err
		}
		if n := len(out); n == 0 || out[n-1].Section != item.Section {
			out = append(out, models.SectionQuestions{Section: item.Section})
		}
		last := &out[len(out)-1]
		last.Questions = append(last.Questions, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.SectionQuestions{}
	}
	return out, nil
}
