package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soaringjerry/mofasa/internal/models"
)

// participantRowID resolves the internal row id of a participant label. Labels
// are unique per scope only; the oldest matching row wins.
func participantRowID(ctx context.Context, q DBTX, projectID int64, participantID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM participants WHERE projectId = ? AND participantId = ? ORDER BY id LIMIT 1`,
		projectID, participantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup participant %s: %w", participantID, err)
	}
	return id, nil
}

// GetParticipant returns one participant with its answers.
func (s *Store) GetParticipant(ctx context.Context, projectID int64, participantID string) (*models.Participant, error) {
	rowID, err := participantRowID(ctx, s.db, projectID, participantID)
	if err != nil {
		return nil, err
	}
	var (
		p                        models.Participant
		name, summary, interview sql.NullString
		createdAt, updatedAt     sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `SELECT id, participantId, name, summary, interviewText, createdAt, updatedAt
    FROM participants WHERE id = ?`, rowID).Scan(&p.ID, &p.ParticipantID, &name, &summary, &interview, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("load participant %s: %w", participantID, err)
	}
	p.Name = name.String
	p.Summary = summary.String
	p.InterviewText = interview.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.Answers = models.Answers{}
	err = s.queryEach(ctx, s.db, "load participant answers",
		`SELECT section, questionKey, value FROM answers WHERE participantId = ? ORDER BY id`, []any{rowID},
		func(r rowScanner) error {
			var (
				section, key string
				value        sql.NullString
			)
			if err := r.Scan(&section, &key, &value); err != nil {
				return err
			}
			if p.Answers[section] == nil {
				p.Answers[section] = map[string]any{}
			}
			p.Answers[section][key] = decodeAnswer(key, value)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateParticipantInterview stores the raw interview transcript.
func (s *Store) UpdateParticipantInterview(ctx context.Context, projectID int64, participantID, text string) error {
	return s.updateParticipantField(ctx, "interviewText", projectID, participantID, text)
}

// UpdateParticipantSummary stores the participant summary.
func (s *Store) UpdateParticipantSummary(ctx context.Context, projectID int64, participantID, text string) error {
	return s.updateParticipantField(ctx, "summary", projectID, participantID, text)
}

func (s *Store) updateParticipantField(ctx context.Context, column string, projectID int64, participantID, text string) error {
	rowID, err := participantRowID(ctx, s.db, projectID, participantID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE participants SET %s = ?, updatedAt = ? WHERE id = ?`, column),
		toNullString(text), formatTime(time.Time{}), rowID)
	if err != nil {
		return fmt.Errorf("update participant %s %s: %w", participantID, column, err)
	}
	return nil
}

// UpdateParticipantAnswers replaces all answers of one participant. An unknown
// participant is logged and skipped without error.
func (s *Store) UpdateParticipantAnswers(ctx context.Context, projectID int64, participantID string, answers models.Answers) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rowID, err := participantRowID(ctx, tx, projectID, participantID)
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("participant not found, answers not saved", "project_id", projectID, "participant_id", participantID)
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE participantId = ?`, rowID); err != nil {
			return fmt.Errorf("clear answers for %s: %w", participantID, err)
		}
		if err := insertAnswers(ctx, tx, rowID, answers); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET updatedAt = ? WHERE id = ?`, formatTime(time.Time{}), rowID); err != nil {
			return fmt.Errorf("touch participant %s: %w", participantID, err)
		}
		return nil
	})
}
