package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetUndesirableRules lists a scope's undesirable rules in insertion order.
func (s *Store) GetUndesirableRules(ctx context.Context, scopeID int64) ([]string, error) {
	out := []string{}
	err := s.queryEach(ctx, s.db, "get undesirable rules",
		`SELECT rule FROM undesirable_rules WHERE scopeId = ? ORDER BY id`, []any{scopeID},
		func(r rowScanner) error {
			var rule string
			if err := r.Scan(&rule); err != nil {
				return err
			}
			out = append(out, rule)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveUndesirableRules replaces the rule set of one scope. Duplicates in
// rules collapse to their first occurrence.
func (s *Store) SaveUndesirableRules(ctx context.Context, scopeID int64, rules []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM undesirable_rules WHERE scopeId = ?`, scopeID); err != nil {
			return fmt.Errorf("clear undesirable rules for scope %d: %w", scopeID, err)
		}
		now := formatTime(time.Time{})
		for _, rule := range rules {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO undesirable_rules (scopeId, rule, createdAt) VALUES (?, ?, ?)`,
				scopeID, rule, now); err != nil {
				return fmt.Errorf("insert undesirable rule for scope %d: %w", scopeID, err)
			}
		}
		return nil
	})
}

// AddUndesirableRule inserts rule unless the scope already has it.
func (s *Store) AddUndesirableRule(ctx context.Context, scopeID int64, rule string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO undesirable_rules (scopeId, rule, createdAt) VALUES (?, ?, ?)`,
		scopeID, rule, formatTime(time.Time{}))
	if err != nil {
		return fmt.Errorf("add undesirable rule for scope %d: %w", scopeID, err)
	}
	return nil
}

// RemoveUndesirableRule deletes the rule with exactly this text.
func (s *Store) RemoveUndesirableRule(ctx context.Context, scopeID int64, rule string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM undesirable_rules WHERE scopeId = ? AND rule = ?`, scopeID, rule)
	if err != nil {
		return fmt.Errorf("remove undesirable rule for scope %d: %w", scopeID, err)
	}
	return nil
}
