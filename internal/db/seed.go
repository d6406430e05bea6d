package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/mofasa/internal/models"
)

//go:embed reference/*.yaml
var referenceFS embed.FS

type questionnaireFile struct {
	Version  int `yaml:"version"`
	Sections []struct {
		Name      string `yaml:"name"`
		Questions []struct {
			ID      string   `yaml:"id"`
			Text    string   `yaml:"text"`
			Type    string   `yaml:"type"`
			Options []string `yaml:"options"`
			Factors []string `yaml:"factors"`
			Enabled *bool    `yaml:"enabled"`
		} `yaml:"questions"`
	} `yaml:"sections"`
}

type taxonomyFile struct {
	Factors []struct {
		Name        string   `yaml:"name"`
		Section     string   `yaml:"section"`
		Description string   `yaml:"description"`
		Examples    []string `yaml:"examples"`
		Related     []string `yaml:"related"`
		Notes       string   `yaml:"notes"`
	} `yaml:"factors"`
	Renamed map[string]string `yaml:"renamed"`
	Retired []string          `yaml:"retired"`
}

// Taxonomy is the reference factor set together with its legacy renames.
type Taxonomy struct {
	Factors []models.Factor
	Renamed map[string]string // old name -> current name
	Retired []string
}

// DefaultQuestionnaire returns the built-in questionnaire in section order.
func DefaultQuestionnaire() ([]models.QuestionnaireItem, error) {
	raw, err := referenceFS.ReadFile("reference/questionnaire.yaml")
	if err != nil {
		return nil, fmt.Errorf("read questionnaire: %w", err)
	}
	var f questionnaireFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse questionnaire: %w", err)
	}
	var items []models.QuestionnaireItem
	for _, sec := range f.Sections {
		if !slices.Contains(models.SectionOrder, sec.Name) {
			return nil, fmt.Errorf("questionnaire: unknown section %q", sec.Name)
		}
		for i, q := range sec.Questions {
			typ := q.Type
			if typ == "" {
				typ = "text"
			}
			items = append(items, models.QuestionnaireItem{
				Section:      sec.Name,
				QuestionID:   q.ID,
				QuestionText: q.Text,
				QuestionType: typ,
				Options:      q.Options,
				Factors:      q.Factors,
				OrderIndex:   i + 1,
				IsEnabled:    q.Enabled == nil || *q.Enabled,
			})
		}
	}
	return items, nil
}

// FactorTaxonomy returns the built-in factor taxonomy.
func FactorTaxonomy() (*Taxonomy, error) {
	raw, err := referenceFS.ReadFile("reference/factors.yaml")
	if err != nil {
		return nil, fmt.Errorf("read factors: %w", err)
	}
	var f taxonomyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse factors: %w", err)
	}
	t := &Taxonomy{Renamed: f.Renamed, Retired: f.Retired}
	if t.Renamed == nil {
		t.Renamed = map[string]string{}
	}
	for _, fc := range f.Factors {
		if !slices.Contains(models.SectionOrder, fc.Section) {
			return nil, fmt.Errorf("factor %q: unknown section %q", fc.Name, fc.Section)
		}
		t.Factors = append(t.Factors, models.Factor{
			Name:           fc.Name,
			Description:    fc.Description,
			Examples:       fc.Examples,
			RelatedFactors: fc.Related,
			ResearchNotes:  fc.Notes,
			Section:        fc.Section,
		})
	}
	return t, nil
}

// SeedDefaultQuestions inserts the built-in questionnaire into an existing store.
func (s *Store) SeedDefaultQuestions(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return s.seedDefaultQuestions(ctx, tx) })
}

// seedDefaultQuestions inserts the built-in questionnaire and its factor links.
// Rows that already exist are left alone.
func (s *Store) seedDefaultQuestions(ctx context.Context, tx DBTX) error {
	items, err := DefaultQuestionnaire()
	if err != nil {
		return err
	}
	for _, q := range items {
		options, err := encodeStringList(q.Options)
		if err != nil {
			return err
		}
		factors, err := encodeStringList(q.Factors)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO questionnaire
      (section, questionId, questionText, questionType, options, factors, orderIndex, isEnabled)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Section, q.QuestionID, q.QuestionText, q.QuestionType, options, factors, q.OrderIndex, boolToInt64(q.IsEnabled)); err != nil {
			return fmt.Errorf("seed question %s/%s: %w", q.Section, q.QuestionID, err)
		}
		for _, f := range q.Factors {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO question_factors (questionId, factor_name) VALUES (?, ?)`,
				q.QuestionID, f); err != nil {
				return fmt.Errorf("seed question factor %s/%s: %w", q.QuestionID, f, err)
			}
		}
	}
	s.log.Debug("seeded default questionnaire", "questions", len(items))
	return nil
}

// Reconcile aligns stored reference data with the built-in taxonomy. It is
// safe to run on every start.
func (s *Store) Reconcile(ctx context.Context) error {
	if err := s.ReconcileFactorMappings(ctx); err != nil {
		return fmt.Errorf("reconcile factor mappings: %w", err)
	}
	if err := s.ReconcileFactorSections(ctx); err != nil {
		return fmt.Errorf("reconcile factor sections: %w", err)
	}
	return nil
}

// ReconcileFactorMappings upserts every reference factor, rewrites legacy
// factor names inside questionnaire rows and question_factors, and removes
// retired factors.
func (s *Store) ReconcileFactorMappings(ctx context.Context) error {
	tax, err := FactorTaxonomy()
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range tax.Factors {
			examples, err := encodeStringList(f.Examples)
			if err != nil {
				return err
			}
			related, err := encodeStringList(f.RelatedFactors)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO factors
      (factor_name, description, examples, related_factors, research_notes, section)
      VALUES (?, ?, ?, ?, ?, ?)
      ON CONFLICT(factor_name) DO UPDATE SET
        description = excluded.description,
        examples = excluded.examples,
        related_factors = excluded.related_factors,
        research_notes = excluded.research_notes`,
				f.Name, toNullString(f.Description), examples, related, toNullString(f.ResearchNotes), f.Section); err != nil {
				return fmt.Errorf("upsert factor %s: %w", f.Name, err)
			}
		}

		if err := s.renameQuestionnaireFactors(ctx, tx, tax.Renamed); err != nil {
			return err
		}

		for _, oldName := range sortedKeys(tax.Renamed) {
			newName := tax.Renamed[oldName]
			if _, err := tx.ExecContext(ctx, `UPDATE OR IGNORE question_factors SET factor_name = ? WHERE factor_name = ?`,
				newName, oldName); err != nil {
				return fmt.Errorf("rename question factor %s: %w", oldName, err)
			}
			// Rows left behind collided with an existing link to newName.
			if _, err := tx.ExecContext(ctx, `DELETE FROM question_factors WHERE factor_name = ?`, oldName); err != nil {
				return fmt.Errorf("drop question factor %s: %w", oldName, err)
			}
		}

		drop := append(sortedKeys(tax.Renamed), tax.Retired...)
		for _, name := range drop {
			if _, err := tx.ExecContext(ctx, `DELETE FROM factors WHERE factor_name = ?`, name); err != nil {
				return fmt.Errorf("delete factor %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) renameQuestionnaireFactors(ctx context.Context, tx *sql.Tx, renamed map[string]string) error {
	if len(renamed) == 0 {
		return nil
	}
	type row struct {
		id      int64
		factors []string
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, factors FROM questionnaire`)
	if err != nil {
		return fmt.Errorf("list questionnaire factors: %w", err)
	}
	var pending []row
	for rows.Next() {
		var (
			id  int64
			raw sql.NullString
		)
		if err := rows.Scan(&id, &raw); err != nil {
			s.closeRows(rows, "list questionnaire factors")
			return err
		}
		list := s.decodeStringList(raw, "questionnaire factors")
		next, changed := renameFactors(list, renamed)
		if changed {
			pending = append(pending, row{id: id, factors: next})
		}
	}
	if err := rows.Err(); err != nil {
		s.closeRows(rows, "list questionnaire factors")
		return err
	}
	s.closeRows(rows, "list questionnaire factors")

	for _, r := range pending {
		enc, err := encodeStringList(r.factors)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE questionnaire SET factors = ? WHERE id = ?`, enc, r.id); err != nil {
			return fmt.Errorf("update questionnaire factors %d: %w", r.id, err)
		}
	}
	if len(pending) > 0 {
		s.log.Info("renamed legacy questionnaire factors", "questions", len(pending))
	}
	return nil
}

// renameFactors maps legacy names and drops duplicates, keeping first occurrence.
func renameFactors(list []string, renamed map[string]string) ([]string, bool) {
	out := make([]string, 0, len(list))
	changed := false
	for _, name := range list {
		if to, ok := renamed[name]; ok {
			name = to
			changed = true
		}
		if slices.Contains(out, name) {
			changed = true
			continue
		}
		out = append(out, name)
	}
	return out, changed
}

// ReconcileFactorSections sets each reference factor's section, touching only
// rows whose section differs.
func (s *Store) ReconcileFactorSections(ctx context.Context) error {
	tax, err := FactorTaxonomy()
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		updated := int64(0)
		for _, f := range tax.Factors {
			res, err := tx.ExecContext(ctx, `UPDATE factors SET section = ?
      WHERE factor_name = ? AND (section IS NULL OR section <> ?)`, f.Section, f.Name, f.Section)
			if err != nil {
				return fmt.Errorf("update section of %s: %w", f.Name, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				updated += n
			}
		}
		if updated > 0 {
			s.log.Info("updated factor sections", "rows", updated)
		}
		return nil
	})
}

// ListQuestionnaire returns every reference question in section order.
func (s *Store) ListQuestionnaire(ctx context.Context) ([]models.QuestionnaireItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, section, questionId, questionText, questionType, options, factors, orderIndex, isEnabled
    FROM questionnaire ORDER BY `+sectionOrderSQL("section")+`, orderIndex, id`)
	if err != nil {
		return nil, fmt.Errorf("list questionnaire: %w", err)
	}
	defer s.closeRows(rows, "list questionnaire")
	var out []models.QuestionnaireItem
	for rows.Next() {
		item, err := s.scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListFactors returns the stored factor taxonomy ordered by section then name.
func (s *Store) ListFactors(ctx context.Context) ([]models.Factor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT factor_name, description, examples, related_factors, research_notes, section
    FROM factors ORDER BY `+sectionOrderSQL("section")+`, factor_name`)
	if err != nil {
		return nil, fmt.Errorf("list factors: %w", err)
	}
	defer s.closeRows(rows, "list factors")
	var out []models.Factor
	for rows.Next() {
		var (
			f                                       models.Factor
			desc, examples, related, notes, section sql.NullString
		)
		if err := rows.Scan(&f.Name, &desc, &examples, &related, &notes, &section); err != nil {
			return nil, err
		}
		f.Description = desc.String
		f.Examples = s.decodeStringList(examples, "factor examples")
		f.RelatedFactors = s.decodeStringList(related, "related factors")
		f.ResearchNotes = notes.String
		f.Section = section.String
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanQuestion(r rowScanner) (models.QuestionnaireItem, error) {
	var (
		q                models.QuestionnaireItem
		options, factors sql.NullString
		enabled          int64
	)
	if err := r.Scan(&q.ID, &q.Section, &q.QuestionID, &q.QuestionText, &q.QuestionType, &options, &factors, &q.OrderIndex, &enabled); err != nil {
		return q, err
	}
	q.Options = s.decodeStringList(options, "question options")
	q.Factors = s.decodeStringList(factors, "question factors")
	q.IsEnabled = int64ToBool(enabled)
	return q, nil
}

// sectionOrderSQL renders a CASE expression ranking col by display order.
func sectionOrderSQL(col string) string {
	expr := "CASE " + col
	for i, sec := range models.SectionOrder {
		expr += fmt.Sprintf(" WHEN '%s' THEN %d", strings.ReplaceAll(sec, "'", "''"), i)
	}
	return expr + fmt.Sprintf(" ELSE %d END", len(models.SectionOrder))
}
