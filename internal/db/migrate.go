package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// CurrentSchemaVersion is the version EnsureSchema leaves the store at.
const CurrentSchemaVersion = 2

type migrationFile struct {
	name string
	data []byte
}

type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// goMigrations are steps that need more than plain SQL.
var goMigrations = []migration{
	{version: 2, name: "late text columns", apply: migrateTextColumns},
}

// structuralTables lists every table the schema owns, dependents first.
var structuralTables = []string{
	"answers",
	"participants",
	"scope_rules",
	"undesirable_rules",
	"situation_designs",
	"scopes",
	"project_questions",
	"projects",
	"question_factors",
	"questionnaire",
	"factors",
}

// Legacy stores carry no version row; their shape is judged by these checks.
var (
	requiredTables = []string{
		"project_questions",
		"questionnaire",
		"scopes",
		"scope_rules",
		"undesirable_rules",
		"factors",
		"question_factors",
	}
	requiredColumns = []struct{ table, column string }{
		{"projects", "description"},
		{"projects", "robotType"},
		{"projects", "studyType"},
		{"project_questions", "section"},
		{"questionnaire", "factors"},
	}
)

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_scopes_project ON scopes(projectId)",
	"CREATE INDEX IF NOT EXISTS idx_participants_project_scope ON participants(projectId, scopeId)",
	"CREATE INDEX IF NOT EXISTS idx_answers_participant ON answers(participantId)",
	"CREATE INDEX IF NOT EXISTS idx_scope_rules_scope ON scope_rules(scopeId, orderIndex)",
	"CREATE INDEX IF NOT EXISTS idx_undesirable_rules_scope ON undesirable_rules(scopeId)",
	"CREATE INDEX IF NOT EXISTS idx_project_questions_project ON project_questions(projectId)",
	"CREATE INDEX IF NOT EXISTS idx_questionnaire_section ON questionnaire(section, orderIndex)",
	"CREATE INDEX IF NOT EXISTS idx_question_factors_factor ON question_factors(factor_name)",
	"CREATE INDEX IF NOT EXISTS idx_factors_section ON factors(section)",
}

// StructureReport is the outcome of the legacy shape checklist.
type StructureReport struct {
	MissingTables  []string
	MissingColumns []string // "table.column"
}

// UpToDate reports whether every required table and column is present.
func (r StructureReport) UpToDate() bool {
	return len(r.MissingTables) == 0 && len(r.MissingColumns) == 0
}

func (r StructureReport) onlyMissingUndesirableRules() bool {
	return len(r.MissingColumns) == 0 && len(r.MissingTables) == 1 && r.MissingTables[0] == "undesirable_rules"
}

// CheckStructure runs the table/column checklist against the live database.
func (s *Store) CheckStructure(ctx context.Context) (StructureReport, error) {
	return checkStructure(ctx, s.db)
}

func checkStructure(ctx context.Context, q DBTX) (StructureReport, error) {
	var report StructureReport
	for _, t := range requiredTables {
		ok, err := tableExists(ctx, q, t)
		if err != nil {
			return report, err
		}
		if !ok {
			report.MissingTables = append(report.MissingTables, t)
		}
	}
	for _, c := range requiredColumns {
		ok, err := columnExists(ctx, q, c.table, c.column)
		if err != nil {
			return report, err
		}
		if !ok {
			report.MissingColumns = append(report.MissingColumns, c.table+"."+c.column)
		}
	}
	return report, nil
}

// EnsureSchema brings an empty, legacy or older versioned store up to
// CurrentSchemaVersion. Structural failures are returned; index failures are
// only logged.
func (s *Store) EnsureSchema(ctx context.Context) error {
	steps, err := s.migrations()
	if err != nil {
		return err
	}
	version, tracked, err := schemaVersion(ctx, s.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if !tracked {
		if version, err = s.adoptUntracked(ctx, steps); err != nil {
			return err
		}
	}
	for _, m := range steps {
		if m.version <= version {
			continue
		}
		s.log.Info("applying schema migration", "version", m.version, "name", m.name)
		if err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			return setSchemaVersion(ctx, tx, m.version)
		}); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		version = m.version
	}
	s.createIndexes(ctx)
	return nil
}

// SchemaVersion returns the stored version, or 0 for an untracked store.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	v, _, err := schemaVersion(ctx, s.db)
	return v, err
}

// adoptUntracked classifies a store without a schema_version row and returns
// the version it ends up at.
func (s *Store) adoptUntracked(ctx context.Context, steps []migration) (int, error) {
	tables, err := userTables(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("list tables: %w", err)
	}
	latest := steps[len(steps)-1].version
	if len(tables) == 0 {
		s.log.Info("creating database schema", "version", latest)
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := createSchemaVersionTable(ctx, tx); err != nil {
				return err
			}
			if err := applySteps(ctx, tx, steps, latest); err != nil {
				return err
			}
			if err := s.seedDefaultQuestions(ctx, tx); err != nil {
				return err
			}
			return setSchemaVersion(ctx, tx, latest)
		})
		if err != nil {
			return 0, fmt.Errorf("create schema: %w", err)
		}
		return latest, nil
	}

	report, err := checkStructure(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("check structure: %w", err)
	}
	base := steps[0].version
	switch {
	case report.UpToDate(), report.onlyMissingUndesirableRules():
		if report.UpToDate() {
			s.log.Info("adopting existing schema", "version", base)
		} else {
			s.log.Info("adding undesirable_rules table to existing schema")
		}
		// The base step only uses CREATE ... IF NOT EXISTS, so on a store that
		// passed the checklist it creates nothing but what is missing.
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := createSchemaVersionTable(ctx, tx); err != nil {
				return err
			}
			if err := applySteps(ctx, tx, steps, base); err != nil {
				return err
			}
			return setSchemaVersion(ctx, tx, base)
		})
		if err != nil {
			return 0, fmt.Errorf("adopt schema: %w", err)
		}
		return base, nil
	default:
		if err := s.rebuildSchema(ctx, steps, report); err != nil {
			return 0, fmt.Errorf("rebuild schema: %w", err)
		}
		return latest, nil
	}
}

// rebuildSchema drops and recreates every table. Per-project question
// overrides are captured first and written back afterwards.
func (s *Store) rebuildSchema(ctx context.Context, steps []migration, report StructureReport) error {
	latest := steps[len(steps)-1].version
	s.log.Warn("schema out of date, rebuilding",
		"missing_tables", strings.Join(report.MissingTables, ","),
		"missing_columns", strings.Join(report.MissingColumns, ","))
	return s.withTx(ctx, func(tx *sql.Tx) error {
		saved, err := captureProjectQuestions(ctx, tx)
		if err != nil {
			return fmt.Errorf("capture project questions: %w", err)
		}
		for _, t := range append(append([]string{}, structuralTables...), "schema_version") {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
				return fmt.Errorf("drop %s: %w", t, err)
			}
		}
		if err := createSchemaVersionTable(ctx, tx); err != nil {
			return err
		}
		if err := applySteps(ctx, tx, steps, latest); err != nil {
			return err
		}
		if err := s.seedDefaultQuestions(ctx, tx); err != nil {
			return err
		}
		if len(saved) > 0 {
			restored, err := s.restoreProjectQuestions(ctx, tx, saved)
			if err != nil {
				return fmt.Errorf("restore project questions: %w", err)
			}
			s.log.Info("restored project question overrides", "rows", restored, "captured", len(saved))
		}
		return setSchemaVersion(ctx, tx, latest)
	})
}

type savedOverride struct {
	projectID  int64
	questionID string
	section    sql.NullString
	isEnabled  int64
}

func captureProjectQuestions(ctx context.Context, tx *sql.Tx) ([]savedOverride, error) {
	ok, err := tableExists(ctx, tx, "project_questions")
	if err != nil || !ok {
		return nil, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM project_questions").Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	sectionCol := "NULL"
	if ok, err := columnExists(ctx, tx, "project_questions", "section"); err != nil {
		return nil, err
	} else if ok {
		sectionCol = "section"
	}
	enabledCol := "1"
	if ok, err := columnExists(ctx, tx, "project_questions", "isEnabled"); err != nil {
		return nil, err
	} else if ok {
		enabledCol = "isEnabled"
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		"SELECT projectId, questionId, %s, %s FROM project_questions ORDER BY rowid", sectionCol, enabledCol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]savedOverride, 0, n)
	for rows.Next() {
		var o savedOverride
		if err := rows.Scan(&o.projectID, &o.questionID, &o.section, &o.isEnabled); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) restoreProjectQuestions(ctx context.Context, tx *sql.Tx, saved []savedOverride) (int, error) {
	restored := 0
	for _, o := range saved {
		section := o.section.String
		if !o.section.Valid || section == "" {
			err := tx.QueryRowContext(ctx,
				"SELECT section FROM questionnaire WHERE questionId = ? ORDER BY id LIMIT 1", o.questionID).Scan(&section)
			// section is NOT NULL; with no questionnaire match there is nothing to file it under.
			if errors.Is(err, sql.ErrNoRows) {
				s.log.Warn("dropping override for unknown question", "project_id", o.projectID, "question_id", o.questionID)
				continue
			}
			if err != nil {
				return restored, err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO project_questions (projectId, questionId, section, isEnabled)
      VALUES (?, ?, ?, ?)`, o.projectID, o.questionID, section, o.isEnabled); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func (s *Store) createIndexes(ctx context.Context) {
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.Warn("sqlite store: create index", "statement", stmt, "error", err)
		}
	}
}

func applySteps(ctx context.Context, tx *sql.Tx, steps []migration, upTo int) error {
	for _, m := range steps {
		if m.version > upTo {
			break
		}
		if err := m.apply(ctx, tx); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// migrateTextColumns adds columns that older stores created before they existed.
func migrateTextColumns(ctx context.Context, tx *sql.Tx) error {
	cols := []struct{ table, column, ddl string }{
		{"projects", "rules", "TEXT DEFAULT '[]'"},
		{"projects", "summaryPrompt", "TEXT"},
		{"participants", "summary", "TEXT"},
		{"participants", "interviewText", "TEXT"},
		{"undesirable_rules", "createdAt", "TEXT"},
	}
	for _, c := range cols {
		ok, err := columnExists(ctx, tx, c.table, c.column)
		if err != nil {
			return fmt.Errorf("check %s.%s: %w", c.table, c.column, err)
		}
		if ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.ddl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (s *Store) migrations() ([]migration, error) {
	files, err := loadMigrations(s.migrationsDir)
	if err != nil {
		return nil, err
	}
	steps := make([]migration, 0, len(files)+len(goMigrations))
	for _, mf := range files {
		if len(mf.data) == 0 {
			continue
		}
		v, err := migrationVersion(mf.name)
		if err != nil {
			return nil, err
		}
		stmt := string(mf.data)
		steps = append(steps, migration{
			version: v,
			name:    mf.name,
			apply: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, stmt)
				return err
			},
		})
	}
	steps = append(steps, goMigrations...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	if len(steps) == 0 {
		return nil, errors.New("no schema migrations found")
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].version == steps[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", steps[i].version, steps[i-1].name, steps[i].name)
		}
	}
	return steps, nil
}

func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: name must start with <version>_", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s: invalid version prefix", name)
	}
	return v, nil
}

// loadMigrations reads SQL migrations from dir, falling back to the embedded files.
func loadMigrations(dir string) ([]migrationFile, error) {
	var files []migrationFile
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
					continue
				}
				content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
				if err != nil {
					return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
				}
				files = append(files, migrationFile{name: entry.Name(), data: content})
			}
			sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
			return files, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}

	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := embeddedMigrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded migration %s: %w", entry.Name(), err)
		}
		files = append(files, migrationFile{name: entry.Name(), data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func createSchemaVersionTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	return nil
}

func setSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func schemaVersion(ctx context.Context, q DBTX) (int, bool, error) {
	ok, err := tableExists(ctx, q, "schema_version")
	if err != nil || !ok {
		return 0, false, err
	}
	var version sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, false, err
	}
	if !version.Valid {
		return 0, false, nil
	}
	return int(version.Int64), true, nil
}

func userTables(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func tableExists(ctx context.Context, q DBTX, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, q DBTX, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
