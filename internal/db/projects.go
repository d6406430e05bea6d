package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soaringjerry/mofasa/internal/models"
)

// projectTables lists the project-scoped tables in wipe order.
var projectTables = []string{
	"answers",
	"participants",
	"scope_rules",
	"undesirable_rules",
	"situation_designs",
	"scopes",
	"project_questions",
	"projects",
}

// GetAllProjects returns every project tree in creation order.
func (s *Store) GetAllProjects(ctx context.Context) ([]models.Project, error) {
	return s.loadProjects(ctx, s.db, 0)
}

// GetProject returns one project tree.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	list, err := s.loadProjects(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// loadProjects reads the tree bottom-up with one query per table, so no
// result set is held open while another is read. projectID 0 loads all.
func (s *Store) loadProjects(ctx context.Context, q DBTX, projectID int64) ([]models.Project, error) {
	var args []any
	filter := func(col string) string {
		if projectID <= 0 {
			return ""
		}
		return " WHERE " + col + " = ?"
	}
	if projectID > 0 {
		args = []any{projectID}
	}

	answers := map[int64]models.Answers{}
	err := s.queryEach(ctx, q, "load answers", `SELECT a.participantId, a.section, a.questionKey, a.value
    FROM answers a JOIN participants p ON p.id = a.participantId`+filter("p.projectId")+` ORDER BY a.id`, args,
		func(r rowScanner) error {
			var (
				rowID        int64
				section, key string
				value        sql.NullString
			)
			if err := r.Scan(&rowID, &section, &key, &value); err != nil {
				return err
			}
			a := answers[rowID]
			if a == nil {
				a = models.Answers{}
				answers[rowID] = a
			}
			if a[section] == nil {
				a[section] = map[string]any{}
			}
			a[section][key] = decodeAnswer(key, value)
			return nil
		})
	if err != nil {
		return nil, err
	}

	participants := map[int64][]models.Participant{}
	err = s.queryEach(ctx, q, "load participants", `SELECT id, scopeId, participantId, name, summary, interviewText, createdAt, updatedAt
    FROM participants`+filter("projectId")+` ORDER BY id`, args,
		func(r rowScanner) error {
			var (
				p                        models.Participant
				scopeID                  int64
				name, summary, interview sql.NullString
				createdAt, updatedAt     sql.NullString
			)
			if err := r.Scan(&p.ID, &scopeID, &p.ParticipantID, &name, &summary, &interview, &createdAt, &updatedAt); err != nil {
				return err
			}
			p.Name = name.String
			p.Summary = summary.String
			p.InterviewText = interview.String
			p.CreatedAt = parseTime(createdAt)
			p.UpdatedAt = parseTime(updatedAt)
			p.Answers = answers[p.ID]
			if p.Answers == nil {
				p.Answers = models.Answers{}
			}
			participants[scopeID] = append(participants[scopeID], p)
			return nil
		})
	if err != nil {
		return nil, err
	}

	scopeRules := map[int64][]string{}
	err = s.queryEach(ctx, q, "load scope rules", `SELECT r.scopeId, r.rule
    FROM scope_rules r JOIN scopes sc ON sc.id = r.scopeId`+filter("sc.projectId")+` ORDER BY r.scopeId, r.orderIndex, r.id`, args,
		func(r rowScanner) error {
			var (
				scopeID int64
				rule    string
			)
			if err := r.Scan(&scopeID, &rule); err != nil {
				return err
			}
			scopeRules[scopeID] = append(scopeRules[scopeID], rule)
			return nil
		})
	if err != nil {
		return nil, err
	}

	undesirable := map[int64][]string{}
	err = s.queryEach(ctx, q, "load undesirable rules", `SELECT u.scopeId, u.rule
    FROM undesirable_rules u JOIN scopes sc ON sc.id = u.scopeId`+filter("sc.projectId")+` ORDER BY u.id`, args,
		func(r rowScanner) error {
			var (
				scopeID int64
				rule    string
			)
			if err := r.Scan(&scopeID, &rule); err != nil {
				return err
			}
			undesirable[scopeID] = append(undesirable[scopeID], rule)
			return nil
		})
	if err != nil {
		return nil, err
	}

	designs := map[int64]*models.SituationDesign{}
	err = s.queryEach(ctx, q, "load situation designs", `SELECT d.scopeId, d.robotChanges, d.environmentalChanges
    FROM situation_designs d JOIN scopes sc ON sc.id = d.scopeId`+filter("sc.projectId"), args,
		func(r rowScanner) error {
			var (
				scopeID      int64
				robot, envir sql.NullString
			)
			if err := r.Scan(&scopeID, &robot, &envir); err != nil {
				return err
			}
			designs[scopeID] = &models.SituationDesign{RobotChanges: robot.String, EnvironmentalChanges: envir.String}
			return nil
		})
	if err != nil {
		return nil, err
	}

	scopes := map[int64][]models.Scope{}
	err = s.queryEach(ctx, q, "load scopes", `SELECT id, projectId, scopeNumber, scopeText, isActive, createdAt, updatedAt
    FROM scopes`+filter("projectId")+` ORDER BY projectId, scopeNumber`, args,
		func(r rowScanner) error {
			var (
				sc                   models.Scope
				pid, active          int64
				text                 sql.NullString
				createdAt, updatedAt sql.NullString
			)
			if err := r.Scan(&sc.ID, &pid, &sc.ScopeNumber, &text, &active, &createdAt, &updatedAt); err != nil {
				return err
			}
			sc.ScopeText = text.String
			sc.IsActive = int64ToBool(active)
			sc.CreatedAt = parseTime(createdAt)
			sc.UpdatedAt = parseTime(updatedAt)
			sc.Participants = nonNil(participants[sc.ID])
			sc.Rules = nonNil(scopeRules[sc.ID])
			sc.UndesirableRules = nonNil(undesirable[sc.ID])
			sc.SituationDesign = designs[sc.ID]
			scopes[pid] = append(scopes[pid], sc)
			return nil
		})
	if err != nil {
		return nil, err
	}

	overrides, err := s.loadOverrides(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	var out []models.Project
	err = s.queryEach(ctx, q, "load projects", `SELECT id, name, description, robotType, studyType, rules, summaryPrompt, createdAt, updatedAt
    FROM projects`+filter("id")+` ORDER BY id`, args,
		func(r rowScanner) error {
			var (
				p                                 models.Project
				desc, robot, study, rules, prompt sql.NullString
				createdAt, updatedAt              sql.NullString
			)
			if err := r.Scan(&p.ID, &p.Name, &desc, &robot, &study, &rules, &prompt, &createdAt, &updatedAt); err != nil {
				return err
			}
			p.Description = desc.String
			p.RobotType = robot.String
			p.StudyType = study.String
			p.Rules = s.decodeStringList(rules, "project rules")
			p.SummaryPrompt = prompt.String
			p.CreatedAt = parseTime(createdAt)
			p.UpdatedAt = parseTime(updatedAt)
			p.Scopes = nonNil(scopes[p.ID])
			p.QuestionOverrides = groupOverrides(overrides[p.ID])
			out = append(out, p)
			return nil
		})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Project{}
	}
	return out, nil
}

// loadOverrides returns stored question overrides keyed by project id.
func (s *Store) loadOverrides(ctx context.Context, q DBTX, projectID int64) (map[int64][]models.QuestionOverride, error) {
	query := `SELECT projectId, questionId, section, isEnabled FROM project_questions`
	var args []any
	if projectID > 0 {
		query += ` WHERE projectId = ?`
		args = []any{projectID}
	}
	out := map[int64][]models.QuestionOverride{}
	err := s.queryEach(ctx, q, "load question overrides", query+` ORDER BY id`, args, func(r rowScanner) error {
		var (
			pid, enabled int64
			o            models.QuestionOverride
		)
		if err := r.Scan(&pid, &o.QuestionID, &o.Section, &enabled); err != nil {
			return err
		}
		o.IsEnabled = int64ToBool(enabled)
		out[pid] = append(out[pid], o)
		return nil
	})
	return out, err
}

func groupOverrides(list []models.QuestionOverride) map[string][]models.QuestionOverride {
	if len(list) == 0 {
		return nil
	}
	out := map[string][]models.QuestionOverride{}
	for _, o := range list {
		out[o.Section] = append(out[o.Section], o)
	}
	return out
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// SaveAllProjects replaces every project-scoped row with projects, in input
// order and with fresh ids, inside one transaction. A project whose
// QuestionOverrides is nil keeps the overrides stored under its previous id;
// likewise a scope whose UndesirableRules is nil keeps its previous rules.
func (s *Store) SaveAllProjects(ctx context.Context, projects []models.Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		prevOverrides, err := s.loadOverrides(ctx, tx, 0)
		if err != nil {
			return err
		}
		prevUndesirable := map[int64][]string{}
		err = s.queryEach(ctx, tx, "capture undesirable rules", `SELECT scopeId, rule FROM undesirable_rules ORDER BY id`, nil,
			func(r rowScanner) error {
				var (
					scopeID int64
					rule    string
				)
				if err := r.Scan(&scopeID, &rule); err != nil {
					return err
				}
				prevUndesirable[scopeID] = append(prevUndesirable[scopeID], rule)
				return nil
			})
		if err != nil {
			return err
		}

		for _, t := range projectTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		ins := treeInsert{prevOverrides: prevOverrides, prevUndesirable: prevUndesirable}
		for i := range projects {
			if _, err := s.insertProjectTree(ctx, tx, &projects[i], ins); err != nil {
				return fmt.Errorf("save project %d (%s): %w", i, projects[i].Name, err)
			}
		}
		return nil
	})
}

// AddProject inserts a bare project row and returns its id.
func (s *Store) AddProject(ctx context.Context, p models.Project) (int64, error) {
	return insertProjectRow(ctx, s.db, &p)
}

// ImportProject inserts p with its full nested tree, overrides and
// undesirable rules included, without touching other projects.
func (s *Store) ImportProject(ctx context.Context, p models.Project) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertProjectTree(ctx, tx, &p, treeInsert{})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("import project %s: %w", p.Name, err)
	}
	return id, nil
}

// UpdateProject rewrites the scalar fields of one project row.
func (s *Store) UpdateProject(ctx context.Context, p models.Project) error {
	if p.Name == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	rules, err := encodeStringList(p.Rules)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = ?, description = ?, robotType = ?, studyType = ?,
      rules = ?, summaryPrompt = ?, updatedAt = ? WHERE id = ?`,
		p.Name, toNullString(p.Description), toNullString(p.RobotType), toNullString(p.StudyType),
		rules, toNullString(p.SummaryPrompt), formatTime(time.Time{}), p.ID)
	if err != nil {
		return fmt.Errorf("update project %d: %w", p.ID, err)
	}
	return expectRow(res)
}

// DeleteProject removes a project and every row that belongs to it.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM answers WHERE participantId IN (SELECT id FROM participants WHERE projectId = ?)`,
			`DELETE FROM participants WHERE projectId = ?`,
			`DELETE FROM scope_rules WHERE scopeId IN (SELECT id FROM scopes WHERE projectId = ?)`,
			`DELETE FROM undesirable_rules WHERE scopeId IN (SELECT id FROM scopes WHERE projectId = ?)`,
			`DELETE FROM situation_designs WHERE scopeId IN (SELECT id FROM scopes WHERE projectId = ?)`,
			`DELETE FROM scopes WHERE projectId = ?`,
			`DELETE FROM project_questions WHERE projectId = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete project %d: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete project %d: %w", id, err)
		}
		return expectRow(res)
	})
}

// SaveSituationDesign creates or replaces the design attached to a scope.
func (s *Store) SaveSituationDesign(ctx context.Context, scopeID int64, d models.SituationDesign) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scopes WHERE id = ?`, scopeID).Scan(&n); err != nil {
		return fmt.Errorf("lookup scope %d: %w", scopeID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO situation_designs (scopeId, robotChanges, environmentalChanges)
      VALUES (?, ?, ?)
      ON CONFLICT(scopeId) DO UPDATE SET robotChanges = excluded.robotChanges, environmentalChanges = excluded.environmentalChanges`,
		scopeID, toNullString(d.RobotChanges), toNullString(d.EnvironmentalChanges))
	if err != nil {
		return fmt.Errorf("save situation design %d: %w", scopeID, err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// treeInsert carries rows captured before a wipe, keyed by the ids the input
// tree still refers to.
type treeInsert struct {
	prevOverrides   map[int64][]models.QuestionOverride
	prevUndesirable map[int64][]string
}

func insertProjectRow(ctx context.Context, q DBTX, p *models.Project) (int64, error) {
	if p.Name == "" {
		return 0, fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	rules, err := encodeStringList(p.Rules)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO projects
      (name, description, robotType, studyType, rules, summaryPrompt, createdAt, updatedAt)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, toNullString(p.Description), toNullString(p.RobotType), toNullString(p.StudyType),
		rules, toNullString(p.SummaryPrompt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) insertProjectTree(ctx context.Context, tx *sql.Tx, p *models.Project, ins treeInsert) (int64, error) {
	id, err := insertProjectRow(ctx, tx, p)
	if err != nil {
		return 0, err
	}

	overrides := ins.prevOverrides[p.ID]
	if p.QuestionOverrides != nil {
		overrides = nil
		for _, section := range sortedKeys(p.QuestionOverrides) {
			for _, o := range p.QuestionOverrides[section] {
				if o.Section == "" {
					o.Section = section
				}
				overrides = append(overrides, o)
			}
		}
	}
	for _, o := range overrides {
		if err := upsertOverride(ctx, tx, id, o.QuestionID, o.Section, o.IsEnabled); err != nil {
			return 0, err
		}
	}

	for i := range p.Scopes {
		if err := s.insertScope(ctx, tx, id, &p.Scopes[i], ins); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *Store) insertScope(ctx context.Context, tx *sql.Tx, projectID int64, sc *models.Scope, ins treeInsert) error {
	if sc.ScopeNumber < 1 || sc.ScopeNumber > models.MaxScopesPerProject {
		return fmt.Errorf("%w: scopeNumber %d outside 1..%d", ErrInvalid, sc.ScopeNumber, models.MaxScopesPerProject)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO scopes (projectId, scopeNumber, scopeText, isActive, createdAt, updatedAt)
      VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, sc.ScopeNumber, toNullString(sc.ScopeText), boolToInt64(sc.IsActive), formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert scope %d: %w", sc.ScopeNumber, err)
	}
	scopeID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i, rule := range sc.Rules {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scope_rules (scopeId, rule, orderIndex) VALUES (?, ?, ?)`,
			scopeID, rule, i); err != nil {
			return fmt.Errorf("insert scope rule: %w", err)
		}
	}

	undesirable := sc.UndesirableRules
	if undesirable == nil {
		undesirable = ins.prevUndesirable[sc.ID]
	}
	for _, rule := range undesirable {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO undesirable_rules (scopeId, rule, createdAt) VALUES (?, ?, ?)`,
			scopeID, rule, formatTime(time.Time{})); err != nil {
			return fmt.Errorf("insert undesirable rule: %w", err)
		}
	}

	if d := sc.SituationDesign; d != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO situation_designs (scopeId, robotChanges, environmentalChanges) VALUES (?, ?, ?)`,
			scopeID, toNullString(d.RobotChanges), toNullString(d.EnvironmentalChanges)); err != nil {
			return fmt.Errorf("insert situation design: %w", err)
		}
	}

	for i := range sc.Participants {
		if err := insertParticipant(ctx, tx, projectID, scopeID, &sc.Participants[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, projectID, scopeID int64, p *models.Participant) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO participants
      (projectId, scopeId, participantId, name, summary, interviewText, createdAt, updatedAt)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, scopeID, p.ParticipantID, toNullString(p.Name), toNullString(p.Summary), toNullString(p.InterviewText),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert participant %s: %w", p.ParticipantID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	return insertAnswers(ctx, tx, rowID, p.Answers)
}

// insertAnswers writes answers in sorted section/key order.
func insertAnswers(ctx context.Context, q DBTX, participantRowID int64, answers models.Answers) error {
	for _, section := range sortedKeys(answers) {
		values := answers[section]
		for _, key := range sortedKeys(values) {
			v, err := sanitizeValue(values[key])
			if err != nil {
				return fmt.Errorf("answer %s/%s: %w", section, key, err)
			}
			if _, err := q.ExecContext(ctx, `INSERT INTO answers (participantId, section, questionKey, value) VALUES (?, ?, ?, ?)`,
				participantRowID, section, key, v); err != nil {
				return fmt.Errorf("insert answer %s/%s: %w", section, key, err)
			}
		}
	}
	return nil
}
