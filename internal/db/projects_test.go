package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/mofasa/internal/models"
)

func projectNamed(name string) models.Project {
	return models.Project{Name: name, Rules: []string{}, Scopes: []models.Scope{}}
}

func libraryGreeter() models.Project {
	return models.Project{
		Name:      "Library Greeter",
		RobotType: "Pepper",
		Rules:     []string{},
		Scopes: []models.Scope{{
			ScopeNumber:      1,
			ScopeText:        "Morning",
			IsActive:         true,
			Rules:            []string{},
			UndesirableRules: []string{},
			Participants: []models.Participant{{
				ParticipantID: "P1",
				Answers:       models.Answers{models.SectionSituation: {"when": "9am"}},
			}},
		}},
	}
}

// stripGenerated clears ids and timestamps so trees can be compared.
func stripGenerated(list []models.Project) []models.Project {
	out := make([]models.Project, len(list))
	for i, p := range list {
		p.ID = 0
		p.CreatedAt, p.UpdatedAt = time.Time{}, time.Time{}
		scopes := make([]models.Scope, len(p.Scopes))
		for j, sc := range p.Scopes {
			sc.ID = 0
			sc.CreatedAt, sc.UpdatedAt = time.Time{}, time.Time{}
			parts := make([]models.Participant, len(sc.Participants))
			for k, pt := range sc.Participants {
				pt.ID = 0
				pt.CreatedAt, pt.UpdatedAt = time.Time{}, time.Time{}
				parts[k] = pt
			}
			sc.Participants = parts
			scopes[j] = sc
		}
		p.Scopes = scopes
		out[i] = p
	}
	return out
}

func TestLibraryGreeterRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{libraryGreeter()}))
	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Scopes, 1)
	require.Len(t, got[0].Scopes[0].Participants, 1)

	p1 := got[0].Scopes[0].Participants[0]
	assert.Equal(t, "P1", p1.ParticipantID)
	assert.Equal(t, models.Answers{"Situation": {"when": "9am"}}, p1.Answers)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.False(t, p1.UpdatedAt.IsZero())
}

func TestWhitespaceTextSurvivesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := models.Project{
		Name:        "Spaces",
		Description: " ",
		Scopes: []models.Scope{{
			ScopeNumber:     1,
			ScopeText:       " ",
			SituationDesign: &models.SituationDesign{RobotChanges: "  ", EnvironmentalChanges: "\t"},
			Participants:    []models.Participant{{ParticipantID: "P1", Name: "  "}},
		}},
	}
	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{in}))
	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	sc := got[0].Scopes[0]
	assert.Equal(t, " ", got[0].Description)
	assert.Equal(t, " ", sc.ScopeText)
	assert.Equal(t, &models.SituationDesign{RobotChanges: "  ", EnvironmentalChanges: "\t"}, sc.SituationDesign)
	assert.Equal(t, "  ", sc.Participants[0].Name)
}

func TestNumericAnswersReadBackAsDecimalText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := libraryGreeter()
	p.Scopes[0].Participants[0].Answers = models.Answers{"Situation": {"count": 9.0, "ratio": 2.5, "ok": true}}
	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{p}))
	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Answers{"Situation": {"count": "9", "ratio": "2.5", "ok": "1"}},
		got[0].Scopes[0].Participants[0].Answers)
}

func TestSelectedRulesDecodeAsList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := libraryGreeter()
	p.Scopes[0].Participants[0].Answers = models.Answers{
		models.SectionRuleSelect: {
			models.SelectedRulesKey: `["r1","r2"]`,
			"ruleReasoning":         "[not json",
		},
	}
	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{p}))

	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	answers := got[0].Scopes[0].Participants[0].Answers[models.SectionRuleSelect]
	assert.Equal(t, []any{"r1", "r2"}, answers[models.SelectedRulesKey])
	assert.Equal(t, "[not json", answers["ruleReasoning"])
}

func TestSaveAllProjectsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	input := []models.Project{
		{
			Name:          "Hospital Courier",
			Description:   "Delivery robot on ward 3",
			RobotType:     "TUG",
			StudyType:     "field",
			Rules:         []string{"Yield to staff", "Announce arrival"},
			SummaryPrompt: "Summarize with focus on safety.",
			Scopes: []models.Scope{
				{
					ScopeNumber:      1,
					ScopeText:        "Night shift",
					IsActive:         true,
					Rules:            []string{"Dim lights", "Slow down"},
					UndesirableRules: []string{"Blocks corridor"},
					SituationDesign:  &models.SituationDesign{RobotChanges: "Quieter motor", EnvironmentalChanges: "Floor markings"},
					Participants: []models.Participant{
						{
							ParticipantID: "P1",
							Name:          "Nurse A",
							Summary:       "Prefers audible cues.",
							InterviewText: "I: ...\nP: ...",
							Answers: models.Answers{
								models.SectionSituation:  {"when": "Night", "where": "Corridor"},
								models.SectionRuleSelect: {models.SelectedRulesKey: []any{"Dim lights"}},
								models.SectionDecision:   {"notes": map[string]any{"tone": "calm"}},
							},
						},
						{ParticipantID: "P2", Answers: models.Answers{}},
					},
				},
				{ScopeNumber: 2, ScopeText: "Day shift", Rules: []string{}, UndesirableRules: []string{}, Participants: []models.Participant{}},
			},
			QuestionOverrides: map[string][]models.QuestionOverride{
				models.SectionSituation: {{QuestionID: "when", Section: models.SectionSituation, IsEnabled: false}},
			},
		},
		{
			Name:      "Library Greeter",
			Rules:     []string{},
			Scopes:    []models.Scope{},
			CreatedAt: created,
			UpdatedAt: created,
		},
	}
	require.NoError(t, s.SaveAllProjects(ctx, input))

	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, stripGenerated(input), stripGenerated(got))
	assert.True(t, created.Equal(got[1].CreatedAt))

	// Saving what was read back is stable.
	require.NoError(t, s.SaveAllProjects(ctx, got))
	again, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, stripGenerated(got), stripGenerated(again))
}

func TestSaveAllProjectsKeepsStoredOverridesAndRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := libraryGreeter()
	p.Scopes[0].UndesirableRules = []string{"Talks too loud"}
	p.QuestionOverrides = map[string][]models.QuestionOverride{
		models.SectionDecision: {{QuestionID: "consequences", Section: models.SectionDecision, IsEnabled: true}},
	}
	_, err := s.ImportProject(ctx, p)
	require.NoError(t, err)

	stored, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	stored[0].QuestionOverrides = nil
	stored[0].Scopes[0].UndesirableRules = nil
	require.NoError(t, s.SaveAllProjects(ctx, stored))

	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Talks too loud"}, got[0].Scopes[0].UndesirableRules)
	require.Len(t, got[0].QuestionOverrides[models.SectionDecision], 1)
	assert.True(t, got[0].QuestionOverrides[models.SectionDecision][0].IsEnabled)
}

func TestSaveAllProjectsIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{libraryGreeter()}))
	before, err := s.GetAllProjects(ctx)
	require.NoError(t, err)

	bad := projectNamed("Broken")
	bad.Scopes = []models.Scope{{ScopeNumber: 6}}
	err = s.SaveAllProjects(ctx, []models.Project{projectNamed("First"), bad})
	require.ErrorIs(t, err, ErrInvalid)

	after, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveAllProjectsEmptyClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAllProjects(ctx, []models.Project{libraryGreeter()}))
	require.NoError(t, s.SaveAllProjects(ctx, nil))

	got, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	for _, table := range projectTables {
		assert.Zero(t, countRows(t, s, "SELECT COUNT(*) FROM "+table), table)
	}
	assert.Positive(t, countRows(t, s, `SELECT COUNT(*) FROM questionnaire`))
}

func TestAddProjectCreatesBareRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := libraryGreeter()
	id, err := s.AddProject(ctx, p)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Library Greeter", got.Name)
	assert.Empty(t, got.Scopes)

	_, err = s.AddProject(ctx, models.Project{})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestImportProjectLeavesOthersAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	firstID, err := s.AddProject(ctx, projectNamed("Existing"))
	require.NoError(t, err)

	p := libraryGreeter()
	p.Scopes[0].UndesirableRules = []string{"Ignores queue"}
	p.QuestionOverrides = map[string][]models.QuestionOverride{
		models.SectionSituation: {{QuestionID: "who", IsEnabled: false}},
	}
	id, err := s.ImportProject(ctx, p)
	require.NoError(t, err)
	require.NotEqual(t, firstID, id)

	all, err := s.GetAllProjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Existing", all[0].Name)

	imported := all[1]
	assert.Equal(t, id, imported.ID)
	assert.Equal(t, []string{"Ignores queue"}, imported.Scopes[0].UndesirableRules)
	require.Len(t, imported.QuestionOverrides[models.SectionSituation], 1)
	assert.Equal(t, models.QuestionOverride{QuestionID: "who", Section: models.SectionSituation}, imported.QuestionOverrides[models.SectionSituation][0])
}

func TestImportProjectRollsBackOnDuplicateScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := projectNamed("Duplicate scopes")
	p.Scopes = []models.Scope{{ScopeNumber: 1}, {ScopeNumber: 1}}
	_, err := s.ImportProject(ctx, p)
	require.Error(t, err)
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM projects`))
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM scopes`))
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddProject(ctx, projectNamed("Draft"))
	require.NoError(t, err)

	err = s.UpdateProject(ctx, models.Project{ID: id, Name: "Final", StudyType: "lab", Rules: []string{"Be polite"}, SummaryPrompt: "Short."})
	require.NoError(t, err)
	got, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Name)
	assert.Equal(t, "lab", got.StudyType)
	assert.Equal(t, []string{"Be polite"}, got.Rules)
	assert.Equal(t, "Short.", got.SummaryPrompt)

	require.ErrorIs(t, s.UpdateProject(ctx, models.Project{ID: id + 100, Name: "Ghost"}), ErrNotFound)
	require.ErrorIs(t, s.UpdateProject(ctx, models.Project{ID: id}), ErrInvalid)
}

func TestDeleteProjectRemovesDependents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := libraryGreeter()
	p.Scopes[0].Rules = []string{"Greet"}
	p.Scopes[0].UndesirableRules = []string{"Shouts"}
	p.Scopes[0].SituationDesign = &models.SituationDesign{RobotChanges: "Softer voice"}
	p.QuestionOverrides = map[string][]models.QuestionOverride{
		models.SectionSituation: {{QuestionID: "when", IsEnabled: false}},
	}
	id, err := s.ImportProject(ctx, p)
	require.NoError(t, err)
	keepID, err := s.ImportProject(ctx, libraryGreeter())
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, id))
	require.ErrorIs(t, s.DeleteProject(ctx, id), ErrNotFound)

	_, err = s.GetProject(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	kept, err := s.GetProject(ctx, keepID)
	require.NoError(t, err)
	require.Len(t, kept.Scopes, 1)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM scopes`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM participants`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM answers`))
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM scope_rules`))
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM undesirable_rules`))
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM situation_designs`))
	assert.Zero(t, countRows(t, s, `SELECT COUNT(*) FROM project_questions`))
}

func TestSaveSituationDesign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ImportProject(ctx, libraryGreeter())
	require.NoError(t, err)
	p, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	scopeID := p.Scopes[0].ID

	require.NoError(t, s.SaveSituationDesign(ctx, scopeID, models.SituationDesign{RobotChanges: "Lower height"}))
	require.NoError(t, s.SaveSituationDesign(ctx, scopeID, models.SituationDesign{RobotChanges: "Lower height", EnvironmentalChanges: "Quiet zone"}))

	p, err = s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &models.SituationDesign{RobotChanges: "Lower height", EnvironmentalChanges: "Quiet zone"}, p.Scopes[0].SituationDesign)
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM situation_designs`))

	require.ErrorIs(t, s.SaveSituationDesign(ctx, scopeID+100, models.SituationDesign{}), ErrNotFound)
}
