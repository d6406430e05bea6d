package models

import "time"

// Questionnaire sections, in display order.
const (
	SectionSituation  = "Situation"
	SectionIdentity   = "Identity"
	SectionDefinition = "Definition of Situation"
	SectionRuleSelect = "Rule Selection"
	SectionDecision   = "Decision"
)

// SelectedRulesKey is the answer key whose value is always a JSON list of rules.
const SelectedRulesKey = "selectedRules"

// MaxScopesPerProject bounds scopeNumber.
const MaxScopesPerProject = 5

// SectionOrder lists the questionnaire sections in the order the tool presents them.
var SectionOrder = []string{
	SectionSituation,
	SectionIdentity,
	SectionDefinition,
	SectionRuleSelect,
	SectionDecision,
}

// Answers maps section -> question key -> value. Values are plain strings unless
// they were stored as JSON (lists of selected rules, structured notes).
type Answers map[string]map[string]any

// Project is the root of a study: its scopes, participants and answers.
type Project struct {
	ID                int64                         `json:"id"`
	Name              string                        `json:"name"`
	Description       string                        `json:"description"`
	RobotType         string                        `json:"robotType"`
	StudyType         string                        `json:"studyType"`
	Rules             []string                      `json:"rules"`
	SummaryPrompt     string                        `json:"summaryPrompt,omitempty"`
	CreatedAt         time.Time                     `json:"createdAt"`
	UpdatedAt         time.Time                     `json:"updatedAt"`
	Scopes            []Scope                       `json:"scopes"`
	QuestionOverrides map[string][]QuestionOverride `json:"questionOverrides,omitempty"`
}

// Scope is one situational variant of a project (scopeNumber 1..5).
type Scope struct {
	ID               int64            `json:"id"`
	ScopeNumber      int              `json:"scopeNumber"`
	ScopeText        string           `json:"scopeText"`
	IsActive         bool             `json:"isActive"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	Participants     []Participant    `json:"participants"`
	Rules            []string         `json:"rules"`
	UndesirableRules []string         `json:"undesirableRules"`
	SituationDesign  *SituationDesign `json:"situationDesign,omitempty"`
}

// Participant is a study participant within one scope. ParticipantID is the
// human-readable label ("P1"), unique within (project, scope).
type Participant struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Summary       string    `json:"summary,omitempty"`
	InterviewText string    `json:"interviewText,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Answers       Answers   `json:"answers"`
}

// SituationDesign records the changes proposed for a scope.
type SituationDesign struct {
	RobotChanges         string `json:"robotChanges"`
	EnvironmentalChanges string `json:"environmentalChanges"`
}

// QuestionnaireItem is a reference question shared by all projects.
type QuestionnaireItem struct {
	ID           int64    `json:"id"`
	Section      string   `json:"section"`
	QuestionID   string   `json:"questionId"`
	QuestionText string   `json:"questionText"`
	QuestionType string   `json:"questionType"`
	Options      []string `json:"options,omitempty"`
	Factors      []string `json:"factors,omitempty"`
	OrderIndex   int      `json:"orderIndex"`
	IsEnabled    bool     `json:"isEnabled"`
}

// QuestionOverride is a per-project enable/disable choice for one question.
type QuestionOverride struct {
	QuestionID string `json:"questionId"`
	Section    string `json:"section"`
	IsEnabled  bool   `json:"isEnabled"`
}

// SectionQuestions groups resolved questionnaire items under a section.
type SectionQuestions struct {
	Section   string              `json:"section"`
	Questions []QuestionnaireItem `json:"questions"`
}

// Factor is an entry of the reference factor taxonomy.
type Factor struct {
	Name           string   `json:"factorName"`
	Description    string   `json:"description"`
	Examples       []string `json:"examples,omitempty"`
	RelatedFactors []string `json:"relatedFactors,omitempty"`
	ResearchNotes  string   `json:"researchNotes,omitempty"`
	Section        string   `json:"section"`
}
