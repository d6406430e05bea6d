package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soaringjerry/mofasa/internal/models"
)

// Generator is the part of the Ollama client the analysis service needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onChunk func(string)) (string, error)
}

type AnalysisStore interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetParticipant(ctx context.Context, projectID int64, participantID string) (*models.Participant, error)
	GetEnabledProjectQuestions(ctx context.Context, projectID int64) ([]models.SectionQuestions, error)
}

// AnalysisService drafts participant summaries and answer sets with the LLM.
// Nothing it produces is written back; callers save explicitly.
type AnalysisService struct {
	store AnalysisStore
	llm   Generator
	log   *slog.Logger
}

func NewAnalysisService(store AnalysisStore, llm Generator, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{store: store, llm: llm, log: logger}
}

const defaultSummaryPrompt = "Summarize the following study participant's interview and questionnaire answers in one short paragraph. Focus on how they read the situation, which rules they considered and what they decided."

// GenerateSummary streams a summary for one participant when onChunk is set.
func (s *AnalysisService) GenerateSummary(ctx context.Context, projectID, participantID string, onChunk func(string)) (string, error) {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return "", err
	}
	project, err := s.store.GetProject(ctx, pid)
	if err != nil {
		return "", storeError(err, "project")
	}
	part, err := s.store.GetParticipant(ctx, pid, participantID)
	if err != nil {
		return "", storeError(err, fmt.Sprintf("participant %q", participantID))
	}
	if strings.TrimSpace(part.InterviewText) == "" && len(part.Answers) == 0 {
		return "", NewInvalidError("participant has no interview text or answers to summarize")
	}

	instructions := strings.TrimSpace(project.SummaryPrompt)
	if instructions == "" {
		instructions = defaultSummaryPrompt
	}
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	if t := strings.TrimSpace(part.InterviewText); t != "" {
		b.WriteString("Interview transcript:\n")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	if len(part.Answers) > 0 {
		b.WriteString("Questionnaire answers:\n")
		writeAnswers(&b, part.Answers)
	}

	var out string
	if onChunk != nil {
		out, err = s.llm.GenerateStream(ctx, b.String(), onChunk)
	} else {
		out, err = s.llm.Generate(ctx, b.String())
	}
	if err != nil {
		s.log.Warn("summary generation failed", "project", pid, "participant", participantID, "error", err)
		return "", llmError(err)
	}
	return out, nil
}

// ExtractAnswers asks the model to fill the enabled questions from the
// interview transcript. Keys the project does not ask are dropped.
func (s *AnalysisService) ExtractAnswers(ctx context.Context, projectID, participantID string) (models.Answers, error) {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return nil, err
	}
	part, err := s.store.GetParticipant(ctx, pid, participantID)
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("participant %q", participantID))
	}
	if strings.TrimSpace(part.InterviewText) == "" {
		return nil, NewInvalidError("participant has no interview text")
	}
	sections, err := s.store.GetEnabledProjectQuestions(ctx, pid)
	if err != nil {
		return nil, err
	}
	raw, err := s.llm.Generate(ctx, extractionPrompt(sections, part.InterviewText))
	if err != nil {
		s.log.Warn("answer extraction failed", "project", pid, "participant", participantID, "error", err)
		return nil, llmError(err)
	}
	var parsed map[string]map[string]any
	if err := json.Unmarshal([]byte(jsonObject(raw)), &parsed); err != nil {
		return nil, NewBadGatewayError("invalid JSON from model")
	}
	return filterAnswers(parsed, sections), nil
}

func extractionPrompt(sections []models.SectionQuestions, interview string) string {
	var b strings.Builder
	b.WriteString("Read the interview transcript and answer each question. Return ONLY a JSON object keyed by section name, then by question id, with string values. Use an empty string when the transcript does not answer a question.\n\nQuestions:\n")
	for _, sq := range sections {
		fmt.Fprintf(&b, "[%s]\n", sq.Section)
		for _, q := range sq.Questions {
			fmt.Fprintf(&b, "- %s: %s", q.QuestionID, q.QuestionText)
			if len(q.Options) > 0 {
				fmt.Fprintf(&b, " (one of: %s)", strings.Join(q.Options, ", "))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nInterview transcript:\n")
	b.WriteString(strings.TrimSpace(interview))
	return b.String()
}

// jsonObject cuts the outermost {...} out of a reply that may carry code
// fences or prose around it.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func filterAnswers(parsed map[string]map[string]any, sections []models.SectionQuestions) models.Answers {
	out := models.Answers{}
	for _, sq := range sections {
		got := parsed[sq.Section]
		if got == nil {
			continue
		}
		for _, q := range sq.Questions {
			v, ok := got[q.QuestionID]
			if !ok || v == nil {
				continue
			}
			if out[sq.Section] == nil {
				out[sq.Section] = map[string]any{}
			}
			out[sq.Section][q.QuestionID] = v
		}
	}
	return out
}

func writeAnswers(b *strings.Builder, answers models.Answers) {
	sections := make([]string, 0, len(answers))
	for sec := range answers {
		sections = append(sections, sec)
	}
	sort.Slice(sections, func(i, j int) bool { return sectionRank(sections[i]) < sectionRank(sections[j]) })
	for _, sec := range sections {
		fmt.Fprintf(b, "[%s]\n", sec)
		keys := make([]string, 0, len(answers[sec]))
		for k := range answers[sec] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %s\n", k, answerText(answers[sec][k]))
		}
	}
}

func sectionRank(section string) int {
	for i, s := range models.SectionOrder {
		if s == section {
			return i
		}
	}
	return len(models.SectionOrder)
}

func answerText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
