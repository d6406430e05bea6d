package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"testing"

	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/ollama"
)

type stubAnalysisStore struct {
	project      *models.Project
	participants map[string]*models.Participant
	sections     []models.SectionQuestions
}

func (s *stubAnalysisStore) GetProject(_ context.Context, id int64) (*models.Project, error) {
	if s.project == nil || s.project.ID != id {
		return nil, db.ErrNotFound
	}
	copy := *s.project
	return &copy, nil
}

func (s *stubAnalysisStore) GetParticipant(_ context.Context, _ int64, participantID string) (*models.Participant, error) {
	p, ok := s.participants[participantID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *stubAnalysisStore) GetEnabledProjectQuestions(context.Context, int64) ([]models.SectionQuestions, error) {
	return s.sections, nil
}

type stubGenerator struct {
	reply  string
	err    error
	prompt string
	stream bool
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

func (g *stubGenerator) GenerateStream(_ context.Context, prompt string, onChunk func(string)) (string, error) {
	g.prompt, g.stream = prompt, true
	if g.err != nil {
		return "", g.err
	}
	for _, f := range strings.Fields(g.reply) {
		onChunk(f)
	}
	return g.reply, nil
}

func analysisFixture() *stubAnalysisStore {
	return &stubAnalysisStore{
		project: &models.Project{ID: 3, Name: "Library Greeter"},
		participants: map[string]*models.Participant{
			"P1": {
				ParticipantID: "P1",
				InterviewText: "I met the robot at nine in the lobby.",
				Answers:       models.Answers{models.SectionSituation: {"when": "9am"}},
			},
			"P2": {ParticipantID: "P2"},
		},
		sections: []models.SectionQuestions{
			{Section: models.SectionSituation, Questions: []models.QuestionnaireItem{
				{QuestionID: "when", QuestionText: "When?"},
				{QuestionID: "where", QuestionText: "Where?"},
			}},
		},
	}
}

func TestGenerateSummaryUsesProjectPrompt(t *testing.T) {
	store := analysisFixture()
	store.project.SummaryPrompt = "Write two sentences."
	gen := &stubGenerator{reply: "The participant met the robot early."}
	svc := NewAnalysisService(store, gen, quietLogger())

	var chunks []string
	out, err := svc.GenerateSummary(context.Background(), "3", "P1", func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out != gen.reply || !gen.stream || len(chunks) == 0 {
		t.Fatalf("unexpected result %q stream=%v chunks=%v", out, gen.stream, chunks)
	}
	if !strings.HasPrefix(gen.prompt, "Write two sentences.") {
		t.Fatalf("prompt override not applied: %q", gen.prompt)
	}
	for _, want := range []string{"lobby", "- when: 9am"} {
		if !strings.Contains(gen.prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestGenerateSummaryErrors(t *testing.T) {
	store := analysisFixture()
	svc := NewAnalysisService(store, &stubGenerator{}, quietLogger())
	ctx := context.Background()

	_, err := svc.GenerateSummary(ctx, "3", "P2", nil)
	wantCode(t, err, ErrorInvalid)
	_, err = svc.GenerateSummary(ctx, "3", "P9", nil)
	wantCode(t, err, ErrorNotFound)
	_, err = svc.GenerateSummary(ctx, "4", "P1", nil)
	wantCode(t, err, ErrorNotFound)
	_, err = svc.GenerateSummary(ctx, "x", "P1", nil)
	wantCode(t, err, ErrorInvalid)
}

func TestGenerateSummaryKeepsOllamaGuidance(t *testing.T) {
	store := analysisFixture()
	c := &ollama.Client{BaseURL: "http://127.0.0.1:1", HTTP: refusingClient{}}
	svc := NewAnalysisService(store, c, quietLogger())

	_, err := svc.GenerateSummary(context.Background(), "3", "P1", nil)
	wantCode(t, err, ErrorUnavailable)
	if !strings.Contains(err.Error(), "Cannot connect to Ollama") {
		t.Fatalf("guidance lost: %v", err)
	}
}

func TestExtractAnswersFiltersUnknownKeys(t *testing.T) {
	gen := &stubGenerator{reply: "Here you go:\n```json\n{\"Situation\":{\"when\":\"9am\",\"mood\":\"calm\"},\"Other\":{\"x\":\"y\"}}\n```"}
	svc := NewAnalysisService(analysisFixture(), gen, quietLogger())

	got, err := svc.ExtractAnswers(context.Background(), "3", "P1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := models.Answers{models.SectionSituation: {"when": "9am"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if !strings.Contains(gen.prompt, "- where: Where?") {
		t.Fatalf("prompt does not list enabled questions: %q", gen.prompt)
	}
}

func TestExtractAnswersInvalidJSON(t *testing.T) {
	svc := NewAnalysisService(analysisFixture(), &stubGenerator{reply: "no idea"}, quietLogger())
	_, err := svc.ExtractAnswers(context.Background(), "3", "P1")
	wantCode(t, err, ErrorBadGateway)

	svc = NewAnalysisService(analysisFixture(), &stubGenerator{err: errors.New("ollama: model not found")}, quietLogger())
	_, err = svc.ExtractAnswers(context.Background(), "3", "P1")
	wantCode(t, err, ErrorBadGateway)
}

type refusingClient struct{}

func (refusingClient) Do(*http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
}
