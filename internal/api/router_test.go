package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/ollama"
)

type stubLLM struct {
	reply string
}

func (s *stubLLM) Generate(context.Context, string) (string, error) { return s.reply, nil }

func (s *stubLLM) GenerateStream(_ context.Context, _ string, onChunk func(string)) (string, error) {
	for _, f := range strings.SplitAfter(s.reply, " ") {
		onChunk(f)
	}
	return s.reply, nil
}

func (s *stubLLM) CheckStatus(context.Context) ollama.Status {
	return ollama.Status{Reachable: true, Model: "llama3.1", ModelAvailable: true, Models: []string{"llama3.1:latest"}}
}

type testServer struct {
	*httptest.Server
	store *db.Store
}

func newTestServer(t *testing.T, llm LLM) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(filepath.Join(t.TempDir(), "mofasa.db"), db.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))

	mux := http.NewServeMux()
	NewRouter(store, llm, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func greeter() []models.Project {
	return []models.Project{{
		Name: "Library Greeter",
		Scopes: []models.Scope{{
			ScopeNumber: 1,
			ScopeText:   "Morning",
			IsActive:    true,
			Participants: []models.Participant{{
				ParticipantID: "P1",
				InterviewText: "The robot said hello at nine.",
				Answers:       models.Answers{models.SectionSituation: {"when": "9am"}},
			}},
		}},
	}}
}

func TestProjectsLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})

	resp := ts.do(t, http.MethodPut, "/api/projects", greeter())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	projects := decode[[]models.Project](t, resp)
	require.Len(t, projects, 1)
	p := projects[0]
	assert.Equal(t, map[string]any{"when": "9am"}, p.Scopes[0].Participants[0].Answers[models.SectionSituation])

	path := "/api/projects/" + itoa(p.ID)
	resp = ts.do(t, http.MethodPut, path, models.Project{Name: "Library Greeter v2", Rules: []string{"Say hi"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, path, nil)
	got := decode[models.Project](t, resp)
	assert.Equal(t, "Library Greeter v2", got.Name)
	assert.Equal(t, []string{"Say hi"}, got.Rules)

	resp = ts.do(t, http.MethodGet, path+"/answers.csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	csv, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(csv), "Library Greeter v2,1,P1,Situation,when,9am")

	resp = ts.do(t, http.MethodPut, "/api/scopes/"+itoa(p.Scopes[0].ID)+"/design",
		models.SituationDesign{RobotChanges: "Slower approach"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorBody](t, resp).Code)
}

func TestAddProjectAndBadInput(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})

	resp := ts.do(t, http.MethodPost, "/api/projects", models.Project{Name: "Bare"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotZero(t, decode[map[string]int64](t, resp)["id"])

	resp = ts.do(t, http.MethodPost, "/api/projects", models.Project{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/projects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := greeter()
	bad[0].Scopes[0].ScopeNumber = 6
	resp = ts.do(t, http.MethodPut, "/api/projects", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParticipantEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})
	ts.do(t, http.MethodPut, "/api/projects", greeter())
	projects, err := ts.store.GetAllProjects(context.Background())
	require.NoError(t, err)
	base := "/api/projects/" + itoa(projects[0].ID) + "/participants/"

	resp := ts.do(t, http.MethodPut, base+"P1/summary", textBody{Text: "Friendly"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, base+"P1/answers", models.Answers{models.SectionDecision: {"decision": "wave"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"P1", nil)
	part := decode[models.Participant](t, resp)
	assert.Equal(t, "Friendly", part.Summary)
	assert.Equal(t, models.Answers{models.SectionDecision: {"decision": "wave"}}, part.Answers)

	resp = ts.do(t, http.MethodPut, base+"P9/interview", textBody{Text: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, base+"P9/answers", models.Answers{})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unknown participant answers are ignored")
}

func TestQuestionStatusConflict(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})

	resp := ts.do(t, http.MethodPut, "/api/projects/1/questions/ruleReasoning", map[string]bool{"isEnabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, "/api/projects/1/questions/selectedRules", map[string]bool{"isEnabled": false})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, resp).Error, models.SectionRuleSelect)

	resp = ts.do(t, http.MethodPut, "/api/projects/1/questions/ghost", map[string]bool{"isEnabled": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, "/api/projects/1/questions/when", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/projects/1/questions?enabled=true", nil)
	sections := decode[[]models.SectionQuestions](t, resp)
	for _, sq := range sections {
		if sq.Section == models.SectionRuleSelect {
			require.Len(t, sq.Questions, 1)
			assert.Equal(t, "selectedRules", sq.Questions[0].QuestionID)
		}
	}

	resp = ts.do(t, http.MethodGet, "/api/questionnaire", nil)
	assert.NotEmpty(t, decode[[]models.QuestionnaireItem](t, resp))
	resp = ts.do(t, http.MethodGet, "/api/factors", nil)
	assert.NotEmpty(t, decode[[]models.Factor](t, resp))
}

func TestUndesirableRuleEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})

	resp := ts.do(t, http.MethodPost, "/api/scopes/4/undesirable-rules", map[string]string{"rule": "Interrupts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, "/api/scopes/4/undesirable-rules", map[string][]string{"rules": {"A", "B"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/api/scopes/4/undesirable-rules?rule=A", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/scopes/4/undesirable-rules", nil)
	body := decode[struct {
		Rules []string `json:"rules"`
	}](t, resp)
	assert.Equal(t, []string{"B"}, body.Rules)
}

func TestBundleEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})
	ts.do(t, http.MethodPut, "/api/projects", greeter())
	projects, err := ts.store.GetAllProjects(context.Background())
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/api/projects/"+itoa(projects[0].ID)+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = ts.do(t, http.MethodPost, "/api/projects/import", map[string]json.RawMessage{"bundle": raw})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	all, err := ts.store.GetAllProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLLMEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubLLM{reply: "They felt welcomed."})
	ts.do(t, http.MethodPut, "/api/projects", greeter())
	projects, err := ts.store.GetAllProjects(context.Background())
	require.NoError(t, err)
	base := "/api/projects/" + itoa(projects[0].ID) + "/participants/P1"

	resp := ts.do(t, http.MethodGet, "/api/llm/status", nil)
	assert.True(t, decode[ollama.Status](t, resp).ModelAvailable)

	resp = ts.do(t, http.MethodPost, base+"/summary/generate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "They felt welcomed.", decode[map[string]string](t, resp)["summary"])

	resp = ts.do(t, http.MethodPost, base+"/summary/generate?stream=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lines []map[string]string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var m map[string]string
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "They ", lines[0]["chunk"])
	assert.Equal(t, "They felt welcomed.", lines[3]["summary"])

	// Generation never writes the summary.
	part, err := ts.store.GetParticipant(context.Background(), projects[0].ID, "P1")
	require.NoError(t, err)
	assert.Empty(t, part.Summary)

	resp = ts.do(t, http.MethodPost, base+"/answers/extract", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, "stub reply is not JSON")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestNumericAnswersKeepIntegerText(t *testing.T) {
	ts := newTestServer(t, &stubLLM{})

	body := json.RawMessage(`[{"name":"Counts","scopes":[{"scopeNumber":1,"participants":[
		{"participantId":"P1","answers":{"Situation":{"count":9,"ratio":2.5,"ok":true}}}]}]}]`)
	resp := ts.do(t, http.MethodPut, "/api/projects", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/projects", nil)
	projects := decode[[]models.Project](t, resp)
	require.Len(t, projects, 1)
	assert.Equal(t, map[string]any{"count": "9", "ratio": "2.5", "ok": "1"},
		projects[0].Scopes[0].Participants[0].Answers[models.SectionSituation])

	path := "/api/projects/" + itoa(projects[0].ID) + "/participants/P1"
	resp = ts.do(t, http.MethodPut, path+"/answers", json.RawMessage(`{"Situation":{"count":12}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Participant](t, resp)
	assert.Equal(t, "12", got.Answers[models.SectionSituation]["count"])
}
