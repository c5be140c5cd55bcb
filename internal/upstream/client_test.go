package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zerolog.Nop()), srv
}

func TestMeAuthenticated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			t.Errorf("path = %q, want /auth/me", r.URL.Path)
		}
		if got := r.Header.Get("Cookie"); got != "session=abc" {
			t.Errorf("cookie = %q, want forwarded session", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": true,
			"github_login":  "octocat",
			"is_instructor": true,
		})
	}))

	identity, err := client.Me(context.Background(), "session=abc")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if !identity.Authenticated || identity.Login != "octocat" || !identity.IsInstructor {
		t.Errorf("identity = %+v", identity)
	}
}

func TestMeUnauthenticatedBodyIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"authenticated": false})
	}))

	identity, err := client.Me(context.Background(), "")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if identity.Authenticated || identity.Login != "" {
		t.Errorf("identity = %+v, want anonymous", identity)
	}
}

func TestVerifyRepoSurfacesErrorBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/verify" || r.Method != http.MethodPost {
			t.Errorf("%s %s, want POST /repos/verify", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["repo_url"] != "https://github.com/u/r" {
			t.Errorf("repo_url = %q", body["repo_url"])
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "repository is private"})
	}))

	err := client.VerifyRepo(context.Background(), "https://github.com/u/r")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ue.Message != "repository is private" {
		t.Errorf("Message = %q, want error body surfaced", ue.Message)
	}
	if ue.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d", ue.StatusCode)
	}
}

func TestVerifyRepoFallsBackToStatusText(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>not json</html>"))
	}))

	err := client.VerifyRepo(context.Background(), "https://github.com/u/r")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ue.Message != http.StatusText(http.StatusBadGateway) {
		t.Errorf("Message = %q, want status text fallback", ue.Message)
	}
}

func TestCreateSubmissionDecodesQuestions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"submission_id": "sub-42",
			"status":        "questions_ready",
			"questions": []map[string]interface{}{
				{"id": "q1", "text": "What does this goroutine do?", "file_path": "main.go", "line_start": 10, "line_end": 24, "excerpt": "go run()"},
				{"id": "q2", "text": "Why a pointer receiver?", "file_path": "store.go", "line_start": 3, "line_end": 9, "excerpt": "func (s *Store)"},
			},
		})
	}))

	sub, err := client.CreateSubmission(context.Background(), "https://github.com/u/r")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if sub.SubmissionID != "sub-42" || len(sub.Questions) != 2 {
		t.Fatalf("submission = %+v", sub)
	}
	q := sub.Questions[0]
	if q.ID != "q1" || q.FilePath != "main.go" || q.LineStart != 10 || q.LineEnd != 24 {
		t.Errorf("question = %+v", q)
	}
}

func TestSubmitAnswersSendsBatch(t *testing.T) {
	var got struct {
		Answers []model.AnswerRecord `json:"answers"`
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/answers" {
			t.Errorf("path = %q, want /answers", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))
	}))

	records := []model.AnswerRecord{
		{SubmissionID: "sub-1", QuestionID: "q1", AnswerText: "fan-out", TimeSpentMs: 8000, PasteAttempts: 1, FocusLossCount: 2},
		{SubmissionID: "sub-1", QuestionID: "q2", AnswerText: "backpressure", TimeSpentMs: 3000},
	}
	if err := client.SubmitAnswers(context.Background(), records); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if len(got.Answers) != 2 || got.Answers[0].QuestionID != "q1" || got.Answers[1].AnswerText != "backpressure" {
		t.Errorf("upstream received %+v", got.Answers)
	}
}

func TestGradesEscapesSubmissionID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/submissions/sub%2F1/grades" {
			t.Errorf("path = %q, want escaped submission id", r.URL.EscapedPath())
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"grades": []map[string]interface{}{
				{"answer_id": "a1", "score": 4, "rationale": "solid", "confidence": 0.85},
			},
		})
	}))

	grades, err := client.Grades(context.Background(), "sub/1")
	if err != nil {
		t.Fatalf("Grades: %v", err)
	}
	if len(grades) != 1 || grades[0].Score != 4 || grades[0].Confidence != 0.85 {
		t.Errorf("grades = %+v", grades)
	}
}

func TestStaticURLs(t *testing.T) {
	client := NewClient("https://platform.example/cqbot", time.Second, zerolog.Nop())
	if got := client.CSVExportURL(); got != "https://platform.example/cqbot/exports/submissions.csv" {
		t.Errorf("CSVExportURL = %q", got)
	}
	if got := client.AuthURL(); got != "https://platform.example/cqbot/auth/github" {
		t.Errorf("AuthURL = %q", got)
	}
}
