//go:build e2e
// +build e2e

// End-to-end flow against a live Redis. The upstream platform is faked
// in-process so the whole submit → questions → submitted → graded loop can
// run without external services beyond Redis.
//
//	REDIS_URL=redis://localhost:6379/0 go test -tags e2e ./test/e2e/
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cqbot/cqbot-backend/internal/config"
	"github.com/cqbot/cqbot-backend/internal/database"
	"github.com/cqbot/cqbot-backend/internal/handler"
	"github.com/cqbot/cqbot-backend/internal/logger"
	"github.com/cqbot/cqbot-backend/internal/repository"
	"github.com/cqbot/cqbot-backend/internal/router"
	"github.com/cqbot/cqbot-backend/internal/service"
	"github.com/cqbot/cqbot-backend/internal/upstream"
	"github.com/cqbot/cqbot-backend/internal/validator"
	"github.com/cqbot/cqbot-backend/internal/worker"
)

const (
	e2eCookie  = "platform_session=e2e-cookie"
	e2eRepoURL = "https://github.com/e2e/fixture-repo"
	badRepoURL = "https://github.com/e2e/private-repo"
)

var (
	gateway *httptest.Server
	redisDB *redis.Client
	token   string
)

// fakePlatform is the in-process stand-in for the upstream services.
func fakePlatform() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		authed := r.Header.Get("Cookie") == e2eCookie
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": authed,
			"github_login":  "e2e-user",
			"is_instructor": false,
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/repos/verify", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RepoURL string `json:"repo_url"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.RepoURL == badRepoURL {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": "repository is private"})
			return
		}
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"submission_id": "sub-e2e",
			"status":        "questions_ready",
			"questions": []map[string]interface{}{
				{"id": "q1", "text": "What does the worker pool bound?", "file_path": "pool.go", "line_start": 4, "line_end": 31, "excerpt": "sem := make(chan struct{}, n)"},
				{"id": "q2", "text": "Why is the map copied here?", "file_path": "state.go", "line_start": 12, "line_end": 20, "excerpt": "out := make(map[string]int)"},
			},
		})
	})
	mux.HandleFunc("/answers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/submissions/sub-e2e/grades", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"grades": []map[string]interface{}{
				{"answer_id": "a1", "score": 5, "rationale": "precise", "confidence": 0.95},
				{"answer_id": "a2", "score": 4, "rationale": "mostly right", "confidence": 0.85},
			},
		})
	})

	return mux
}

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	platform := httptest.NewServer(fakePlatform())
	defer platform.Close()

	os.Setenv("UPSTREAM_BASE_URL", platform.URL)
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "e2e-secret")
	}
	os.Setenv("GIN_MODE", "release")
	os.Setenv("LOG_LEVEL", "error")

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	rdb, err := database.NewRedisClient(context.Background(), cfg, log)
	if err != nil {
		fmt.Printf("redis connect failed (is Redis running?): %v\n", err)
		os.Exit(1)
	}
	defer rdb.Close()
	redisDB = rdb

	upstreamClient := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, log)
	draftRepo := repository.NewDraftRepository(rdb, cfg.DraftTTL, log)
	authService := service.NewAuthService(cfg, rdb, upstreamClient, log)
	gradePoller := worker.NewGradePoller(upstreamClient, log)
	workflowService := service.NewWorkflowService(upstreamClient, draftRepo, gradePoller, log)

	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(authService, workflowService, upstreamClient),
		Workflow: handler.NewWorkflowHandler(workflowService, upstreamClient),
		WS:       handler.NewWSHandler(authService, workflowService, log, cfg.AllowedOrigins),
		System:   handler.NewSystemHandler(rdb, log),
	}

	gateway = httptest.NewServer(router.SetupRouter(authService, handlers, cfg))
	defer gateway.Close()

	os.Exit(m.Run())
}

type apiResponse struct {
	Data  map[string]json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func call(t *testing.T, method, path, body string, headers map[string]string) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, gateway.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("decode %s %s: %v\nbody: %s", method, path, err, raw)
	}
	return resp.StatusCode, parsed
}

func authed(t *testing.T, method, path, body string) (int, apiResponse) {
	t.Helper()
	return call(t, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func TestE2E_01_EstablishSession(t *testing.T) {
	status, resp := call(t, http.MethodPost, "/api/v1/auth/session", "", map[string]string{"Cookie": e2eCookie})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if err := json.Unmarshal(resp.Data["token"], &token); err != nil || token == "" {
		t.Fatalf("no token in response: %v", err)
	}

	status, resp = authed(t, http.MethodGet, "/api/v1/auth/me", "")
	if status != http.StatusOK {
		t.Fatalf("auth/me status = %d", status)
	}
	var login string
	json.Unmarshal(resp.Data["login"], &login)
	if login != "e2e-user" {
		t.Errorf("login = %q, want e2e-user", login)
	}
}

func TestE2E_02_AnonymousCookieGetsAuthURL(t *testing.T) {
	status, resp := call(t, http.MethodPost, "/api/v1/auth/session", "", map[string]string{"Cookie": "platform_session=wrong"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if _, ok := resp.Data["auth_url"]; !ok {
		t.Error("anonymous response missing auth_url")
	}
	if _, ok := resp.Data["token"]; ok {
		t.Error("anonymous response carries a token")
	}
}

func TestE2E_03_VerifyRejection(t *testing.T) {
	// Fresh state for the flow tests.
	authed(t, http.MethodPost, "/api/v1/workflow/reset", "")

	status, resp := authed(t, http.MethodPost, "/api/v1/workflow/submissions",
		fmt.Sprintf(`{"repo_url":"%s"}`, badRepoURL))
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
	if resp.Error == nil || resp.Error.Code != "VERIFICATION_FAILED" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Error.Message != "repository is private" {
		t.Errorf("message = %q, want upstream rejection surfaced", resp.Error.Message)
	}
}

func TestE2E_04_FullSubmissionFlow(t *testing.T) {
	// A corrupt persisted draft must not break the start; the gateway purges
	// it and seeds a clean state.
	draftKey := config.CacheKey.DraftKey("e2e-user", e2eRepoURL)
	if err := redisDB.Set(context.Background(), draftKey, "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt draft: %v", err)
	}

	status, resp := authed(t, http.MethodPost, "/api/v1/workflow/submissions",
		fmt.Sprintf(`{"repo_url":"%s"}`, e2eRepoURL))
	if status != http.StatusCreated {
		t.Fatalf("start status = %d: %+v", status, resp.Error)
	}
	if n, _ := redisDB.Exists(context.Background(), draftKey).Result(); n != 0 {
		t.Error("corrupt draft record was not purged")
	}

	for _, qid := range []string{"q1", "q2"} {
		status, _ = authed(t, http.MethodPut, "/api/v1/workflow/answers/"+qid,
			`{"text":"it bounds concurrent workers"}`)
		if status != http.StatusOK {
			t.Fatalf("edit %s status = %d", qid, status)
		}
	}

	authed(t, http.MethodPost, "/api/v1/workflow/events", `{"type":"focus","question_id":"q1"}`)
	authed(t, http.MethodPost, "/api/v1/workflow/events", `{"type":"blur","question_id":"q1"}`)
	authed(t, http.MethodPost, "/api/v1/workflow/events", `{"type":"paste","question_id":"q2"}`)

	status, resp = authed(t, http.MethodPost, "/api/v1/workflow/submit", "")
	if status != http.StatusOK {
		t.Fatalf("submit status = %d: %+v", status, resp.Error)
	}

	// The poller waits 3s before its first attempt; the fake platform
	// answers completely on the first query.
	deadline := time.Now().Add(20 * time.Second)
	for {
		_, resp = authed(t, http.MethodGet, "/api/v1/workflow", "")
		var snap struct {
			Stage   string `json:"stage"`
			Grading *struct {
				Pending bool `json:"pending"`
				Report  *struct {
					TotalScore int    `json:"total_score"`
					Level      string `json:"level"`
				} `json:"report"`
			} `json:"grading"`
		}
		json.Unmarshal(resp.Data["workflow"], &snap)

		if snap.Stage != "submitted" {
			t.Fatalf("stage = %q, want submitted", snap.Stage)
		}
		if snap.Grading != nil && !snap.Grading.Pending {
			if snap.Grading.Report == nil {
				t.Fatal("grading finished without a report")
			}
			if snap.Grading.Report.TotalScore != 9 {
				t.Errorf("TotalScore = %d, want 9", snap.Grading.Report.TotalScore)
			}
			if snap.Grading.Report.Level != "Excellent" {
				t.Errorf("Level = %q, want Excellent (9/10)", snap.Grading.Report.Level)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("grades never arrived")
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestE2E_05_ResetAndLogout(t *testing.T) {
	status, resp := authed(t, http.MethodPost, "/api/v1/workflow/reset", "")
	if status != http.StatusOK {
		t.Fatalf("reset status = %d", status)
	}
	var snap struct {
		Stage string `json:"stage"`
	}
	json.Unmarshal(resp.Data["workflow"], &snap)
	if snap.Stage != "submit" {
		t.Errorf("stage after reset = %q, want submit", snap.Stage)
	}

	status, _ = authed(t, http.MethodPost, "/api/v1/auth/logout", "")
	if status != http.StatusOK {
		t.Fatalf("logout status = %d", status)
	}

	// The session is gone: the old token no longer passes the JTI check.
	status, _ = authed(t, http.MethodGet, "/api/v1/workflow", "")
	if status != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d, want 401", status)
	}
}
