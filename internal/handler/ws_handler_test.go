package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/middleware"
	"github.com/cqbot/cqbot-backend/internal/model"
	"github.com/cqbot/cqbot-backend/internal/service"
	ws "github.com/cqbot/cqbot-backend/internal/websocket"
)

type allowAllSessions struct{}

func (allowAllSessions) ValidateSession(ctx context.Context, login, jti string) error { return nil }

func newStreamServer(t *testing.T, remote *stubRemote) (*httptest.Server, *service.WorkflowService) {
	t.Helper()
	svc := service.NewWorkflowService(remote, stubDrafts{}, stubPoller{}, zerolog.Nop())
	h := NewWSHandler(allowAllSessions{}, svc, zerolog.Nop(), nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{Login: "octocat"})
	})
	r.GET("/stream", h.WorkflowStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWorkflowStreamGreetsAndPushesStageTransitions(t *testing.T) {
	srv, svc := newStreamServer(t, twoQuestionRemote())
	conn := dialStream(t, srv)
	defer conn.Close()

	var greeting ws.StateResponse
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if greeting.Event != ws.EventState || greeting.Stage != model.StageSubmit {
		t.Fatalf("greeting = %+v, want state/submit", greeting)
	}

	if err := svc.StartSubmission(context.Background(), "octocat", "https://github.com/u/r"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var st ws.StateResponse
		conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("reading stage events: %v", err)
		}
		if st.Stage == model.StageQuestions {
			return
		}
	}
}

func TestWorkflowStreamDispatchesEditAction(t *testing.T) {
	srv, svc := newStreamServer(t, twoQuestionRemote())
	if err := svc.StartSubmission(context.Background(), "octocat", "https://github.com/u/r"); err != nil {
		t.Fatal(err)
	}

	conn := dialStream(t, srv)
	defer conn.Close()

	var greeting ws.StateResponse
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionEdit, QuestionID: "q1", Text: "bounded by the semaphore"}); err != nil {
		t.Fatal(err)
	}

	// Edits are acknowledged silently; poll the snapshot for the applied draft.
	deadline := time.Now().Add(2 * time.Second)
	for svc.Snapshot("octocat").Answers["q1"] != "bounded by the semaphore" {
		if time.Now().After(deadline) {
			t.Fatal("edit action never reached the workflow")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Churns connections while stage transitions are being emitted. A teardown
// that closes the outbound channel before the event forwarder has stopped
// would panic the whole test binary here with "send on closed channel".
func TestWorkflowStreamDisconnectDuringEvents(t *testing.T) {
	srv, svc := newStreamServer(t, twoQuestionRemote())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			svc.StartSubmission(context.Background(), "octocat", "https://github.com/u/r")
			svc.Reset(context.Background(), "octocat")
		}
	}()

	for i := 0; i < 200; i++ {
		conn := dialStream(t, srv)
		if i%2 == 0 {
			var first ws.StateResponse
			conn.SetReadDeadline(time.Now().Add(time.Second))
			conn.ReadJSON(&first)
		}
		conn.Close()
	}

	close(stop)
	wg.Wait()
}
