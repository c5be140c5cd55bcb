package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/middleware"
	"github.com/cqbot/cqbot-backend/internal/response"
	"github.com/cqbot/cqbot-backend/internal/service"
	ws "github.com/cqbot/cqbot-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionValidator checks that a token's JTI still names the active session.
// *service.AuthService satisfies it.
type SessionValidator interface {
	ValidateSession(ctx context.Context, login, jti string) error
}

// WSHandler streams workflow state over WebSocket and accepts the editing
// and integrity actions on the same connection.
type WSHandler struct {
	authService     SessionValidator
	workflowService *service.WorkflowService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(authService SessionValidator, workflowService *service.WorkflowService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		authService:     authService,
		workflowService: workflowService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// WorkflowStream godoc
// WS /ws/v1/workflow/stream?token=...
// Upgrades to WebSocket. Pushes stage transitions and the grading outcome;
// accepts edit, paste, focus, blur, focus_loss and ping actions.
func (h *WSHandler) WorkflowStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ValidateSession(c.Request.Context(), claims.Login, claims.ID); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	login := claims.Login
	wsLog := h.log.With().Str("login", login).Str("conn_id", uuid.NewString()).Logger()
	wsLog.Info().Msg("Workflow stream connected")

	events, unsubscribe := h.workflowService.Subscribe(login)

	// Single writer goroutine; the read loop and the event forwarder both
	// enqueue into outbound.
	outbound := make(chan interface{}, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for v := range outbound {
			if err := ws.WriteTyped(conn, v); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed, dropping connection")
				conn.Close()
				return
			}
		}
	}()

	// The forwarder owns outbound: it keeps draining events after the writer
	// is gone and closes outbound only once the subscription is closed, so
	// teardown cannot send on a closed channel.
	go func() {
		defer close(outbound)
		for ev := range events {
			select {
			case outbound <- translateEvent(ev):
			case <-writerDone:
			}
		}
	}()
	defer unsubscribe()

	// Greet with current state so the client renders without a REST call.
	snap := h.workflowService.Snapshot(login)
	h.enqueue(outbound, writerDone, ws.StateResponse{Event: ws.EventState, Stage: snap.Stage, SubPhase: snap.SubPhase})

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		h.dispatch(c, login, outbound, writerDone, &msg, wsLog)
	}
}

func (h *WSHandler) dispatch(c *gin.Context, login string, outbound chan interface{}, writerDone chan struct{}, msg *ws.Request, wsLog zerolog.Logger) {
	ctx := c.Request.Context()

	var err error
	switch msg.Action {
	case ws.ActionEdit:
		err = h.workflowService.EditAnswer(ctx, login, msg.QuestionID, msg.Text)
	case ws.ActionPaste:
		err = h.workflowService.RecordPaste(ctx, login, msg.QuestionID)
	case ws.ActionFocus:
		err = h.workflowService.QuestionFocused(ctx, login, msg.QuestionID)
	case ws.ActionBlur:
		err = h.workflowService.QuestionBlurred(ctx, login, msg.QuestionID)
	case ws.ActionFocusLoss:
		err = h.workflowService.RecordFocusLoss(ctx, login)
	case ws.ActionPing:
		h.enqueue(outbound, writerDone, ws.PongResponse{Event: ws.EventPong})
		return
	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		h.enqueue(outbound, writerDone, ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(msg.Action)})
		return
	}

	if err != nil {
		h.enqueue(outbound, writerDone, translateError(err))
	}
}

// enqueue drops the payload when the writer is gone instead of blocking.
func (h *WSHandler) enqueue(outbound chan interface{}, writerDone chan struct{}, v interface{}) {
	select {
	case outbound <- v:
	case <-writerDone:
	}
}

func translateEvent(ev service.WorkflowEvent) interface{} {
	if ev.Type == service.EventGrades {
		return ws.GradedResponse{Event: ws.EventGraded, Grading: ev.Grading}
	}
	return ws.StateResponse{Event: ws.EventState, Stage: ev.Stage, SubPhase: ev.SubPhase}
}

func translateError(err error) ws.ErrorResponse {
	code := response.ErrInternal
	switch {
	case errors.Is(err, service.ErrStageConflict):
		code = response.ErrStageConflict
	case errors.Is(err, service.ErrUnknownQuestion):
		code = response.ErrUnknownQuestion
	case errors.Is(err, service.ErrWorkflowBusy):
		code = response.ErrWorkflowBusy
	}
	return ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: err.Error()}
}
