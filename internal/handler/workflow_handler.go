package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cqbot/cqbot-backend/internal/middleware"
	"github.com/cqbot/cqbot-backend/internal/model"
	"github.com/cqbot/cqbot-backend/internal/response"
	"github.com/cqbot/cqbot-backend/internal/service"
	"github.com/cqbot/cqbot-backend/internal/upstream"
	"github.com/cqbot/cqbot-backend/internal/validator"
)

// WorkflowHandler exposes the submission workflow over REST.
type WorkflowHandler struct {
	workflowService *service.WorkflowService
	upstream        *upstream.Client
}

// NewWorkflowHandler creates a new WorkflowHandler.
func NewWorkflowHandler(workflowService *service.WorkflowService, upstream *upstream.Client) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		upstream:        upstream,
	}
}

// GetWorkflow godoc
// GET /api/v1/workflow
// Returns the caller's full workflow snapshot.
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap := h.workflowService.Snapshot(claims.Login)
	response.Success(c, http.StatusOK, gin.H{"workflow": snap})
}

// StartSubmission godoc
// POST /api/v1/workflow/submissions
// Validates the repository URL, has it verified upstream, requests question
// generation and enters the questions stage.
func (h *WorkflowHandler) StartSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.workflowService.StartSubmission(c.Request.Context(), claims.Login, req.RepoURL)
	if err != nil {
		h.failWorkflow(c, err)
		return
	}

	snap := h.workflowService.Snapshot(claims.Login)
	response.Success(c, http.StatusCreated, gin.H{"workflow": snap})
}

// EditAnswer godoc
// PUT /api/v1/workflow/answers/:question_id
// Overwrites the draft for one question and clears its invalid marker.
func (h *WorkflowHandler) EditAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.EditAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.workflowService.EditAnswer(c.Request.Context(), claims.Login, c.Param("question_id"), req.Text)
	if err != nil {
		h.failWorkflow(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// RecordEvent godoc
// POST /api/v1/workflow/events
// Accepts integrity telemetry: paste, focus, blur and focus_loss.
func (h *WorkflowHandler) RecordEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.WorkflowEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Type {
	case "paste":
		err = h.workflowService.RecordPaste(ctx, claims.Login, req.QuestionID)
	case "focus":
		err = h.workflowService.QuestionFocused(ctx, claims.Login, req.QuestionID)
	case "blur":
		err = h.workflowService.QuestionBlurred(ctx, claims.Login, req.QuestionID)
	case "focus_loss":
		err = h.workflowService.RecordFocusLoss(ctx, claims.Login)
	}
	if err != nil {
		h.failWorkflow(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// SubmitAnswers godoc
// POST /api/v1/workflow/submit
// Submits the whole answer batch for grading and enters the submitted stage.
func (h *WorkflowHandler) SubmitAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	err := h.workflowService.SubmitAnswers(c.Request.Context(), claims.Login)
	if err != nil {
		h.failWorkflow(c, err)
		return
	}

	snap := h.workflowService.Snapshot(claims.Login)
	response.Success(c, http.StatusOK, gin.H{"workflow": snap})
}

// Reset godoc
// POST /api/v1/workflow/reset
// Returns the workflow to the submit stage from any state.
func (h *WorkflowHandler) Reset(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.workflowService.Reset(c.Request.Context(), claims.Login); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	snap := h.workflowService.Snapshot(claims.Login)
	response.Success(c, http.StatusOK, gin.H{"workflow": snap})
}

// ExportURL godoc
// GET /api/v1/instructor/export-url
// Returns the upstream CSV snapshot link. Instructor only.
func (h *WorkflowHandler) ExportURL(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"export_url": h.upstream.CSVExportURL(),
	})
}

// failWorkflow maps workflow errors onto the response envelope.
func (h *WorkflowHandler) failWorkflow(c *gin.Context, err error) {
	var incomplete *service.IncompleteAnswersError
	if errors.As(err, &incomplete) {
		fields := make(map[string]string, len(incomplete.QuestionIDs))
		for _, id := range incomplete.QuestionIDs {
			fields[id] = "answer is required"
		}
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrIncompleteAnswers, fields)
		return
	}

	var remote *service.RemoteFailure
	if errors.As(err, &remote) {
		switch remote.Phase {
		case service.PhaseVerify:
			response.FailMessage(c, http.StatusBadGateway, response.ErrVerificationFailed, remote.Message)
		case service.PhaseGenerate:
			response.FailMessage(c, http.StatusBadGateway, response.ErrGenerationFailed, remote.Message)
		default:
			response.FailMessage(c, http.StatusBadGateway, response.ErrAnswerSubmissionFailed, remote.Message)
		}
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRepoURL):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRepoURL)
	case errors.Is(err, service.ErrWorkflowBusy):
		response.Fail(c, http.StatusConflict, response.ErrWorkflowBusy)
	case errors.Is(err, service.ErrStageConflict), errors.Is(err, service.ErrAttemptSuperseded):
		response.Fail(c, http.StatusConflict, response.ErrStageConflict)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
