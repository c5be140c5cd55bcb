package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden      ErrCode = "FORBIDDEN"
	ErrInstructorOnly ErrCode = "INSTRUCTOR_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Workflow ──────────────────────────────────────────────────────
	ErrInvalidRepoURL         ErrCode = "INVALID_REPO_URL"
	ErrVerificationFailed     ErrCode = "VERIFICATION_FAILED"
	ErrGenerationFailed       ErrCode = "GENERATION_FAILED"
	ErrIncompleteAnswers      ErrCode = "INCOMPLETE_ANSWERS"
	ErrAnswerSubmissionFailed ErrCode = "ANSWER_SUBMISSION_FAILED"
	ErrWorkflowBusy           ErrCode = "WORKFLOW_BUSY"
	ErrStageConflict          ErrCode = "STAGE_CONFLICT"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrInstructorOnly:
		return "This resource is restricted to instructors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Workflow ──────────────────────────────────────────────────────
	case ErrInvalidRepoURL:
		return "Enter a valid GitHub repo URL (https://github.com/user/repo)."
	case ErrVerificationFailed:
		return "Repository verification failed."
	case ErrGenerationFailed:
		return "Unable to generate questions for this repository."
	case ErrIncompleteAnswers:
		return "Please answer all questions before submitting."
	case ErrAnswerSubmissionFailed:
		return "Unable to submit answers."
	case ErrWorkflowBusy:
		return "Another attempt is already in progress."
	case ErrStageConflict:
		return "This action is not available in the current stage."
	case ErrUnknownQuestion:
		return "The question does not belong to the active submission."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
