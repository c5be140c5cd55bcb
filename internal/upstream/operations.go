package upstream

import (
	"context"
	"net/http"

	"github.com/cqbot/cqbot-backend/internal/model"
)

// Me resolves the identity behind the given session cookie. An explicit
// "not authenticated" body is a successful call, not an error.
func (c *Client) Me(ctx context.Context, cookie string) (model.Identity, error) {
	var resp identityResponse
	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", cookie, nil, &resp); err != nil {
		return model.Anonymous(), err
	}
	if !resp.Authenticated {
		return model.Anonymous(), nil
	}
	return model.Identity{
		Authenticated: true,
		Login:         resp.GithubLogin,
		IsInstructor:  resp.IsInstructor,
	}, nil
}

// Logout asks the identity provider to invalidate the session. Callers treat
// this as fire-and-forget.
func (c *Client) Logout(ctx context.Context, cookie string) error {
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout", cookie, nil, nil)
}

// VerifyRepo checks that the repository exists and is readable. Rejection
// and transport failure look the same to the workflow: a failed verify.
func (c *Client) VerifyRepo(ctx context.Context, repoURL string) error {
	return c.do(ctx, "verify_repo", http.MethodPost, "/repos/verify", "", repoRequest{RepoURL: repoURL}, nil)
}

// CreateSubmission generates the question set for a verified repository.
func (c *Client) CreateSubmission(ctx context.Context, repoURL string) (*model.Submission, error) {
	var resp submissionResponse
	if err := c.do(ctx, "create_submission", http.MethodPost, "/submissions", "", repoRequest{RepoURL: repoURL}, &resp); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		SubmissionID: resp.SubmissionID,
		Status:       resp.Status,
		Questions:    make([]model.Question, len(resp.Questions)),
	}
	for i, q := range resp.Questions {
		sub.Questions[i] = model.Question{
			ID:        q.ID,
			Text:      q.Text,
			FilePath:  q.FilePath,
			LineStart: q.LineStart,
			LineEnd:   q.LineEnd,
			Excerpt:   q.Excerpt,
		}
	}
	return sub, nil
}

// SubmitAnswers sends the full ordered answer batch. Partial acceptance is
// not supported upstream: the call succeeds or fails as a whole.
func (c *Client) SubmitAnswers(ctx context.Context, records []model.AnswerRecord) error {
	payload := struct {
		Answers []model.AnswerRecord `json:"answers"`
	}{Answers: records}
	return c.do(ctx, "submit_answers", http.MethodPost, "/answers", "", payload, nil)
}

// Grades fetches whatever grades exist so far for a submission. An
// incomplete set is a normal response; the poller decides whether to retry.
func (c *Client) Grades(ctx context.Context, submissionID string) ([]model.Grade, error) {
	var resp gradesResponse
	path := "/submissions/" + escapePath(submissionID) + "/grades"
	if err := c.do(ctx, "grades", http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}

	grades := make([]model.Grade, len(resp.Grades))
	for i, g := range resp.Grades {
		grades[i] = model.Grade{
			AnswerID:   g.AnswerID,
			Score:      g.Score,
			Rationale:  g.Rationale,
			Confidence: g.Confidence,
		}
	}
	return grades, nil
}
