// Package upstream is the HTTP client for the CodeQuestionBot platform
// services: identity, repository verification, question generation, answer
// grading and the instructor CSV export. All operations are opaque
// request/response calls; the workflow layer owns every retry decision, so
// this client never retries on its own.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Error is a failed upstream call with the message the service reported.
// The message is what gets surfaced to the stage the user is in.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %s", e.Op, e.Message)
}

// UpstreamMessage is the service-reported message without the op prefix.
func (e *Error) UpstreamMessage() string { return e.Message }

// Client talks to the upstream services under a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an upstream client. The timeout applies per request on
// top of any caller context deadline.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

type identityResponse struct {
	Authenticated bool   `json:"authenticated"`
	GithubLogin   string `json:"github_login"`
	IsInstructor  bool   `json:"is_instructor"`
}

type repoRequest struct {
	RepoURL string `json:"repo_url"`
}

type submissionResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Questions    []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		FilePath  string `json:"file_path"`
		LineStart int    `json:"line_start"`
		LineEnd   int    `json:"line_end"`
		Excerpt   string `json:"excerpt"`
	} `json:"questions"`
}

type gradesResponse struct {
	Grades []gradePayload `json:"grades"`
}

type gradePayload struct {
	AnswerID   string  `json:"answer_id"`
	Score      int     `json:"score"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

type errorBody struct {
	Error string `json:"error"`
}

// do executes one JSON request. A non-2xx response becomes an *Error whose
// message is taken from the {"error": "..."} body when present, falling back
// to the HTTP status text.
func (c *Client) do(ctx context.Context, op, method, path, cookie string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("Upstream request failed")
		return &Error{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

// CSVExportURL returns the static instructor download link. It is a plain
// link, never polled or fetched by the gateway.
func (c *Client) CSVExportURL() string {
	return c.baseURL + "/exports/submissions.csv"
}

// AuthURL returns the sign-in redirect target on the identity provider.
func (c *Client) AuthURL() string {
	return c.baseURL + "/auth/github"
}

func escapePath(segment string) string {
	return url.PathEscape(segment)
}
