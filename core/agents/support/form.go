package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Form is the intake form the agent walks the caller through.
type Form struct {
	Title  string
	Fields []Field
}

type Field struct {
	ID       string
	Label    string
	Hint     string
	Required bool
}

// DefaultForm is the IT support intake form used when no custom form
// is configured.
func DefaultForm() Form {
	return Form{
		Title: "IT Support Request",
		Fields: []Field{
			{ID: "name", Label: "Full name", Required: true},
			{ID: "email", Label: "Email address", Hint: "Used for follow-up on the ticket", Required: true},
			{ID: "problem", Label: "Description of the problem", Required: true},
			{ID: "urgency", Label: "How urgent is the issue", Hint: "low, medium or high"},
		},
	}
}

// Submitter receives the completed form. Implementations decide where
// the ticket ends up.
type Submitter interface {
	Submit(ctx context.Context, form Form, answers map[string]string) (submissionID string, err error)
}

// loggedSubmitter records the submission locally and mints an ID. It
// is the fallback when no ticketing backend is configured.
type loggedSubmitter struct{}

func (loggedSubmitter) Submit(ctx context.Context, form Form, answers map[string]string) (string, error) {
	submissionID := uuid.NewString()
	logger.InfoContext(ctx, "Form submitted",
		"form", form.Title, "submissionID", submissionID, "answers", answers)
	return submissionID, nil
}

// HTTPSubmitter posts completed forms to a ticketing endpoint as JSON.
type HTTPSubmitter struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPSubmitter(url string, apiKey string) *HTTPSubmitter {
	return &HTTPSubmitter{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
	}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, form Form, answers map[string]string) (string, error) {
	body, err := json.Marshal(struct {
		Form    string            `json:"form"`
		Answers map[string]string `json:"answers"`
	}{Form: form.Title, Answers: answers})
	if err != nil {
		return "", fmt.Errorf("failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submission request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("submission rejected with status %d: %s", resp.StatusCode, string(detail))
	}

	var submission struct {
		SubmissionID string `json:"submissionID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submission); err != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", err)
	}
	if submission.SubmissionID == "" {
		submission.SubmissionID = uuid.NewString()
	}

	return submission.SubmissionID, nil
}
