// Package eval submits finished conversation transcripts to an external
// evaluation service and returns the structured verdict.
package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/parley-voice/parley/internal/transcript"
)

// ErrEmptyTranscript is returned when submission is attempted with no
// recorded utterances.
var ErrEmptyTranscript = errors.New("eval: transcript is empty")

// ErrMalformedResponse is returned when the service answers 200 but the body
// does not carry a complete evaluation.
var ErrMalformedResponse = errors.New("eval: malformed evaluation response")

// Criterion is a single scored dimension of the evaluation.
type Criterion struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Evaluation is the verdict produced by the evaluation service.
type Evaluation struct {
	// Classification is the service's categorical judgement of the
	// conversation, e.g. "pass" or "needs_improvement".
	Classification string `json:"classification"`

	// OverallScore is the aggregate score across all criteria.
	OverallScore float64 `json:"overall_score"`

	// Criteria are the individual scored dimensions.
	Criteria []Criterion `json:"criteria"`

	// Rationale explains the verdict in prose.
	Rationale string `json:"rationale"`

	// ImprovementSuggestion is actionable feedback for the advisor.
	ImprovementSuggestion string `json:"improvement_suggestion"`
}

type submitRequest struct {
	Transcript []transcript.LabeledEntry `json:"transcript"`
}

type submitResponse struct {
	RuleBasedEval struct {
		Evaluation *Evaluation `json:"evaluation"`
	} `json:"rule_based_eval"`
}

// Client talks to the evaluation service over HTTP.
type Client struct {
	http *resty.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout overrides the request timeout. The default is 30 seconds;
// rule-based evaluation of long transcripts can take a while.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithHTTPClient swaps the underlying resty client. Used by tests.
func WithHTTPClient(hc *resty.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the evaluation service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts the labeled transcript for evaluation and returns the verdict.
//
// The transcript must be non-empty. A non-2xx status or a 200 body missing
// the evaluation payload is an error; partial verdicts are never returned.
func (c *Client) Submit(ctx context.Context, entries []transcript.LabeledEntry) (*Evaluation, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTranscript
	}

	var out submitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submitRequest{Transcript: entries}).
		SetResult(&out).
		Post("/evaluate")
	if err != nil {
		return nil, fmt.Errorf("eval: submit: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("eval: submit: service returned %s", resp.Status())
	}

	ev := out.RuleBasedEval.Evaluation
	if ev == nil || ev.Classification == "" {
		return nil, ErrMalformedResponse
	}
	return ev, nil
}
