package eval_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/transcript"
)

func sampleTranscript() []transcript.LabeledEntry {
	return []transcript.LabeledEntry{
		{Speaker: "Advisor", Text: "how can I help"},
		{Speaker: "Client", Text: "I lost my card"},
	}
}

// ─── TestSubmit_ReturnsVerdict ────────────────────────────────────────────────

func TestSubmit_ReturnsVerdict(t *testing.T) {
	t.Parallel()

	var gotBody struct {
		Transcript []transcript.LabeledEntry `json:"transcript"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/evaluate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"rule_based_eval": {
				"evaluation": {
					"classification": "pass",
					"overall_score": 0.82,
					"criteria": [{"name": "empathy", "score": 0.9}],
					"rationale": "handled the issue calmly",
					"improvement_suggestion": "confirm next steps"
				}
			}
		}`))
	}))
	t.Cleanup(srv.Close)

	c := eval.NewClient(srv.URL)
	got, err := c.Submit(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got.Classification != "pass" {
		t.Errorf("classification = %q, want %q", got.Classification, "pass")
	}
	if got.OverallScore != 0.82 {
		t.Errorf("overall score = %v, want 0.82", got.OverallScore)
	}
	if len(got.Criteria) != 1 || got.Criteria[0].Name != "empathy" {
		t.Errorf("criteria = %+v, want one empathy entry", got.Criteria)
	}
	if len(gotBody.Transcript) != 2 || gotBody.Transcript[0].Speaker != "Advisor" {
		t.Errorf("submitted transcript = %+v", gotBody.Transcript)
	}
}

// ─── TestSubmit_EmptyTranscriptRejectedLocally ────────────────────────────────

func TestSubmit_EmptyTranscriptRejectedLocally(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request should reach the service for an empty transcript")
	}))
	t.Cleanup(srv.Close)

	c := eval.NewClient(srv.URL)
	if _, err := c.Submit(context.Background(), nil); !errors.Is(err, eval.ErrEmptyTranscript) {
		t.Fatalf("error = %v, want ErrEmptyTranscript", err)
	}
}

// ─── TestSubmit_ServiceErrorStatus ────────────────────────────────────────────

func TestSubmit_ServiceErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := eval.NewClient(srv.URL)
	if _, err := c.Submit(context.Background(), sampleTranscript()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

// ─── TestSubmit_MalformedBody ─────────────────────────────────────────────────

func TestSubmit_MalformedBody(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing evaluation", `{"rule_based_eval": {}}`},
		{"empty classification", `{"rule_based_eval": {"evaluation": {"classification": ""}}}`},
		{"empty object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			c := eval.NewClient(srv.URL)
			if _, err := c.Submit(context.Background(), sampleTranscript()); !errors.Is(err, eval.ErrMalformedResponse) {
				t.Fatalf("error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

// ─── TestSubmit_ContextCancelled ──────────────────────────────────────────────

func TestSubmit_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := eval.NewClient(srv.URL)
	if _, err := c.Submit(ctx, sampleTranscript()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
