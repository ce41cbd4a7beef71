package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/changi-qa/internal/domain"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type staticCreds struct {
	cred domain.Credential
}

func (s staticCreds) Resolve() (domain.Credential, domain.CredentialSource) {
	if s.cred.IsZero() {
		return s.cred, domain.SourceNone
	}
	return s.cred, domain.SourceDefault
}

func newTestClient(t *testing.T, baseURL string, maxBytes int64) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:          baseURL,
		QueryPath:        "/api/qa",
		HealthPath:       "api/health",
		MaxResponseBytes: maxBytes,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

// hangingHandler blocks until the client gives up.
func hangingHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(2 * time.Second):
	}
}

func closedServerURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "localhost:8000", "http://", "://bad"} {
		if _, err := NewClient(ClientConfig{BaseURL: raw}, nil); err == nil {
			t.Errorf("expected error for base url %q", raw)
		}
	}

	c := newTestClient(t, "http://backend:8000/", 0)
	if c.QueryURL() != "http://backend:8000/api/qa" {
		t.Errorf("unexpected query url %s", c.QueryURL())
	}
	if c.HealthURL() != "http://backend:8000/api/health" {
		t.Errorf("unexpected health url %s", c.HealthURL())
	}
}

func TestProberOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode health body: %v", err)
		}
		if body["api_key"] != "default-key" {
			t.Errorf("expected api_key default-key, got %v", body["api_key"])
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	p := NewProber(newTestClient(t, srv.URL, 0), time.Second, nil)
	got := p.Check(context.Background(), domain.NewCredential("default-key"))
	if got.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %+v", got)
	}
}

func TestProberSendsNullWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode health body: %v", err)
		}
		v, ok := body["api_key"]
		if !ok || v != nil {
			t.Errorf("expected explicit null api_key, got %v (present=%v)", v, ok)
		}
		_, _ = w.Write([]byte(`{"status":"invalid_key"}`))
	}))
	defer srv.Close()

	p := NewProber(newTestClient(t, srv.URL, 0), time.Second, nil)
	got := p.Check(context.Background(), domain.Credential{})
	if got.Status != domain.StatusInvalidKey {
		t.Fatalf("expected invalid_key, got %+v", got)
	}
}

func TestProberMapsResponses(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		body   string
		expect domain.SessionStatus
	}{
		{"quota token", 200, `{"status":"quota_exceeded"}`, domain.StatusQuotaExceeded},
		{"unknown token", 200, `{"status":"degraded"}`, domain.StatusError},
		{"missing token", 200, `{}`, domain.StatusError},
		{"malformed body", 200, `not json`, domain.StatusError},
		{"rate limited", 429, `slow down`, domain.StatusQuotaExceeded},
		{"forbidden", 403, ``, domain.StatusQuotaExceeded},
		{"unauthorized", 401, `{"detail":"bad key"}`, domain.StatusInvalidKey},
		{"server error", 500, `{"detail":"boom"}`, domain.StatusError},
		{"server quota", 500, `{"detail":"Quota exhausted"}`, domain.StatusQuotaExceeded},
		{"bad gateway", 502, ``, domain.StatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewProber(newTestClient(t, srv.URL, 0), time.Second, nil)
			got := p.Check(context.Background(), domain.NewCredential("k"))
			if got.Status != tc.expect {
				t.Fatalf("expected %s, got %+v", tc.expect, got)
			}
			if got.Detail == "" {
				t.Fatal("expected detail for degraded probe")
			}
		})
	}
}

func TestProberTransportFaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(hangingHandler))
	defer srv.Close()

	p := NewProber(newTestClient(t, srv.URL, 0), 50*time.Millisecond, nil)
	if got := p.Check(context.Background(), domain.NewCredential("k")); got.Status != domain.StatusTimeout {
		t.Fatalf("expected timeout, got %+v", got)
	}

	p = NewProber(newTestClient(t, closedServerURL(), 0), time.Second, nil)
	if got := p.Check(context.Background(), domain.NewCredential("k")); got.Status != domain.StatusBackendUnavailable {
		t.Fatalf("expected backend_unavailable, got %+v", got)
	}
}

func TestDispatcherAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/qa" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body queryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query body: %v", err)
		}
		if body.UserQuery != "What are Jewel's opening hours?" || body.APIKey != "default-key" {
			t.Errorf("unexpected query body %+v", body)
		}
		_, _ = w.Write([]byte(`{"answer":"10am–10pm","sources":["https://jewelchangiairport.com/hours"]}`))
	}))
	defer srv.Close()

	d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("default-key")}, time.Second, nil)
	got := d.Ask(context.Background(), "What are Jewel's opening hours?")
	if !got.OK() {
		t.Fatalf("expected answer, got failure %+v", got.Failure)
	}
	if got.Answer.Text != "10am–10pm" {
		t.Errorf("unexpected answer %q", got.Answer.Text)
	}
	if len(got.Answer.Sources) != 1 || got.Answer.Sources[0] != "https://jewelchangiairport.com/hours" {
		t.Errorf("unexpected sources %v", got.Answer.Sources)
	}
}

func TestDispatcherDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("k")}, time.Second, nil)
	got := d.Ask(context.Background(), "anything")
	if !got.OK() {
		t.Fatalf("expected answer, got %+v", got.Failure)
	}
	if got.Answer.Text != domain.NoAnswerText {
		t.Errorf("expected default answer, got %q", got.Answer.Text)
	}
	if got.Answer.Sources == nil || len(got.Answer.Sources) != 0 {
		t.Errorf("expected empty sources, got %#v", got.Answer.Sources)
	}
}

func TestDispatcherKeepsSourceOrderAndDuplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"a","sources":["b","a","b"]}`))
	}))
	defer srv.Close()

	d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("k")}, time.Second, nil)
	got := d.Ask(context.Background(), "q")
	if strings.Join(got.Answer.Sources, ",") != "b,a,b" {
		t.Fatalf("expected sources in backend order, got %v", got.Answer.Sources)
	}
}

func TestDispatcherRejectsLocally(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"answer":"x"}`))
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL, 0)

	blank := NewDispatcher(client, staticCreds{domain.NewCredential("k")}, time.Second, nil).Ask(context.Background(), "   ")
	if blank.Failure == nil || blank.Failure.Category != domain.CategoryUnknown {
		t.Fatalf("expected unknown failure for blank question, got %+v", blank)
	}

	noKey := NewDispatcher(client, staticCreds{}, time.Second, nil).Ask(context.Background(), "hours?")
	if noKey.Failure == nil || noKey.Failure.Category != domain.CategoryInvalidCredential {
		t.Fatalf("expected invalid credential failure, got %+v", noKey)
	}

	if hits.Load() != 0 {
		t.Fatalf("expected no backend calls, got %d", hits.Load())
	}
}

func TestDispatcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(hangingHandler))
	defer srv.Close()

	d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("k")}, 50*time.Millisecond, nil)
	got := d.Ask(context.Background(), "slow question")
	if got.Answer != nil {
		t.Fatalf("expected no answer, got %+v", got.Answer)
	}
	if got.Failure == nil || got.Failure.Category != domain.CategoryTimeout {
		t.Fatalf("expected timeout failure, got %+v", got.Failure)
	}
}

func TestDispatcherClassifiesFailures(t *testing.T) {
	cases := []struct {
		code   int
		body   string
		expect domain.ErrorCategory
	}{
		{429, `{"detail":"Too many requests"}`, domain.CategoryQuotaExceeded},
		{500, `{"detail":"Internal Server Error"}`, domain.CategoryServerError},
		{500, `{"detail":"429 You exceeded your current quota"}`, domain.CategoryQuotaExceeded},
		{500, `{"detail":"API key not valid. Please pass a valid API key."}`, domain.CategoryServerError},
		{404, `{"detail":"Not Found"}`, domain.CategoryUnknown},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			_, _ = w.Write([]byte(tc.body))
		}))

		d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("k")}, time.Second, nil)
		got := d.Ask(context.Background(), "q")
		srv.Close()

		if got.Failure == nil || got.Failure.Category != tc.expect {
			t.Errorf("status %d: expected %s, got %+v", tc.code, tc.expect, got)
			continue
		}
		if got.Failure.Detail == "" {
			t.Errorf("status %d: expected raw detail", tc.code)
		}
	}

	d := NewDispatcher(newTestClient(t, closedServerURL(), 0), staticCreds{domain.NewCredential("k")}, time.Second, nil)
	if got := d.Ask(context.Background(), "q"); got.Failure == nil || got.Failure.Category != domain.CategoryServiceUnavailable {
		t.Fatalf("expected service unavailable, got %+v", got)
	}
}

func TestDispatcherTruncatedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"` + strings.Repeat("x", 64) + `"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(newTestClient(t, srv.URL, 16), staticCreds{domain.NewCredential("k")}, time.Second, nil)
	got := d.Ask(context.Background(), "q")
	if got.Failure == nil || got.Failure.Category != domain.CategoryUnknown {
		t.Fatalf("expected unknown failure for oversized answer, got %+v", got)
	}
}

func TestDispatcherForwardsRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(chiMiddleware.RequestIDHeader); got != "req-42" {
			t.Errorf("expected request id req-42, got %q", got)
		}
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	ctx := context.WithValue(context.Background(), chiMiddleware.RequestIDKey, "req-42")
	d := NewDispatcher(newTestClient(t, srv.URL, 0), staticCreds{domain.NewCredential("k")}, time.Second, nil)
	if got := d.Ask(ctx, "q"); !got.OK() {
		t.Fatalf("expected answer, got %+v", got.Failure)
	}
}
