package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/changi-qa/internal/classifier"
	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/google/uuid"
)

// DefaultQueryTimeout bounds a single query dispatch.
const DefaultQueryTimeout = 45 * time.Second

// CredentialSource resolves the credential for the next dispatch.
type CredentialSource interface {
	Resolve() (domain.Credential, domain.CredentialSource)
}

type queryRequest struct {
	UserQuery string `json:"user_query"`
	APIKey    string `json:"api_key"`
}

type queryResponse struct {
	Answer  *string  `json:"answer"`
	Sources []string `json:"sources"`
}

// Dispatcher sends questions to the query endpoint.
type Dispatcher struct {
	client  *Client
	creds   CredentialSource
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. A non-positive timeout selects the
// default.
func NewDispatcher(client *Client, creds CredentialSource, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Dispatcher{client: client, creds: creds, timeout: timeout, logger: logger}
}

// Ask dispatches question with the currently resolved credential. Blank
// questions and missing credentials fail locally without a request.
func (d *Dispatcher) Ask(ctx context.Context, question string) domain.QueryResult {
	cred, source := d.creds.Resolve()
	req := domain.QueryRequest{Question: strings.TrimSpace(question), Credential: cred}
	var f *domain.Failure
	if errors.As(req.Validate(), &f) {
		d.logger.Warn("Query rejected before dispatch", "category", f.Category, "detail", f.Detail)
		return domain.QueryResult{Failure: f}
	}

	queryID := uuid.NewString()
	d.logger.Info("Dispatching query",
		"query_id", queryID,
		"question_length", len(req.Question),
		"credential_source", source,
		"credential", cred,
	)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	outcome := d.client.post(ctx, d.client.queryURL, queryRequest{
		UserQuery: req.Question,
		APIKey:    cred.Reveal(),
	})
	result := interpretQuery(outcome)

	if result.Failure != nil {
		d.logger.Warn("Query failed",
			"query_id", queryID,
			"category", result.Failure.Category,
			"http_status", outcome.StatusCode,
			"duration", time.Since(start),
		)
	} else {
		d.logger.Info("Query answered",
			"query_id", queryID,
			"sources", len(result.Answer.Sources),
			"duration", time.Since(start),
		)
	}
	return result
}

func interpretQuery(outcome classifier.Outcome) domain.QueryResult {
	if !outcome.Success() {
		return domain.Failed(classifier.Classify(outcome), classifier.Detail(outcome))
	}
	if outcome.Truncated {
		return domain.Failed(domain.CategoryUnknown, "answer exceeded response size limit")
	}

	var resp queryResponse
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		return domain.Failed(domain.CategoryUnknown, fmt.Sprintf("malformed answer payload: %v", err))
	}

	text := domain.NoAnswerText
	if resp.Answer != nil {
		text = *resp.Answer
	}
	return domain.Answered(text, resp.Sources)
}
