package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/changi-qa/internal/classifier"
	"github.com/ashureev/changi-qa/internal/domain"
)

// DefaultHealthTimeout bounds a single probe. It is shorter than the query
// timeout because liveness checks are cheaper than generation.
const DefaultHealthTimeout = 15 * time.Second

// healthOK is the only token the backend uses to signal a usable session.
const healthOK = "ok"

type healthRequest struct {
	APIKey *string `json:"api_key"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Prober checks backend liveness and credential validity.
type Prober struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber creates a prober. A non-positive timeout selects the default.
func NewProber(client *Client, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &Prober{client: client, timeout: timeout, logger: logger}
}

// Check probes the backend with cred, which may be zero. It never fails: all
// transport and application faults become a degraded status.
func (p *Prober) Check(ctx context.Context, cred domain.Credential) domain.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var key *string
	if !cred.IsZero() {
		s := cred.Reveal()
		key = &s
	}

	outcome := p.client.post(ctx, p.client.healthURL, healthRequest{APIKey: key})
	result := interpretHealth(outcome)

	p.logger.Info("Health probe finished",
		"status", result.Status,
		"credential", cred,
		"http_status", outcome.StatusCode,
	)
	return result
}

func interpretHealth(outcome classifier.Outcome) domain.ProbeResult {
	if !outcome.Success() {
		category := classifier.Classify(outcome)
		return domain.ProbeResult{
			Status: domain.StatusFromCategory(category),
			Detail: classifier.Detail(outcome),
		}
	}

	var resp healthResponse
	if outcome.Truncated {
		return domain.ProbeResult{Status: domain.StatusError, Detail: "health response exceeded size limit"}
	}
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		return domain.ProbeResult{Status: domain.StatusError, Detail: fmt.Sprintf("unreadable health response: %v", err)}
	}

	token := strings.TrimSpace(resp.Status)
	if strings.EqualFold(token, healthOK) {
		return domain.ProbeResult{Status: domain.StatusOK}
	}

	category := classifier.ClassifySignal(token)
	return domain.ProbeResult{
		Status: domain.StatusFromCategory(category),
		Detail: fmt.Sprintf("health status %q", token),
	}
}
