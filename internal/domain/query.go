package domain

import (
	"fmt"
	"strings"
)

// NoAnswerText is shown when the backend succeeds without an answer field.
const NoAnswerText = "No answer returned."

// QueryRequest is a single question bound to the credential it is sent with.
type QueryRequest struct {
	Question   string
	Credential Credential
}

// Validate enforces the dispatch precondition: non-blank question and a
// resolved credential.
func (r QueryRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return &Failure{Category: CategoryUnknown, Detail: "question is blank"}
	}
	if r.Credential.IsZero() {
		return &Failure{Category: CategoryInvalidCredential, Detail: "no API key available"}
	}
	return nil
}

// Answer is the display payload of a successful query. Sources keep backend
// order and may contain duplicates.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Failure is a classified backend failure.
type Failure struct {
	Category ErrorCategory `json:"category"`
	Detail   string        `json:"detail"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Category.String()
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Detail)
}

// Unwrap exposes the category's errdefs sentinel.
func (f *Failure) Unwrap() error {
	return f.Category.Sentinel()
}

// QueryResult holds exactly one of Answer or Failure.
type QueryResult struct {
	Answer  *Answer
	Failure *Failure
}

// Answered builds a successful result.
func Answered(text string, sources []string) QueryResult {
	if sources == nil {
		sources = []string{}
	}
	return QueryResult{Answer: &Answer{Text: text, Sources: sources}}
}

// Failed builds a failed result.
func Failed(category ErrorCategory, detail string) QueryResult {
	return QueryResult{Failure: &Failure{Category: category, Detail: detail}}
}

// OK reports whether the result carries an answer.
func (r QueryResult) OK() bool {
	return r.Answer != nil
}

// Err returns the failure as an error, or nil on success.
func (r QueryResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// ProbeResult is the outcome of a health probe.
type ProbeResult struct {
	Status SessionStatus
	Detail string
}
