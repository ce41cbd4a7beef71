// Package session owns the status of an interactive question-answering
// session. Machine is the only mutator of that status.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when another probe or dispatch is in flight.
	ErrBusy = fmt.Errorf("%w: another session operation is in progress", errdefs.ErrConflict)
	// ErrInvalidTransition is returned when an operation is not valid from
	// the current status. The status is left unchanged.
	ErrInvalidTransition = fmt.Errorf("%w: operation not valid from current status", errdefs.ErrFailedPrecondition)
	// ErrNotReady is returned by Ask outside the ok status.
	ErrNotReady = fmt.Errorf("%w: session is not ready for questions", errdefs.ErrFailedPrecondition)
)

// Prober checks backend health with a credential.
type Prober interface {
	Check(ctx context.Context, cred domain.Credential) domain.ProbeResult
}

// Dispatcher sends a question to the backend.
type Dispatcher interface {
	Ask(ctx context.Context, question string) domain.QueryResult
}

// Credentials selects and stores API keys for the session.
type Credentials interface {
	Resolve() (domain.Credential, domain.CredentialSource)
	Submit(candidate string) error
	Clear()
	HasUser() bool
	HasDefault() bool
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	SessionID            string               `json:"session_id"`
	Status               domain.SessionStatus `json:"status"`
	Remediation          domain.Remediation   `json:"remediation"`
	Detail               string               `json:"detail,omitempty"`
	UsingUserCredential  bool                 `json:"using_user_credential"`
	HasDefaultCredential bool                 `json:"has_default_credential"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Machine drives status transitions for one session.
//
// opMu serialises network-bound operations; a second caller gets ErrBusy
// rather than queueing. stateMu guards the status fields only, so reads never
// wait on an in-flight call.
type Machine struct {
	id         string
	prober     Prober
	dispatcher Dispatcher
	creds      Credentials
	logger     *slog.Logger
	now        func() time.Time

	opMu sync.Mutex

	stateMu   sync.RWMutex
	status    domain.SessionStatus
	detail    string
	updatedAt time.Time

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

// New creates a session in the checking status. Call Start to run the first
// probe.
func New(prober Prober, dispatcher Dispatcher, creds Credentials, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		id:         uuid.NewString(),
		prober:     prober,
		dispatcher: dispatcher,
		creds:      creds,
		now:        time.Now,
		status:     domain.StatusChecking,
		subs:       make(map[int]chan Snapshot),
	}
	m.logger = logger.With("session_id", m.id)
	m.updatedAt = m.now()
	return m
}

// ID returns the session identifier.
func (m *Machine) ID() string {
	return m.id
}

// Status returns the current status.
func (m *Machine) Status() domain.SessionStatus {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.status
}

// Snapshot returns the current view of the session.
func (m *Machine) Snapshot() Snapshot {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:            m.id,
		Status:               m.status,
		Remediation:          m.status.Remediation(),
		Detail:               m.detail,
		UsingUserCredential:  m.creds.HasUser(),
		HasDefaultCredential: m.creds.HasDefault(),
		UpdatedAt:            m.updatedAt,
	}
}

// Start moves to checking and probes with the resolved credential. It is
// valid from any status.
func (m *Machine) Start(ctx context.Context) (Snapshot, error) {
	if !m.opMu.TryLock() {
		return m.Snapshot(), ErrBusy
	}
	defer m.opMu.Unlock()

	m.probe(ctx, "start")
	return m.Snapshot(), nil
}

// Retry re-probes after an availability failure. It is valid only from
// backend_unavailable and timeout.
func (m *Machine) Retry(ctx context.Context) (Snapshot, error) {
	if !m.opMu.TryLock() {
		return m.Snapshot(), ErrBusy
	}
	defer m.opMu.Unlock()

	if m.Status().Remediation() != domain.RemediationRetry {
		return m.Snapshot(), ErrInvalidTransition
	}
	m.probe(ctx, "retry")
	return m.Snapshot(), nil
}

// SubmitCredential stores candidate as the user credential and re-probes
// with it. It is valid only from statuses whose remediation is credential
// entry. A blank candidate is rejected without a probe.
func (m *Machine) SubmitCredential(ctx context.Context, candidate string) (Snapshot, error) {
	if !m.opMu.TryLock() {
		return m.Snapshot(), ErrBusy
	}
	defer m.opMu.Unlock()

	if m.Status().Remediation() != domain.RemediationCredential {
		return m.Snapshot(), ErrInvalidTransition
	}
	if err := m.creds.Submit(candidate); err != nil {
		return m.Snapshot(), err
	}
	m.probe(ctx, "submit_credential")
	return m.Snapshot(), nil
}

// ClearCredential drops the user credential and re-checks health with the default.
// It is valid from any status while a user credential is held.
func (m *Machine) ClearCredential(ctx context.Context) (Snapshot, error) {
	if !m.opMu.TryLock() {
		return m.Snapshot(), ErrBusy
	}
	defer m.opMu.Unlock()

	if !m.creds.HasUser() {
		return m.Snapshot(), ErrInvalidTransition
	}
	m.creds.Clear()
	m.probe(ctx, "clear_credential")
	return m.Snapshot(), nil
}

// Ask dispatches question while the session is ok. A quota or credential
// failure demotes the session so further questions are blocked until
// remediated; other failures leave the status unchanged.
//
// admit, when non-nil, runs only once the session is known to be free and
// ready; its error aborts the dispatch and is returned as is.
func (m *Machine) Ask(ctx context.Context, question string, admit func() error) (domain.QueryResult, error) {
	if !m.opMu.TryLock() {
		return domain.QueryResult{}, ErrBusy
	}
	defer m.opMu.Unlock()

	if !m.Status().Dispatchable() {
		return domain.QueryResult{}, ErrNotReady
	}
	if admit != nil {
		if err := admit(); err != nil {
			return domain.QueryResult{}, err
		}
	}

	result := m.dispatcher.Ask(ctx, question)
	if f := result.Failure; f != nil {
		switch f.Category {
		case domain.CategoryQuotaExceeded, domain.CategoryInvalidCredential:
			m.transition("ask", domain.StatusFromCategory(f.Category), f.Detail)
		}
	}
	return result, nil
}

// probe must be called with opMu held.
func (m *Machine) probe(ctx context.Context, op string) {
	m.transition(op, domain.StatusChecking, "")
	cred, _ := m.creds.Resolve()
	result := m.prober.Check(ctx, cred)
	m.transition(op, result.Status, result.Detail)
}

func (m *Machine) transition(op string, to domain.SessionStatus, detail string) {
	if !to.Valid() {
		m.logger.Error("Rejected unknown session status", "operation", op, "status", to)
		to, detail = domain.StatusError, fmt.Sprintf("unknown status %q", string(to))
	}

	m.stateMu.Lock()
	from := m.status
	m.status = to
	m.detail = detail
	m.updatedAt = m.now()
	snap := m.snapshotLocked()
	m.stateMu.Unlock()

	if from != to {
		m.logger.Info("Session status changed", "operation", op, "from", from, "to", to)
	}
	m.broadcast(snap)
}

// Subscribe returns a channel that receives the current snapshot and every
// later change. A slow reader skips intermediate snapshots but always sees
// the latest. The cancel func releases the subscription and closes the
// channel.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.subMu.Lock()
	ch <- m.Snapshot()
	if m.closed {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

func (m *Machine) broadcast(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale pending snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close ends every subscription. Later subscribers receive a closed channel
// carrying the final snapshot.
func (m *Machine) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
