package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/token"
)

// Unauthenticated-only navigation targets. A cold-start refresh is
// skipped when the user is headed to one of these.
const (
	RouteLogin    = "/login"
	RouteRegister = "/register"
)

// Session is the authenticated state of the running client: the current
// access token and its decoded claims. Snapshots returned by the Manager
// are copies; the Manager's own operations are the only writer path.
type Session struct {
	Token  string
	Claims *token.Claims
}

// Manager owns the single process-wide Session.
//
// The session moves through a fixed lifecycle: absent (no token), active
// (valid token, claims decoded), cleared again on logout or irrecoverable
// refresh failure. Login, Register, Refresh, and Logout are the only
// operations that mutate it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Refresh is single-flight: overlapping callers observe one network call.
type Manager struct {
	identity *IdentityClient
	store    TokenStore
	log      *logging.Logger

	mu          sync.Mutex
	session     *Session
	refreshDone chan struct{}
	refreshOK   bool

	teardownMu sync.Mutex
	teardown   func()
}

// NewManager creates a Manager over the given identity client and token store.
func NewManager(identity *IdentityClient, store TokenStore, log *logging.Logger) *Manager {
	return &Manager{
		identity: identity,
		store:    store,
		log:      log.With("component", "session"),
	}
}

// SetTeardown registers a hook run synchronously whenever the session is
// cleared, before the session is reported absent. The owner uses it to
// stop the realtime channel bound to the session, so no event arrives
// under a cleared identity.
func (m *Manager) SetTeardown(fn func()) {
	m.teardownMu.Lock()
	m.teardown = fn
	m.teardownMu.Unlock()
}

// Current returns a snapshot of the active session, or nil when absent.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	snapshot := *m.session
	return &snapshot
}

// Token returns the current access token, or "" when no session is active.
// Suitable as a realtime.TokenSource and for the entity API bearer header.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Token
}

// Roles returns the role names of the current session's claims. Absent
// session means no roles, which the authorizer treats as "can manage
// nothing".
func (m *Manager) Roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Claims == nil {
		return nil
	}
	return append([]string(nil), m.session.Claims.RoleNames...)
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Login authenticates with the identity service and activates a session.
// On failure any prior session is left untouched.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	auth, err := m.identity.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return m.activate(auth)
}

// Register creates an account and activates a session, with the same
// contract as Login.
func (m *Manager) Register(ctx context.Context, reg Registration) (*Session, error) {
	auth, err := m.identity.Register(ctx, reg)
	if err != nil {
		return nil, err
	}
	return m.activate(auth)
}

// Refresh silently renews the session using the identity service's
// refresh cookie.
//
// Single-flight: if a refresh is already in flight, the call returns
// (false, nil) immediately without a second network request and without
// touching state. Callers that need the in-flight outcome use
// AwaitRefresh. On success the session's token and claims are replaced;
// on any failure the session is cleared entirely, never partially.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.refreshDone != nil {
		m.mu.Unlock()
		return false, nil
	}
	done := make(chan struct{})
	m.refreshDone = done
	m.mu.Unlock()

	auth, err := m.identity.Refresh(ctx)
	if err == nil {
		_, err = m.activate(auth)
	}
	if err != nil {
		m.log.Info("refresh failed, clearing session", "error", err)
		m.clear()
	}

	m.mu.Lock()
	m.refreshOK = err == nil
	m.refreshDone = nil
	m.mu.Unlock()
	close(done)

	return true, err
}

// AwaitRefresh waits for an in-flight refresh, if any, and reports
// whether a session is active afterwards. This is the shared future for
// callers whose own Refresh call was skipped by the single-flight guard.
func (m *Manager) AwaitRefresh(ctx context.Context) (bool, error) {
	m.mu.Lock()
	done := m.refreshDone
	if done == nil {
		active := m.session != nil
		m.mu.Unlock()
		return active, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshOK, nil
}

// Logout invalidates the server-side refresh state (best effort; failure
// is logged, not surfaced) and unconditionally clears the local session.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.identity.Logout(ctx); err != nil {
		m.log.Warn("server-side logout failed", "error", err)
	}
	m.clear()
}

// ForceClear drops the local session without contacting the identity
// service. The entity API transport calls this when any request comes
// back 401: the token is no longer honoured, so the session is gone.
func (m *Manager) ForceClear() {
	m.log.Info("session force-cleared")
	m.clear()
}

// InitializeFromStorage is the cold-start reconciliation step. If a
// stored token decodes and is unexpired, the session is restored from it
// and, unless the navigation target is an unauthenticated-only view,
// exactly one Refresh is attempted. Never loops or retries.
func (m *Manager) InitializeFromStorage(ctx context.Context, target string) {
	raw := m.store.Load()
	if raw == "" {
		return
	}

	claims, err := token.Decode(raw)
	if err != nil || claims == nil || claims.IsExpired(time.Now()) {
		m.store.Clear()
		return
	}

	m.mu.Lock()
	m.session = &Session{Token: raw, Claims: claims}
	m.mu.Unlock()

	if target == RouteLogin || target == RouteRegister {
		return
	}

	if _, err := m.Refresh(ctx); err != nil {
		m.log.Info("cold-start refresh failed", "error", err)
	}
}

// activate stores a fresh token and swaps in the decoded session.
func (m *Manager) activate(auth AuthResponse) (*Session, error) {
	claims, err := token.Decode(auth.AccessToken)
	if err != nil || claims == nil {
		return nil, fmt.Errorf("%w: undecodable access token: %v", ErrServer, err)
	}

	m.store.Save(auth.AccessToken)

	m.mu.Lock()
	m.session = &Session{Token: auth.AccessToken, Claims: claims}
	snapshot := *m.session
	m.mu.Unlock()

	m.log.Info("session activated", "user", claims.Username, "roles", len(claims.RoleNames))
	return &snapshot, nil
}

// clear runs the teardown hook, then drops the stored token and the
// session. Hook first: the realtime channel must be stopped before the
// session is observable as absent.
func (m *Manager) clear() {
	m.teardownMu.Lock()
	stop := m.teardown
	m.teardownMu.Unlock()
	if stop != nil {
		stop()
	}

	m.store.Clear()

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}
