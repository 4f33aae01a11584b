// Package session owns the authenticated identity and the derived
// authorization profile, and keeps both correct against an unreliable remote
// service: bounded-retry profile fetches that never clobber a last-known-good
// profile, a heartbeat that reconciles the role against the remote source of
// truth, and explicit recovery and forced-logout paths.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
	"github.com/lenahartl/fieldsync/internal/metrics"
	"github.com/lenahartl/fieldsync/internal/platform/correlation"
	"github.com/lenahartl/fieldsync/internal/platform/retry"
)

// Config holds the manager's timing knobs.
type Config struct {
	ProfileFetchTimeout time.Duration
	ProfileFetchRetries int
	ProfileFetchBackoff time.Duration
	InitWatchdog        time.Duration
	HeartbeatInterval   time.Duration
	SignOutTimeout      time.Duration
	// ProfileMaxStale bounds how long a retained last-known-good profile may
	// go unrefreshed before the session is flagged degraded. Zero means no
	// bound.
	ProfileMaxStale time.Duration
}

// DefaultConfig returns the timings the UI was tuned against.
func DefaultConfig() Config {
	return Config{
		ProfileFetchTimeout: 6 * time.Second,
		ProfileFetchRetries: 1,
		ProfileFetchBackoff: time.Second,
		InitWatchdog:        5 * time.Second,
		HeartbeatInterval:   4 * time.Minute,
		SignOutTimeout:      500 * time.Millisecond,
	}
}

// Manager is the session state machine. All mutable state lives behind mu and
// is re-read at every decision point; nothing is decided on a value captured
// before a remote call returned.
type Manager struct {
	identity domain.IdentityService
	data     domain.DataService
	store    domain.MutationStore
	notifier domain.Notifier
	clock    clockwork.Clock
	cfg      Config

	initGroup singleflight.Group

	mu               sync.Mutex
	state            domain.SessionState
	session          *domain.Session
	profile          *domain.Profile
	selectedTenant   uuid.UUID
	sessionErr       bool
	profileFetchedAt time.Time
	// generation increments on every sign-out. In-flight fetches snapshot it
	// and discard their result if it moved, so a late success cannot
	// resurrect a session the user already left.
	generation uint64
}

// NewManager creates a session manager in the uninitialized state.
func NewManager(identity domain.IdentityService, data domain.DataService, store domain.MutationStore, notifier domain.Notifier, clock clockwork.Clock, cfg Config) *Manager {
	m := &Manager{
		identity: identity,
		data:     data,
		store:    store,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		state:    domain.StateUninitialized,
	}
	metrics.SetSessionState(string(m.state))
	return m
}

// Snapshot returns a point-in-time copy of the session state for UI reads.
func (m *Manager) Snapshot() domain.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.SessionSnapshot{
		State:          m.state,
		Loading:        m.state == domain.StateUninitialized || m.state == domain.StateInitializing,
		SelectedTenant: m.selectedTenant,
		SessionError:   m.sessionErr,
	}
	if m.session != nil {
		s := *m.session
		snap.Session = &s
	}
	if m.profile != nil {
		p := *m.profile
		snap.Profile = &p
	}
	return snap
}

// ActingIdentity returns the principal and tenant a replayed mutation must be
// tagged with. Fails when no authenticated session exists.
func (m *Manager) ActingIdentity() (principal, tenant uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.StateAuthenticated || m.session == nil {
		return uuid.Nil, uuid.Nil, domain.ErrNotAuthenticated
	}
	return m.session.PrincipalID, m.selectedTenant, nil
}

// Initialize resolves the existing remote session, if any, and installs the
// principal's profile. Concurrent calls collapse into one in-flight attempt.
// It always returns within the watchdog bound: a fetch still in flight keeps
// running and applies its result when it lands.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.state != domain.StateAuthenticated {
		m.setStateLocked(domain.StateInitializing)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = m.initGroup.Do("initialize", func() (any, error) {
			m.runInitialize(correlation.WithNewID(context.WithoutCancel(ctx)))
			return nil, nil
		})
	}()

	timer := m.clock.NewTimer(m.cfg.InitWatchdog)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.Chan():
		m.resolveWatchdog()
	}
}

func (m *Manager) runInitialize(ctx context.Context) {
	sess, err := m.identity.CurrentSession(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Could not resolve existing session", "error", err)
		m.settleUnauthenticated()
		return
	}
	if sess == nil {
		slog.InfoContext(ctx, "No existing session")
		m.settleUnauthenticated()
		return
	}

	slog.InfoContext(ctx, "Existing session found", "principal", sess.PrincipalID)
	m.fetchProfile(ctx, sess, false)
}

// resolveWatchdog forces the machine out of Initializing so no caller is ever
// left on a spinner. The in-flight fetch is not aborted; its late result goes
// through the same idempotent install/retain paths.
func (m *Manager) resolveWatchdog() {
	m.mu.Lock()
	forced := m.state == domain.StateInitializing
	if forced {
		m.setStateLocked(domain.StateUnauthenticated)
	}
	m.mu.Unlock()

	if forced {
		slog.Warn("Session initialization exceeded watchdog, releasing callers", "watchdog", m.cfg.InitWatchdog)
		m.notifier.SessionChanged()
	}
}

func (m *Manager) settleUnauthenticated() {
	m.mu.Lock()
	changed := m.state != domain.StateUnauthenticated
	m.setStateLocked(domain.StateUnauthenticated)
	m.mu.Unlock()

	if changed {
		m.notifier.SessionChanged()
	}
}

// HandleSessionEvent is the entry point for asynchronous notifications from
// the identity service. Events are handled in arrival order.
func (m *Manager) HandleSessionEvent(kind domain.SessionEventKind, sess *domain.Session) {
	ctx := correlation.WithNewID(context.Background())
	slog.InfoContext(ctx, "Session event received", "kind", kind)

	switch kind {
	case domain.SessionSignedOut:
		m.clearSession()
		m.notifier.NavigateToLogin()

	case domain.SessionSignedIn, domain.SessionTokenRefreshed:
		if sess == nil {
			slog.WarnContext(ctx, "Ignoring session event without session", "kind", kind)
			return
		}
		m.fetchProfile(ctx, sess, false)
	}
}

// fetchProfile runs the profile-fetch procedure for sess. Unless force is
// set, a valid profile already held for the same principal short-circuits the
// remote round trip: a fresh token is not a reason to risk overwriting a
// known-good profile with a flaky read. Returns true only when a fresh
// profile ends up installed (or the skip shortcut confirmed one); a merely
// retained prior profile counts as failure so explicit recovery reports
// honestly.
func (m *Manager) fetchProfile(ctx context.Context, sess *domain.Session, force bool) bool {
	gen := m.currentGeneration()

	if !force {
		m.mu.Lock()
		if m.profile != nil && m.profile.PrincipalID == sess.PrincipalID && m.profile.Role != "" {
			m.session = sess
			m.setStateLocked(domain.StateAuthenticated)
			m.mu.Unlock()
			metrics.ProfileFetchTotal.WithLabelValues("skipped").Inc()
			m.notifier.SessionChanged()
			return true
		}
		m.mu.Unlock()
	}

	policy := retry.Policy{
		MaxAttempts:    m.cfg.ProfileFetchRetries + 1,
		AttemptTimeout: m.cfg.ProfileFetchTimeout,
		Backoff:        m.cfg.ProfileFetchBackoff,
		OnRetry: func(attempt int, err error) {
			slog.WarnContext(ctx, "Profile fetch failed, retrying", "attempt", attempt, "error", err)
		},
	}

	profile, err := retry.Do(ctx, m.clock, policy, retry.Transient, func(ctx context.Context) (*domain.Profile, error) {
		return m.data.ReadProfile(ctx, sess.PrincipalID)
	})

	if err == nil && profile != nil && profile.Role != "" {
		m.installProfile(ctx, gen, sess, profile)
		return true
	}

	return m.retainOrDegrade(ctx, gen, sess, err)
}

// installProfile commits a freshly fetched profile, unless the session
// generation moved while the fetch was in flight.
func (m *Manager) installProfile(ctx context.Context, gen uint64, sess *domain.Session, profile *domain.Profile) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		slog.InfoContext(ctx, "Discarding stale profile fetch result", "principal", profile.PrincipalID)
		return
	}

	m.session = sess
	m.profile = profile
	m.sessionErr = false
	m.profileFetchedAt = m.clock.Now()
	if profile.Role != domain.RolePlatformAdmin || m.selectedTenant == uuid.Nil {
		m.selectedTenant = profile.TenantID
	}
	m.setStateLocked(domain.StateAuthenticated)
	m.mu.Unlock()

	slog.InfoContext(ctx, "Profile installed", "principal", profile.PrincipalID, "role", profile.Role, "tenant", profile.TenantID)
	metrics.ProfileFetchTotal.WithLabelValues("installed").Inc()
	metrics.SessionErrorFlag.Set(0)
	m.notifier.SessionChanged()
}

// retainOrDegrade applies the failure policy after retries are exhausted or
// the remote answered without a role: keep a prior valid profile for the same
// principal untouched and quiet, otherwise flag the session for explicit
// recovery.
func (m *Manager) retainOrDegrade(ctx context.Context, gen uint64, sess *domain.Session, fetchErr error) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}

	m.session = sess

	if m.profile != nil && m.profile.PrincipalID == sess.PrincipalID && m.profile.Role != "" {
		stale := m.cfg.ProfileMaxStale > 0 && m.clock.Since(m.profileFetchedAt) > m.cfg.ProfileMaxStale
		if stale {
			m.sessionErr = true
		}
		m.setStateLocked(domain.StateAuthenticated)
		m.mu.Unlock()

		slog.WarnContext(ctx, "Profile fetch failed, retaining last-known-good profile",
			"principal", sess.PrincipalID, "stale_flagged", stale, "error", fetchErr)
		metrics.ProfileFetchTotal.WithLabelValues("retained").Inc()
		if stale {
			metrics.SessionErrorFlag.Set(1)
		}
		m.notifier.SessionChanged()
		return false
	}

	m.sessionErr = true
	m.setStateLocked(domain.StateAuthenticated)
	m.mu.Unlock()

	slog.ErrorContext(ctx, "No profile available for principal, session degraded",
		"principal", sess.PrincipalID, "error", fetchErr)
	metrics.ProfileFetchTotal.WithLabelValues("failed").Inc()
	metrics.SessionErrorFlag.Set(1)
	m.notifier.SessionChanged()
	return false
}

// RecoverSession is the explicit user-triggered repair: refresh the token,
// then force a full profile fetch with no skip shortcut.
func (m *Manager) RecoverSession(ctx context.Context) error {
	ctx = correlation.WithNewID(ctx)
	slog.InfoContext(ctx, "Session recovery requested")

	sess, err := m.identity.RefreshSession(ctx)
	if err != nil {
		metrics.RecoveryTotal.WithLabelValues("refresh_failed").Inc()
		return apperrors.Transient("token refresh failed", err)
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	if !m.fetchProfile(ctx, sess, true) {
		metrics.RecoveryTotal.WithLabelValues("fetch_failed").Inc()
		return apperrors.Auth("profile could not be restored")
	}

	metrics.RecoveryTotal.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "Session recovered")
	return nil
}

// ForceLogout tears down all local session state, best-effort notifies the
// remote service under a short timeout, and unconditionally routes the UI to
// the unauthenticated entry point. Local teardown happens first so a crash
// mid-logout cannot leave a valid-looking stale session behind.
func (m *Manager) ForceLogout(ctx context.Context) {
	ctx = correlation.WithNewID(ctx)
	slog.InfoContext(ctx, "Forced logout")

	if err := m.store.Purge(ctx); err != nil {
		// Logout proceeds regardless; a failed purge must not trap the user
		// in a broken session.
		slog.ErrorContext(ctx, "Failed to purge local store during logout", "error", err)
	}

	m.clearSession()

	signOutCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.identity.SignOut(signOutCtx) }()

	timer := m.clock.NewTimer(m.cfg.SignOutTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			slog.WarnContext(ctx, "Remote sign-out failed", "error", err)
		}
	case <-timer.Chan():
		slog.WarnContext(ctx, "Remote sign-out timed out", "timeout", m.cfg.SignOutTimeout)
	}

	m.notifier.NavigateToLogin()
}

// SwitchTenant changes the tenant the UI is scoped to. Platform admins may
// select any tenant; everyone else only their home tenant.
func (m *Manager) SwitchTenant(tenantID uuid.UUID) error {
	m.mu.Lock()
	if m.profile == nil {
		m.mu.Unlock()
		return apperrors.Auth("no authenticated profile")
	}
	if m.profile.Role != domain.RolePlatformAdmin && tenantID != m.profile.TenantID {
		m.mu.Unlock()
		return apperrors.Auth("tenant switch not permitted").WithContext("tenant", tenantID.String())
	}
	changed := m.selectedTenant != tenantID
	m.selectedTenant = tenantID
	m.mu.Unlock()

	if changed {
		m.notifier.SessionChanged()
	}
	return nil
}

// clearSession wipes identity, profile and tenant selection and moves to the
// unauthenticated state. The generation bump invalidates in-flight fetches.
func (m *Manager) clearSession() {
	m.mu.Lock()
	m.session = nil
	m.profile = nil
	m.selectedTenant = uuid.Nil
	m.sessionErr = false
	m.generation++
	m.setStateLocked(domain.StateUnauthenticated)
	m.mu.Unlock()

	metrics.SessionErrorFlag.Set(0)
	m.notifier.SessionChanged()
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) setStateLocked(state domain.SessionState) {
	m.state = state
	metrics.SetSessionState(string(state))
}
