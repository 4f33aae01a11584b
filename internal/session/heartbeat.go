package session

import (
	"context"
	"log/slog"

	"github.com/lenahartl/fieldsync/internal/domain"
	"github.com/lenahartl/fieldsync/internal/metrics"
	"github.com/lenahartl/fieldsync/internal/platform/correlation"
)

// RunHeartbeat periodically validates the held role against the remote source
// of truth. It blocks until ctx is cancelled.
func (m *Manager) RunHeartbeat(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.HeartbeatOnce(correlation.WithNewID(ctx))
		}
	}
}

// HeartbeatOnce performs a single heartbeat cycle: a lightweight "what is my
// role" check. A role that differs from the locally held one is not an error
// but an authoritative correction; an unreachable remote or an empty answer
// degrades the session without touching the held profile.
func (m *Manager) HeartbeatOnce(ctx context.Context) {
	m.mu.Lock()
	if m.state != domain.StateAuthenticated || m.profile == nil {
		m.mu.Unlock()
		return
	}
	gen := m.generation
	m.mu.Unlock()

	role, err := m.data.CurrentRole(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Heartbeat failed", "error", err)
		metrics.HeartbeatTotal.WithLabelValues("failed").Inc()
		m.raiseSessionError(gen)
		return
	}
	if role == "" {
		slog.WarnContext(ctx, "Heartbeat returned no role")
		metrics.HeartbeatTotal.WithLabelValues("empty").Inc()
		m.raiseSessionError(gen)
		return
	}

	m.mu.Lock()
	if gen != m.generation || m.profile == nil {
		m.mu.Unlock()
		return
	}

	reconciled := m.profile.Role != role
	if reconciled {
		oldRole := m.profile.Role
		m.profile.Role = role
		// Losing platform-admin rights also forfeits browsing other tenants.
		if role != domain.RolePlatformAdmin {
			m.selectedTenant = m.profile.TenantID
		}
		slog.InfoContext(ctx, "Role reconciled from remote", "old", oldRole, "new", role)
	}
	errCleared := m.sessionErr
	m.sessionErr = false
	m.profileFetchedAt = m.clock.Now()
	m.mu.Unlock()

	if reconciled {
		metrics.HeartbeatTotal.WithLabelValues("reconciled").Inc()
	} else {
		metrics.HeartbeatTotal.WithLabelValues("ok").Inc()
	}
	metrics.SessionErrorFlag.Set(0)

	if reconciled || errCleared {
		m.notifier.SessionChanged()
	}
}

func (m *Manager) raiseSessionError(gen uint64) {
	m.mu.Lock()
	raised := false
	if gen == m.generation && m.state == domain.StateAuthenticated && !m.sessionErr {
		m.sessionErr = true
		raised = true
	}
	m.mu.Unlock()

	if raised {
		metrics.SessionErrorFlag.Set(1)
		m.notifier.SessionChanged()
	}
}
