package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenahartl/fieldsync/internal/domain"
)

func authenticatedFixture(t *testing.T, role domain.Role) (*fixture, *domain.Session) {
	t.Helper()

	f := newFixture(testConfig())
	sess := testSession()
	profile := profileFor(sess, role)

	f.identity.currentSessionFn = func(context.Context) (*domain.Session, error) { return sess, nil }
	f.data.readProfileFn = func(context.Context, uuid.UUID) (*domain.Profile, error) {
		p := *profile
		return &p, nil
	}
	f.manager.Initialize(context.Background())
	require.Equal(t, domain.StateAuthenticated, f.manager.Snapshot().State)
	return f, sess
}

func TestHeartbeat_ReconcilesRoleFromRemote(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RoleBasic)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return domain.RoleTenantAdmin, nil
	}

	f.manager.HeartbeatOnce(context.Background())

	snap := f.manager.Snapshot()
	assert.Equal(t, domain.RoleTenantAdmin, snap.Profile.Role, "remote is the source of truth for role")
	assert.False(t, snap.SessionError)
}

func TestHeartbeat_UnreachableRemoteKeepsRole(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RoleBasic)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return "", errors.New("network unreachable")
	}

	f.manager.HeartbeatOnce(context.Background())

	snap := f.manager.Snapshot()
	assert.Equal(t, domain.RoleBasic, snap.Profile.Role)
	assert.True(t, snap.SessionError)
}

func TestHeartbeat_EmptyRoleRaisesError(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RoleBasic)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) { return "", nil }

	f.manager.HeartbeatOnce(context.Background())

	snap := f.manager.Snapshot()
	assert.Equal(t, domain.RoleBasic, snap.Profile.Role)
	assert.True(t, snap.SessionError)
}

func TestHeartbeat_SuccessClearsSessionError(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RoleBasic)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return "", errors.New("flaky")
	}
	f.manager.HeartbeatOnce(context.Background())
	require.True(t, f.manager.Snapshot().SessionError)

	f.data.mu.Lock()
	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return domain.RoleBasic, nil
	}
	f.data.mu.Unlock()
	f.manager.HeartbeatOnce(context.Background())

	assert.False(t, f.manager.Snapshot().SessionError)
}

func TestHeartbeat_RevokedPlatformAdminLosesTenantSelection(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RolePlatformAdmin)

	browsed := uuid.New()
	require.NoError(t, f.manager.SwitchTenant(browsed))
	require.Equal(t, browsed, f.manager.Snapshot().SelectedTenant)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return domain.RoleBasic, nil
	}
	f.manager.HeartbeatOnce(context.Background())

	snap := f.manager.Snapshot()
	assert.Equal(t, domain.RoleBasic, snap.Profile.Role)
	assert.Equal(t, snap.Profile.TenantID, snap.SelectedTenant, "revoked admin snaps back to the home tenant")
}

func TestHeartbeat_NoopWhenUnauthenticated(t *testing.T) {
	f := newFixture(testConfig())

	called := false
	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		called = true
		return domain.RoleBasic, nil
	}

	f.manager.HeartbeatOnce(context.Background())
	assert.False(t, called)
}

func TestRunHeartbeat_TicksOnInterval(t *testing.T) {
	f, _ := authenticatedFixture(t, domain.RoleBasic)

	f.data.currentRoleFn = func(context.Context) (domain.Role, error) {
		return domain.RoleTenantAdmin, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.RunHeartbeat(ctx)

	f.clock.BlockUntil(1)
	f.clock.Advance(f.manager.cfg.HeartbeatInterval)

	assert.Eventually(t, func() bool {
		return f.manager.Snapshot().Profile.Role == domain.RoleTenantAdmin
	}, 2*time.Second, 10*time.Millisecond)
}
