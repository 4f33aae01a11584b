package domain

import (
	"github.com/google/uuid"
)

// Session is the identity handed out by the remote auth service: an opaque
// access token plus the authenticated principal. It lives in memory only and
// is replaced wholesale on token refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	PrincipalID  uuid.UUID
	Email        string
}

// SessionEventKind classifies asynchronous notifications from the auth service.
type SessionEventKind string

const (
	SessionSignedIn       SessionEventKind = "signed_in"
	SessionTokenRefreshed SessionEventKind = "token_refreshed"
	SessionSignedOut      SessionEventKind = "signed_out"
)

// SessionState is the lifecycle state of the local session machine.
type SessionState string

const (
	StateUninitialized   SessionState = "uninitialized"
	StateInitializing    SessionState = "initializing"
	StateAuthenticated   SessionState = "authenticated"
	StateUnauthenticated SessionState = "unauthenticated"
)

// SessionSnapshot is a point-in-time, read-only view of the session machine
// for UI consumption. Loading is true only while the machine has not yet
// resolved to a terminal state.
type SessionSnapshot struct {
	State          SessionState
	Loading        bool
	Session        *Session
	Profile        *Profile
	SelectedTenant uuid.UUID
	SessionError   bool
}
