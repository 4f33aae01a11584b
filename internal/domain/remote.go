package domain

import (
	"context"

	"github.com/google/uuid"
)

// SessionEventHandler receives asynchronous session notifications. session is
// nil for sign-out events.
type SessionEventHandler func(kind SessionEventKind, session *Session)

// IdentityService is the auth-plane contract of the remote service.
type IdentityService interface {
	// CurrentSession returns the existing session, or (nil, nil) when the
	// remote service knows of none.
	CurrentSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	// SubscribeSessionEvents registers handler for asynchronous sign-in,
	// token-refresh and sign-out notifications. The returned function
	// unsubscribes.
	SubscribeSessionEvents(ctx context.Context, handler SessionEventHandler) (func(), error)
}

// DataService is the data-plane contract of the remote service: row reads and
// writes, the role RPC, and binary object uploads.
type DataService interface {
	// ReadProfile returns (nil, nil) when no profile row exists for the
	// principal.
	ReadProfile(ctx context.Context, principalID uuid.UUID) (*Profile, error)
	// CurrentRole invokes the get_current_user_role RPC. An empty role with
	// a nil error means the remote answered but knows of no role.
	CurrentRole(ctx context.Context) (Role, error)
	InsertRecord(ctx context.Context, table string, fields map[string]any) error
	// UploadBinary stores blob under bucket/name and returns its public URL.
	UploadBinary(ctx context.Context, bucket, name string, contentType string, blob []byte) (string, error)
}

// Notifier pushes UI-relevant state changes out of the core. Implementations
// must never block the caller.
type Notifier interface {
	SessionChanged()
	NavigateToLogin()
	RecordsChanged()
	OutboxChanged()
}
