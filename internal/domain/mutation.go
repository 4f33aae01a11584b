package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Attachment is a binary payload (typically a photo) captured alongside an
// offline record creation.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// PendingMutation is a locally queued record creation awaiting replay against
// the remote service. It is owned by the durable store until replay succeeds,
// at which point record and attachments are deleted as a unit.
type PendingMutation struct {
	LocalID     uuid.UUID
	Table       string
	Fields      map[string]any
	Attachments []Attachment
	EnqueuedAt  time.Time
}

// MutationStore is the durable local store for pending mutations. Delete must
// remove the mutation row and all of its attachment blobs atomically: after
// any outcome either the whole entry exists or none of it does.
type MutationStore interface {
	Put(ctx context.Context, m *PendingMutation) error
	Get(ctx context.Context, localID uuid.UUID) (*PendingMutation, error)
	List(ctx context.Context) ([]*PendingMutation, error)
	ForEach(ctx context.Context, fn func(*PendingMutation) error) error
	Delete(ctx context.Context, localID uuid.UUID) error
	Purge(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
