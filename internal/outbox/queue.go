// Package outbox is the offline mutation queue: record creations captured
// while disconnected are persisted locally with their attachments and later
// replayed against the remote service, each deleted only on confirmed
// success.
package outbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
	"github.com/lenahartl/fieldsync/internal/metrics"
)

// IdentityProvider supplies the acting principal and tenant at replay time.
// Satisfied by session.Manager.
type IdentityProvider interface {
	ActingIdentity() (principal, tenant uuid.UUID, err error)
}

// Queue is the offline mutation queue.
type Queue struct {
	store    domain.MutationStore
	data     domain.DataService
	ids      IdentityProvider
	notifier domain.Notifier
	clock    clockwork.Clock
	bucket   string

	// replayGroup collapses concurrent replays of the same mutation so a
	// double-triggered sync cannot double-create the remote record.
	replayGroup singleflight.Group
}

// NewQueue creates the queue. bucket is the remote storage bucket attachments
// are uploaded into.
func NewQueue(store domain.MutationStore, data domain.DataService, ids IdentityProvider, notifier domain.Notifier, clock clockwork.Clock, bucket string) *Queue {
	return &Queue{
		store:    store,
		data:     data,
		ids:      ids,
		notifier: notifier,
		clock:    clock,
		bucket:   bucket,
	}
}

// Enqueue durably appends a pending mutation and returns its local id. Never
// touches the network.
func (q *Queue) Enqueue(ctx context.Context, table string, fields map[string]any, attachments []domain.Attachment) (uuid.UUID, error) {
	if table == "" {
		return uuid.Nil, apperrors.Validation("table is required")
	}

	m := &domain.PendingMutation{
		LocalID:     uuid.New(),
		Table:       table,
		Fields:      fields,
		Attachments: attachments,
		EnqueuedAt:  q.clock.Now(),
	}

	if err := q.store.Put(ctx, m); err != nil {
		return uuid.Nil, apperrors.Storage("failed to enqueue mutation", err)
	}

	slog.InfoContext(ctx, "Mutation enqueued", "local_id", m.LocalID, "table", table, "attachments", len(attachments))
	metrics.OutboxEnqueuedTotal.Inc()
	q.updateDepth(ctx)
	q.notifier.OutboxChanged()
	return m.LocalID, nil
}

// ListPending returns a snapshot of queued mutations in enqueue order.
func (q *Queue) ListPending(ctx context.Context) ([]*domain.PendingMutation, error) {
	list, err := q.store.List(ctx)
	if err != nil {
		return nil, apperrors.Storage("failed to list pending mutations", err)
	}
	return list, nil
}

// ForEachPending iterates queued mutations without materializing a snapshot,
// for live UI reads.
func (q *Queue) ForEachPending(ctx context.Context, fn func(*domain.PendingMutation) error) error {
	if err := q.store.ForEach(ctx, fn); err != nil {
		return apperrors.Storage("failed to iterate pending mutations", err)
	}
	return nil
}

// Discard deletes a queued mutation and its attachments as a unit without
// replaying it. Discarding an already-absent mutation is a no-op.
func (q *Queue) Discard(ctx context.Context, localID uuid.UUID) error {
	err := q.store.Delete(ctx, localID)
	switch {
	case err == nil:
	case isNotFound(err):
		return nil
	default:
		return apperrors.Storage("failed to discard mutation", err)
	}

	slog.InfoContext(ctx, "Mutation discarded", "local_id", localID)
	q.updateDepth(ctx)
	q.notifier.OutboxChanged()
	return nil
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.store.Count(ctx); err == nil {
		metrics.OutboxDepth.Set(float64(n))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrMutationNotFound) || apperrors.IsType(err, apperrors.TypeNotFound)
}
