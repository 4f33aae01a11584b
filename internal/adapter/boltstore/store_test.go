package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenahartl/fieldsync/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mutation(enqueuedAt time.Time, attachments ...domain.Attachment) *domain.PendingMutation {
	return &domain.PendingMutation{
		LocalID:     uuid.New(),
		Table:       "work_orders",
		Fields:      map[string]any{"note": "inspect pump house"},
		Attachments: attachments,
		EnqueuedAt:  enqueuedAt,
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestPutGet_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := mutation(time.Now().UTC(),
		domain.Attachment{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte{1, 2, 3}},
		domain.Attachment{Name: "back.jpg", ContentType: "image/jpeg", Data: []byte{4, 5}},
	)
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, m.LocalID)
	require.NoError(t, err)
	assert.Equal(t, m.LocalID, got.LocalID)
	assert.Equal(t, m.Table, got.Table)
	assert.Equal(t, "inspect pump house", got.Fields["note"])
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "front.jpg", got.Attachments[0].Name)
	assert.Equal(t, []byte{1, 2, 3}, got.Attachments[0].Data)
	assert.Equal(t, []byte{4, 5}, got.Attachments[1].Data)
}

func TestGet_Missing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrMutationNotFound)
}

func TestDelete_RemovesRecordAndAttachmentsAsUnit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	keep := mutation(time.Now(), domain.Attachment{Name: "keep.jpg", Data: []byte{9}})
	drop := mutation(time.Now(), domain.Attachment{Name: "drop.jpg", Data: []byte{8}})
	require.NoError(t, store.Put(ctx, keep))
	require.NoError(t, store.Put(ctx, drop))

	require.NoError(t, store.Delete(ctx, drop.LocalID))

	_, err := store.Get(ctx, drop.LocalID)
	assert.ErrorIs(t, err, domain.ErrMutationNotFound)

	// Neighboring entry is untouched, blobs included.
	got, err := store.Get(ctx, keep.LocalID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, []byte{9}, got.Attachments[0].Data)
}

func TestDelete_Missing(t *testing.T) {
	store := openTestStore(t)
	err := store.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrMutationNotFound)
}

func TestList_SortedByEnqueueTime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	third := mutation(base.Add(2 * time.Second))
	first := mutation(base)
	second := mutation(base.Add(time.Second))
	for _, m := range []*domain.PendingMutation{third, first, second} {
		require.NoError(t, store.Put(ctx, m))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, first.LocalID, list[0].LocalID)
	assert.Equal(t, second.LocalID, list[1].LocalID)
	assert.Equal(t, third.LocalID, list[2].LocalID)
}

func TestForEach_PropagatesCallbackError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, mutation(time.Now())))

	wantErr := assert.AnError
	err := store.ForEach(ctx, func(*domain.PendingMutation) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestPurge_DropsEverything(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, mutation(time.Now(), domain.Attachment{Name: "a", Data: []byte{1}})))
	require.NoError(t, store.Put(ctx, mutation(time.Now())))

	require.NoError(t, store.Purge(ctx))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Store stays usable after a purge.
	m := mutation(time.Now())
	require.NoError(t, store.Put(ctx, m))
	_, err = store.Get(ctx, m.LocalID)
	assert.NoError(t, err)
}

func TestCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.Put(ctx, mutation(time.Now())))
	require.NoError(t, store.Put(ctx, mutation(time.Now())))

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	m := mutation(time.Now().UTC(), domain.Attachment{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte{1, 2}})
	require.NoError(t, store.Put(ctx, m))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, m.LocalID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, []byte{1, 2}, got.Attachments[0].Data)
}
