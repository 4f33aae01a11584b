package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
)

func TestReplayOne_SuccessDeletesLocalEntry(t *testing.T) {
	f := newQueueFixture(t)
	id := f.enqueue(t, "site inspection",
		domain.Attachment{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte{1}},
		domain.Attachment{Name: "back.jpg", ContentType: "image/jpeg", Data: []byte{2}},
	)

	require.NoError(t, f.queue.ReplayOne(context.Background(), id))

	require.Equal(t, 1, f.remote.insertCount())
	call := f.remote.lastInsert()
	assert.Equal(t, "work_orders", call.table)
	assert.Equal(t, "site inspection", call.fields["note"])
	assert.Equal(t, f.ids.principal.String(), call.fields["created_by"])
	assert.Equal(t, f.ids.tenant.String(), call.fields["tenant_id"])

	urls, ok := call.fields["photo_urls"].([]string)
	require.True(t, ok)
	require.Len(t, urls, 2)
	assert.Equal(t, urls[0], call.fields["photo_url"], "legacy single-image field mirrors the first upload")

	pending, err := f.queue.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplayOne_InsertFailureKeepsEntryIntact(t *testing.T) {
	f := newQueueFixture(t)
	id := f.enqueue(t, "doomed", domain.Attachment{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte{7, 8}})

	f.remote.insertFn = func(string, map[string]any) error {
		return apperrors.RemoteReject("duplicate record", nil)
	}

	err := f.queue.ReplayOne(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeRemoteReject))

	// Record and attachments both survive, as a unit.
	m, getErr := f.store.Get(context.Background(), id)
	require.NoError(t, getErr)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, []byte{7, 8}, m.Attachments[0].Data)
}

func TestReplayOne_FailedUploadSkipsAttachment(t *testing.T) {
	f := newQueueFixture(t)
	id := f.enqueue(t, "partial",
		domain.Attachment{Name: "broken.jpg", ContentType: "image/jpeg", Data: []byte{1}},
		domain.Attachment{Name: "fine.jpg", ContentType: "image/jpeg", Data: []byte{2}},
	)

	f.remote.uploadFn = func(bucket, name, _ string, _ []byte) (string, error) {
		if name == objectName(id, 0, "broken.jpg") {
			return "", errors.New("storage hiccup")
		}
		return "https://cdn.example.com/" + bucket + "/" + name, nil
	}

	require.NoError(t, f.queue.ReplayOne(context.Background(), id))

	call := f.remote.lastInsert()
	urls := call.fields["photo_urls"].([]string)
	require.Len(t, urls, 1, "failed upload is skipped, not fatal")
	assert.Contains(t, urls[0], "fine.jpg")
	assert.Equal(t, urls[0], call.fields["photo_url"])
}

func TestReplayOne_MissingEntryIsNoop(t *testing.T) {
	f := newQueueFixture(t)
	assert.NoError(t, f.queue.ReplayOne(context.Background(), uuid.New()))
	assert.Equal(t, 0, f.remote.insertCount())
}

func TestReplayOne_RequiresAuthenticatedSession(t *testing.T) {
	f := newQueueFixture(t)
	id := f.enqueue(t, "offline")
	f.ids.err = domain.ErrNotAuthenticated

	err := f.queue.ReplayOne(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuth))

	pending, listErr := f.queue.ListPending(context.Background())
	require.NoError(t, listErr)
	assert.Len(t, pending, 1)
}

func TestReplayOne_ConcurrentCallsInsertOnce(t *testing.T) {
	f := newQueueFixture(t)
	id := f.enqueue(t, "double trigger")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.remote.insertFn = func(string, map[string]any) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.queue.ReplayOne(context.Background(), id)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, f.remote.insertCount(), "double-triggered sync must create the record at most once")
}

func TestReplayAll_ContinuesPastFailingItem(t *testing.T) {
	f := newQueueFixture(t)
	first := f.enqueue(t, "one")
	second := f.enqueue(t, "two", domain.Attachment{Name: "keep.jpg", ContentType: "image/jpeg", Data: []byte{42}})
	third := f.enqueue(t, "three")

	f.remote.insertFn = func(_ string, fields map[string]any) error {
		if fields["note"] == "two" {
			return apperrors.RemoteReject("constraint violation", nil)
		}
		return nil
	}

	err := f.queue.ReplayAll(context.Background())
	require.Error(t, err)

	pending, listErr := f.queue.ListPending(context.Background())
	require.NoError(t, listErr)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].LocalID)
	require.Len(t, pending[0].Attachments, 1)
	assert.Equal(t, []byte{42}, pending[0].Attachments[0].Data, "failed item keeps its attachments intact")

	for _, id := range []uuid.UUID{first, third} {
		_, getErr := f.store.Get(context.Background(), id)
		assert.ErrorIs(t, getErr, domain.ErrMutationNotFound)
	}
}

func TestReplayAll_EmptyQueue(t *testing.T) {
	f := newQueueFixture(t)
	assert.NoError(t, f.queue.ReplayAll(context.Background()))
}
