package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
	"github.com/lenahartl/fieldsync/internal/metrics"
	"github.com/lenahartl/fieldsync/internal/platform/correlation"
)

// ReplayOne replays a single queued mutation: uploads its attachments
// (best-effort, failures skip the attachment rather than block the record),
// issues the one state-changing create call, and deletes the local entry only
// on confirmed success. Replaying an absent id is a no-op; concurrent replays
// of the same id collapse into one attempt.
func (q *Queue) ReplayOne(ctx context.Context, localID uuid.UUID) error {
	_, err, _ := q.replayGroup.Do(localID.String(), func() (any, error) {
		return nil, q.replayOne(ctx, localID)
	})
	return err
}

func (q *Queue) replayOne(ctx context.Context, localID uuid.UUID) error {
	ctx = correlation.WithNewID(ctx)

	m, err := q.store.Get(ctx, localID)
	if err != nil {
		if isNotFound(err) {
			slog.DebugContext(ctx, "Replay skipped, mutation already gone", "local_id", localID)
			return nil
		}
		metrics.ReplayTotal.WithLabelValues("storage").Inc()
		return apperrors.Storage("failed to load mutation", err)
	}

	principal, tenant, err := q.ids.ActingIdentity()
	if err != nil {
		metrics.ReplayTotal.WithLabelValues("transient").Inc()
		return apperrors.Auth("replay requires an authenticated session")
	}

	urls := q.uploadAttachments(ctx, m)

	fields := make(map[string]any, len(m.Fields)+4)
	for k, v := range m.Fields {
		fields[k] = v
	}
	fields["created_by"] = principal.String()
	if tenant != uuid.Nil {
		fields["tenant_id"] = tenant.String()
	}
	fields["photo_urls"] = urls
	if len(urls) > 0 {
		// Older record views still read the single-image column.
		fields["photo_url"] = urls[0]
	}

	if err := q.data.InsertRecord(ctx, m.Table, fields); err != nil {
		outcome := "transient"
		if apperrors.IsType(err, apperrors.TypeRemoteReject) {
			outcome = "rejected"
		}
		metrics.ReplayTotal.WithLabelValues(outcome).Inc()
		slog.WarnContext(ctx, "Replay failed, mutation stays queued", "local_id", localID, "table", m.Table, "error", err)
		return err
	}

	if err := q.store.Delete(ctx, localID); err != nil && !isNotFound(err) {
		// The record exists remotely but the local entry survived; the next
		// replay will no-op remotely only through user retry. Surface loudly.
		metrics.ReplayTotal.WithLabelValues("storage").Inc()
		return apperrors.Storage("replayed mutation could not be deleted locally", err).
			WithContext("local_id", localID.String())
	}

	slog.InfoContext(ctx, "Mutation replayed", "local_id", localID, "table", m.Table, "uploaded", len(urls), "skipped", len(m.Attachments)-len(urls))
	metrics.ReplayTotal.WithLabelValues("ok").Inc()
	q.updateDepth(ctx)
	q.notifier.RecordsChanged()
	q.notifier.OutboxChanged()
	return nil
}

// uploadAttachments uploads m's attachments in original order and returns the
// URLs of the ones that made it. A failed upload is logged and skipped: a
// record missing an image beats a record blocked forever on one bad blob.
func (q *Queue) uploadAttachments(ctx context.Context, m *domain.PendingMutation) []string {
	urls := make([]string, 0, len(m.Attachments))
	for i, a := range m.Attachments {
		name := objectName(m.LocalID, i, a.Name)
		url, err := q.data.UploadBinary(ctx, q.bucket, name, a.ContentType, a.Data)
		if err != nil {
			slog.WarnContext(ctx, "Attachment upload failed, skipping",
				"local_id", m.LocalID, "attachment", a.Name, "index", i, "error", err)
			metrics.AttachmentUploadFailures.Inc()
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// ReplayAll replays the current snapshot strictly sequentially. Items keep
// their enqueue order, a failing item does not stop the ones after it, and
// per-item errors are joined into the returned error.
func (q *Queue) ReplayAll(ctx context.Context) error {
	pending, err := q.ListPending(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := q.ReplayOne(ctx, m.LocalID); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", m.LocalID, err))
		}
	}
	return errors.Join(errs...)
}

func objectName(localID uuid.UUID, index int, name string) string {
	return fmt.Sprintf("%s/%02d-%s", localID, index, name)
}
