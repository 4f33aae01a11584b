// Package boltstore persists pending mutations and their attachment blobs in
// a local bbolt file. Mutation row and attachment blobs live in separate
// buckets but are always written and deleted inside a single transaction, so
// an entry either exists in full or not at all.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/lenahartl/fieldsync/internal/domain"
)

const (
	mutationBucket   = "mutations"
	attachmentBucket = "attachments"
)

// Store is a bbolt-backed domain.MutationStore.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the store at the provided path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// storedMutation is the on-disk row. Attachment payloads are kept out of the
// row and stored per-blob in the attachment bucket.
type storedMutation struct {
	LocalID     uuid.UUID        `json:"local_id"`
	Table       string           `json:"table"`
	Fields      map[string]any   `json:"fields"`
	Attachments []attachmentMeta `json:"attachments"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

type attachmentMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

// Put persists a pending mutation together with its attachment blobs.
func (s *Store) Put(ctx context.Context, m *domain.PendingMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil || m.LocalID == uuid.Nil {
		return fmt.Errorf("mutation local id is required")
	}

	row := storedMutation{
		LocalID:    m.LocalID,
		Table:      m.Table,
		Fields:     m.Fields,
		EnqueuedAt: m.EnqueuedAt,
	}
	for _, a := range m.Attachments {
		row.Attachments = append(row.Attachments, attachmentMeta{Name: a.Name, ContentType: a.ContentType})
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		mutations := tx.Bucket([]byte(mutationBucket))
		blobs := tx.Bucket([]byte(attachmentBucket))
		if mutations == nil || blobs == nil {
			return fmt.Errorf("outbox buckets are missing")
		}
		if err := mutations.Put(m.LocalID[:], payload); err != nil {
			return err
		}
		for i, a := range m.Attachments {
			if err := blobs.Put(attachmentKey(m.LocalID, i), a.Data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put mutation: %w", err)
	}
	return nil
}

// Get fetches a pending mutation with its attachment payloads reassembled.
// Returns domain.ErrMutationNotFound when no row exists.
func (s *Store) Get(ctx context.Context, localID uuid.UUID) (*domain.PendingMutation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *domain.PendingMutation
	err := s.db.View(func(tx *bbolt.Tx) error {
		mutations := tx.Bucket([]byte(mutationBucket))
		blobs := tx.Bucket([]byte(attachmentBucket))
		if mutations == nil || blobs == nil {
			return fmt.Errorf("outbox buckets are missing")
		}

		payload := mutations.Get(localID[:])
		if payload == nil {
			return domain.ErrMutationNotFound
		}

		m, err := decodeMutation(payload, blobs)
		if err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns a snapshot of all pending mutations in enqueue order.
func (s *Store) List(ctx context.Context) ([]*domain.PendingMutation, error) {
	var result []*domain.PendingMutation
	err := s.ForEach(ctx, func(m *domain.PendingMutation) error {
		result = append(result, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EnqueuedAt.Equal(result[j].EnqueuedAt) {
			return result[i].EnqueuedAt.Before(result[j].EnqueuedAt)
		}
		return bytes.Compare(result[i].LocalID[:], result[j].LocalID[:]) < 0
	})
	return result, nil
}

// ForEach iterates pending mutations with a read cursor. fn errors abort the
// iteration and are returned unchanged.
func (s *Store) ForEach(ctx context.Context, fn func(*domain.PendingMutation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		mutations := tx.Bucket([]byte(mutationBucket))
		blobs := tx.Bucket([]byte(attachmentBucket))
		if mutations == nil || blobs == nil {
			return fmt.Errorf("outbox buckets are missing")
		}

		return mutations.ForEach(func(_, payload []byte) error {
			m, err := decodeMutation(payload, blobs)
			if err != nil {
				return err
			}
			return fn(m)
		})
	})
}

// Delete removes the mutation row and all of its attachment blobs in one
// transaction. Deleting an absent mutation returns domain.ErrMutationNotFound.
func (s *Store) Delete(ctx context.Context, localID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		mutations := tx.Bucket([]byte(mutationBucket))
		blobs := tx.Bucket([]byte(attachmentBucket))
		if mutations == nil || blobs == nil {
			return fmt.Errorf("outbox buckets are missing")
		}

		if mutations.Get(localID[:]) == nil {
			return domain.ErrMutationNotFound
		}
		if err := mutations.Delete(localID[:]); err != nil {
			return err
		}

		c := blobs.Cursor()
		prefix := localID[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Purge drops all outbox contents. Used by the forced-logout teardown.
func (s *Store) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{mutationBucket, attachmentBucket} {
			if tx.Bucket([]byte(name)) != nil {
				if err := tx.DeleteBucket([]byte(name)); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of pending mutations.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		mutations := tx.Bucket([]byte(mutationBucket))
		if mutations == nil {
			return fmt.Errorf("outbox buckets are missing")
		}
		n = mutations.Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{mutationBucket, attachmentBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func decodeMutation(payload []byte, blobs *bbolt.Bucket) (*domain.PendingMutation, error) {
	var row storedMutation
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("unmarshal mutation: %w", err)
	}

	m := &domain.PendingMutation{
		LocalID:    row.LocalID,
		Table:      row.Table,
		Fields:     row.Fields,
		EnqueuedAt: row.EnqueuedAt,
	}
	for i, meta := range row.Attachments {
		data := blobs.Get(attachmentKey(row.LocalID, i))
		m.Attachments = append(m.Attachments, domain.Attachment{
			Name:        meta.Name,
			ContentType: meta.ContentType,
			Data:        append([]byte(nil), data...),
		})
	}
	return m, nil
}

func attachmentKey(localID uuid.UUID, index int) []byte {
	return fmt.Appendf(localID[:16:16], "/%04d", index)
}
