package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/pkg/api"
)

// entityBucket возвращает bucket сущности; в read-only транзакции может вернуть nil
func entityBucket(tx *bbolt.Tx, entity string) (*bbolt.Bucket, error) {
	root := tx.Bucket(bucketDocuments)
	if !tx.Writable() {
		return root.Bucket([]byte(entity)), nil
	}

	bucket, err := root.CreateBucketIfNotExists([]byte(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket for %s: %w", entity, err)
	}
	return bucket, nil
}

func getLocal(bucket *bbolt.Bucket, id string) (*storage.LocalDocument, error) {
	if bucket == nil {
		return nil, storage.ErrDocumentNotFound
	}
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, storage.ErrDocumentNotFound
	}

	doc := &storage.LocalDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}
	return doc, nil
}

// getOrNew возвращает документ или пустую запись для нового id
func getOrNew(bucket *bbolt.Bucket, id string) (*storage.LocalDocument, error) {
	doc, err := getLocal(bucket, id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return &storage.LocalDocument{Fork: api.Document{ID: id}}, nil
	}
	return doc, err
}

func putLocal(bucket *bbolt.Bucket, doc *storage.LocalDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.Fork.ID, err)
	}
	if err := bucket.Put([]byte(doc.Fork.ID), data); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.Fork.ID, err)
	}
	return nil
}

// GetDocument retrieves one local document
func (s *Storage) GetDocument(ctx context.Context, entity, id string) (*storage.LocalDocument, error) {
	var doc *storage.LocalDocument

	err := s.view(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil {
			return err
		}
		doc, err = getLocal(bucket, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// scan обходит документы сущности в порядке id, пока fn возвращает true
func (s *Storage) scan(entity string, fn func(doc *storage.LocalDocument) bool) error {
	return s.view(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil || bucket == nil {
			return err
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			doc := &storage.LocalDocument{}
			if err := json.Unmarshal(v, doc); err != nil {
				return fmt.Errorf("failed to unmarshal document %s: %w", k, err)
			}
			if !fn(doc) {
				return nil
			}
		}
		return nil
	})
}

// ListDocuments returns all documents of the entity, tombstones included
func (s *Storage) ListDocuments(ctx context.Context, entity string) ([]*storage.LocalDocument, error) {
	var docs []*storage.LocalDocument

	err := s.scan(entity, func(doc *storage.LocalDocument) bool {
		docs = append(docs, doc)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}

	return docs, nil
}

// DirtyDocuments returns up to limit documents with unpushed local edits
func (s *Storage) DirtyDocuments(ctx context.Context, entity string, limit int) ([]*storage.LocalDocument, error) {
	var docs []*storage.LocalDocument

	err := s.scan(entity, func(doc *storage.LocalDocument) bool {
		if doc.Dirty {
			docs = append(docs, doc)
		}
		return limit <= 0 || len(docs) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty %s: %w", entity, err)
	}

	return docs, nil
}

// CountDirty returns the number of documents waiting for push
func (s *Storage) CountDirty(ctx context.Context, entity string) (int, error) {
	count := 0

	err := s.scan(entity, func(doc *storage.LocalDocument) bool {
		if doc.Dirty {
			count++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count dirty %s: %w", entity, err)
	}

	return count, nil
}

// WriteLocal stores an application write
func (s *Storage) WriteLocal(ctx context.Context, entity string, doc api.Document) (*storage.LocalDocument, error) {
	var result *storage.LocalDocument

	err := s.update(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil {
			return err
		}

		local, err := getOrNew(bucket, doc.ID)
		if err != nil {
			return err
		}
		local.WriteLocal(doc)
		result = local

		return putLocal(bucket, local)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write %s/%s: %w", entity, doc.ID, err)
	}

	return result, nil
}

// ApplyRemote stores server states of one pull page or live event
func (s *Storage) ApplyRemote(ctx context.Context, entity string, docs []api.Document) (int, error) {
	changed := 0

	err := s.update(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil {
			return err
		}

		for _, doc := range docs {
			local, err := getOrNew(bucket, doc.ID)
			if err != nil {
				return err
			}
			if !local.ApplyRemote(doc) {
				continue
			}
			if err := putLocal(bucket, local); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply remote %s: %w", entity, err)
	}

	return changed, nil
}

// MarkPushed clears Dirty of accepted rows
func (s *Storage) MarkPushed(ctx context.Context, entity string, revisions map[string]uint64) error {
	err := s.update(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil {
			return err
		}

		for id, revision := range revisions {
			local, err := getLocal(bucket, id)
			if err != nil {
				return err
			}
			local.MarkPushed(revision)
			if err := putLocal(bucket, local); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark pushed %s: %w", entity, err)
	}
	return nil
}

// ApplyConflicts stores conflict resolutions
func (s *Storage) ApplyConflicts(ctx context.Context, entity string, resolutions []storage.Resolution) error {
	err := s.update(func(tx *bbolt.Tx) error {
		bucket, err := entityBucket(tx, entity)
		if err != nil {
			return err
		}

		for _, r := range resolutions {
			local, err := getOrNew(bucket, r.Server.ID)
			if err != nil {
				return err
			}
			local.ApplyConflict(r)
			if err := putLocal(bucket, local); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply conflicts %s: %w", entity, err)
	}
	return nil
}
