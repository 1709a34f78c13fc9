package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/internal/server/storage"
	"github.com/iudanet/decksync/pkg/api"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// feedQuery builds the change-feed projection of one entity.
// The projection always exposes effective_at; for link-widened entities it is
// max(own updated_at, newest live link pointing at the row).
func feedQuery(entity models.Entity) (string, []any) {
	if entity.LinkedBy == nil {
		return `
			SELECT id, data, updated_at, deleted, created_at, updated_at AS effective_at
			FROM documents
			WHERE user_id = ? AND entity = ?
		`, nil
	}

	// Путь подставляется литералом, чтобы SQLite мог использовать индекс по выражению
	path := "$." + strings.ReplaceAll(entity.LinkedBy.Field, "'", "''")

	return fmt.Sprintf(`
			SELECT d.id, d.data, d.updated_at, d.deleted, d.created_at,
			       MAX(d.updated_at, COALESCE((
			           SELECT MAX(l.updated_at)
			           FROM documents l
			           WHERE l.user_id = d.user_id
			             AND l.entity = ?
			             AND l.deleted = 0
			             AND json_extract(l.data, '%s') = d.id
			       ), 0)) AS effective_at
			FROM documents d
			WHERE d.user_id = ? AND d.entity = ?
		`, path), []any{entity.LinkedBy.Entity}
}

// PullDocuments returns up to limit documents positioned strictly after cp
func (s *Storage) PullDocuments(ctx context.Context, userID string, entity models.Entity, cp *api.Checkpoint, limit int) ([]*models.Document, error) {
	inner, args := feedQuery(entity)
	args = append(args, userID, entity.Name)

	query := `SELECT id, data, updated_at, deleted, created_at, effective_at FROM (` + inner + `) AS feed`
	if cp != nil {
		// (effective_at, id) > (cp.UpdatedAt, cp.ID)
		query += ` WHERE effective_at > ? OR (effective_at = ? AND id > ?)`
		args = append(args, cp.UpdatedAt, cp.UpdatedAt, cp.ID)
	}
	query += ` ORDER BY effective_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents since checkpoint: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanFeed(rows, userID, entity.Name)
}

// GetDocuments returns the listed documents with their effective timestamps
func (s *Storage) GetDocuments(ctx context.Context, userID string, entity models.Entity, ids []string) ([]*models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	inner, args := feedQuery(entity)
	args = append(args, userID, entity.Name)

	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := `SELECT id, data, updated_at, deleted, created_at, effective_at FROM (` + inner + `) AS feed` +
		` WHERE id IN (` + strings.Join(placeholders, ", ") + `)` +
		` ORDER BY effective_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by id: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanFeed(rows, userID, entity.Name)
}

// ApplyPush checks and writes a push batch in one transaction
func (s *Storage) ApplyPush(ctx context.Context, userID, entity string, rows []api.PushRow, stamp int64) (*storage.PushResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result := &storage.PushResult{}

	for _, row := range rows {
		newState := row.NewDocumentState
		assumed := row.AssumedMasterState

		current, err := getDocument(ctx, tx, userID, entity, newState.ID)
		if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
			return nil, fmt.Errorf("failed to check existing document: %w", err)
		}

		conflict := func(master api.Document) {
			result.Conflicts = append(result.Conflicts, models.ConflictRecord{
				NewDocumentState:   newState,
				AssumedMasterState: assumed,
				CurrentMasterState: master,
			})
		}

		switch {
		case current == nil && assumed == nil:
			doc := models.FromAPI(userID, entity, newState)
			doc.UpdatedAt = stamp
			doc.CreatedAt = time.UnixMilli(stamp)
			if err := insertDocument(ctx, tx, doc); err != nil {
				return nil, err
			}
			result.Changed = append(result.Changed, doc)

		case current == nil:
			// Строка удалена на сервере после того, как клиент ее видел:
			// отдаем синтетический tombstone, чтобы клиент убрал локальную копию
			conflict(api.Document{ID: newState.ID, UpdatedAt: assumed.UpdatedAt, Deleted: true})

		case current.Deleted:
			// Tombstone окончательный: запись поверх него возвращает его же
			conflict(current.ToAPI())

		case assumed == nil || assumed.UpdatedAt != current.UpdatedAt:
			conflict(current.ToAPI())

		default:
			doc := models.FromAPI(userID, entity, newState)
			doc.UpdatedAt = stamp
			doc.CreatedAt = current.CreatedAt
			applied, err := updateDocument(ctx, tx, doc, current.UpdatedAt)
			if err != nil {
				return nil, err
			}
			if !applied {
				conflict(current.ToAPI())
				continue
			}
			result.Changed = append(result.Changed, doc)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit push: %w", err)
	}

	return result, nil
}

// TombstoneDocuments soft-deletes the listed live documents
func (s *Storage) TombstoneDocuments(ctx context.Context, userID, entity string, ids []string, stamp int64) ([]*models.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE documents
		SET deleted = 1, updated_at = ?
		WHERE user_id = ? AND entity = ? AND id = ? AND deleted = 0
	`

	var deleted []*models.Document
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, query, stamp, userID, entity, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete document: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			continue
		}

		doc, err := getDocument(ctx, tx, userID, entity, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read tombstone: %w", err)
		}
		deleted = append(deleted, doc)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk delete: %w", err)
	}

	return deleted, nil
}

// MaxUpdatedAt returns the newest stamp in the store
func (s *Storage) MaxUpdatedAt(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM documents`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to get max updated_at: %w", err)
	}
	return ts, nil
}

// getDocument reads one row including tombstones
func getDocument(ctx context.Context, q queryer, userID, entity, id string) (*models.Document, error) {
	query := `
		SELECT data, updated_at, deleted, created_at
		FROM documents
		WHERE user_id = ? AND entity = ? AND id = ?
	`

	doc := &models.Document{UserID: userID, Entity: entity, ID: id}
	var data string
	var deleted int
	var createdAt int64

	err := q.QueryRowContext(ctx, query, userID, entity, id).Scan(&data, &doc.UpdatedAt, &deleted, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}

	doc.Fields = fields
	doc.Deleted = intToBool(deleted)
	doc.CreatedAt = time.UnixMilli(createdAt)

	return doc, nil
}

func insertDocument(ctx context.Context, q queryer, doc *models.Document) error {
	data, err := encodeFields(doc.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (user_id, entity, id, data, updated_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, query,
		doc.UserID,
		doc.Entity,
		doc.ID,
		data,
		doc.UpdatedAt,
		boolToInt(doc.Deleted),
		doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	return nil
}

// updateDocument overwrites a row only if its updated_at still equals expectedUpdatedAt
func updateDocument(ctx context.Context, q queryer, doc *models.Document, expectedUpdatedAt int64) (bool, error) {
	data, err := encodeFields(doc.Fields)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE documents
		SET data = ?, updated_at = ?, deleted = ?
		WHERE user_id = ? AND entity = ? AND id = ? AND updated_at = ?
	`

	res, err := q.ExecContext(ctx, query,
		data,
		doc.UpdatedAt,
		boolToInt(doc.Deleted),
		doc.UserID,
		doc.Entity,
		doc.ID,
		expectedUpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n == 1, nil
}

// scanFeed is a helper function to scan change-feed rows
func scanFeed(rows *sql.Rows, userID, entity string) ([]*models.Document, error) {
	docs := make([]*models.Document, 0)

	for rows.Next() {
		doc := &models.Document{UserID: userID, Entity: entity}
		var data string
		var deleted int
		var createdAt int64

		if err := rows.Scan(&doc.ID, &data, &doc.UpdatedAt, &deleted, &createdAt, &doc.EffectiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		fields, err := decodeFields(data)
		if err != nil {
			return nil, err
		}

		doc.Fields = fields
		doc.Deleted = intToBool(deleted)
		doc.CreatedAt = time.UnixMilli(createdAt)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return docs, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode document fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode document fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
