package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/storage"
)

const workItemColumns = `
	client_id,
	payload_json,
	employee_id,
	employee_name,
	queued_at,
	status,
	sync_attempts,
	next_attempt_at,
	error_message,
	server_ticket_id,
	server_friendly_code,
	updated_at
`

// PutWorkItem persists a work item and its photo snapshots atomically.
//
// Photo rows are insert-only: the photo list is immutable once queued, and
// upload bookkeeping happens through RecordPhotoUploaded so a re-put never
// clobbers recorded server photo ids.
func (s *Store) PutWorkItem(ctx context.Context, item domain.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = item.QueuedAt
	}

	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start put transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO work_items (
	client_id,
	payload_json,
	employee_id,
	employee_name,
	queued_at,
	status,
	sync_attempts,
	next_attempt_at,
	error_message,
	server_ticket_id,
	server_friendly_code,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
	status = excluded.status,
	sync_attempts = excluded.sync_attempts,
	next_attempt_at = excluded.next_attempt_at,
	error_message = excluded.error_message,
	server_ticket_id = excluded.server_ticket_id,
	server_friendly_code = excluded.server_friendly_code,
	updated_at = excluded.updated_at
`,
		item.ClientID,
		string(payloadJSON),
		item.EmployeeID,
		item.EmployeeName,
		toMillis(item.QueuedAt),
		string(item.Status),
		item.SyncAttempts,
		toMillis(item.NextAttemptAt),
		item.ErrorMessage,
		item.ServerTicketID,
		item.ServerFriendlyCode,
		toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put work item: %w", err)
	}

	for position, photo := range item.Photos {
		_, err = tx.ExecContext(ctx, `
INSERT INTO work_item_photos (
	photo_id,
	client_id,
	position,
	name,
	mime_type,
	size_bytes,
	content,
	server_photo_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(photo_id) DO NOTHING
`,
			photo.ID,
			item.ClientID,
			position,
			photo.Name,
			photo.MimeType,
			photo.SizeBytes,
			photo.Bytes,
			photo.ServerPhotoID,
		)
		if err != nil {
			return fmt.Errorf("put work item photo %s: %w", photo.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put transaction: %w", err)
	}
	return nil
}

// GetWorkItem returns one work item and its photos by client id.
func (s *Store) GetWorkItem(ctx context.Context, clientID string) (domain.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkItem{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.WorkItem{}, fmt.Errorf("storage is not configured")
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.WorkItem{}, fmt.Errorf("client id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+workItemColumns+`
FROM work_items
WHERE client_id = ?
`, clientID)
	item, err := scanWorkItem(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, storage.ErrNotFound
		}
		return domain.WorkItem{}, fmt.Errorf("get work item: %w", err)
	}

	photos, err := s.loadPhotos(ctx, clientID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Photos = photos
	return item, nil
}

// ListWorkItems returns every queued item ordered by capture time.
func (s *Store) ListWorkItems(ctx context.Context) ([]domain.WorkItem, error) {
	return s.listWorkItems(ctx, `
SELECT `+workItemColumns+`
FROM work_items
ORDER BY queued_at ASC, client_id ASC
`)
}

// ListWorkItemsByStatus returns items in any of the given statuses ordered
// by capture time.
func (s *Store) ListWorkItemsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.WorkItem, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	return s.listWorkItems(ctx, `
SELECT `+workItemColumns+`
FROM work_items
WHERE status IN (`+strings.Join(placeholders, ", ")+`)
ORDER BY queued_at ASC, client_id ASC
`, args...)
}

func (s *Store) listWorkItems(ctx context.Context, query string, args ...any) ([]domain.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	items := []domain.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}

	for i := range items {
		photos, err := s.loadPhotos(ctx, items[i].ClientID)
		if err != nil {
			return nil, err
		}
		items[i].Photos = photos
	}
	return items, nil
}

// DeleteWorkItem removes one item; its photo rows cascade.
func (s *Store) DeleteWorkItem(ctx context.Context, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("client id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM work_items WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("delete work item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete work item rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteWorkItemsByStatus removes every item in the given status.
func (s *Store) DeleteWorkItemsByStatus(ctx context.Context, status domain.Status) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if !status.Valid() {
		return 0, fmt.Errorf("unknown status %q", status)
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM work_items WHERE status = ?`, string(status))
	if err != nil {
		return 0, fmt.Errorf("delete work items by status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete work items rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// TransitionWorkItem applies a guarded status transition.
//
// The WHERE clause pins the expected current status, so a concurrent writer
// losing the race surfaces as ErrNotFound instead of a silent double apply.
func (s *Store) TransitionWorkItem(ctx context.Context, clientID string, from, to domain.Status, update storage.TransitionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("client id is required")
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	now := time.Now().UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), toMillis(now)}

	if update.IncrementAttempts {
		sets = append(sets, "sync_attempts = sync_attempts + 1")
	}
	if update.ResetAttempts {
		sets = append(sets, "sync_attempts = 0")
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, strings.TrimSpace(*update.ErrorMessage))
	}
	if update.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, toMillis(*update.NextAttemptAt))
	}
	if update.ServerTicketID != nil {
		sets = append(sets, "server_ticket_id = ?")
		args = append(args, strings.TrimSpace(*update.ServerTicketID))
	}
	if update.FriendlyCode != nil {
		sets = append(sets, "server_friendly_code = ?")
		args = append(args, strings.TrimSpace(*update.FriendlyCode))
	}

	args = append(args, clientID, string(from))
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE work_items
SET `+strings.Join(sets, ",\n\t")+`
WHERE client_id = ?
AND status = ?
`, args...)
	if err != nil {
		return fmt.Errorf("transition work item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordServerTicket persists server identifiers the moment they are known,
// regardless of status, so a partial failure never loses the created ticket.
func (s *Store) RecordServerTicket(ctx context.Context, clientID, ticketID, friendlyCode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	clientID = strings.TrimSpace(clientID)
	ticketID = strings.TrimSpace(ticketID)
	if clientID == "" {
		return fmt.Errorf("client id is required")
	}
	if ticketID == "" {
		return fmt.Errorf("ticket id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE work_items
SET server_ticket_id = ?, server_friendly_code = ?, updated_at = ?
WHERE client_id = ?
`, ticketID, strings.TrimSpace(friendlyCode), toMillis(time.Now().UTC()), clientID)
	if err != nil {
		return fmt.Errorf("record server ticket: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record server ticket rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordPhotoUploaded marks one photo as delivered so retries skip it.
func (s *Store) RecordPhotoUploaded(ctx context.Context, clientID, photoID, serverPhotoID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	clientID = strings.TrimSpace(clientID)
	photoID = strings.TrimSpace(photoID)
	serverPhotoID = strings.TrimSpace(serverPhotoID)
	if clientID == "" || photoID == "" {
		return fmt.Errorf("client id and photo id are required")
	}
	if serverPhotoID == "" {
		return fmt.Errorf("server photo id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE work_item_photos
SET server_photo_id = ?
WHERE photo_id = ?
AND client_id = ?
`, serverPhotoID, photoID, clientID)
	if err != nil {
		return fmt.Errorf("record photo uploaded: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record photo uploaded rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecoverInterrupted demotes items stranded in syncing by a crashed run.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE work_items
SET status = ?, error_message = ?, updated_at = ?
WHERE status = ?
`,
		string(domain.StatusFailed),
		"sync interrupted by restart",
		toMillis(time.Now().UTC()),
		string(domain.StatusSyncing),
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted items: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

func (s *Store) loadPhotos(ctx context.Context, clientID string) ([]domain.Photo, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT photo_id, name, mime_type, size_bytes, content, server_photo_id
FROM work_item_photos
WHERE client_id = ?
ORDER BY position ASC
`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos := []domain.Photo{}
	for rows.Next() {
		var photo domain.Photo
		if err := rows.Scan(
			&photo.ID,
			&photo.Name,
			&photo.MimeType,
			&photo.SizeBytes,
			&photo.Bytes,
			&photo.ServerPhotoID,
		); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

type workItemScanner func(dest ...any) error

func scanWorkItem(scan workItemScanner) (domain.WorkItem, error) {
	var item domain.WorkItem
	var payloadJSON string
	var status string
	var queuedAt int64
	var nextAttemptAt int64
	var updatedAt int64
	if err := scan(
		&item.ClientID,
		&payloadJSON,
		&item.EmployeeID,
		&item.EmployeeName,
		&queuedAt,
		&status,
		&item.SyncAttempts,
		&nextAttemptAt,
		&item.ErrorMessage,
		&item.ServerTicketID,
		&item.ServerFriendlyCode,
		&updatedAt,
	); err != nil {
		return domain.WorkItem{}, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
		return domain.WorkItem{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	item.Status = domain.Status(status)
	item.QueuedAt = fromMillis(queuedAt)
	item.NextAttemptAt = fromMillis(nextAttemptAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}
