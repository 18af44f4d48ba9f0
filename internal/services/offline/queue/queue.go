// Package queue manages the durable queue of offline-captured work items.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/repairhub/intake/internal/platform/id"
	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/storage"
)

// PhotoFile is photo evidence handed in at capture time. Bytes must already
// be fully read: the queue snapshots content, not file handles.
type PhotoFile struct {
	Name     string
	MimeType string
	Bytes    []byte
}

// Manager owns work item creation, status transitions, and retry
// bookkeeping. All mutation of queued items goes through it.
type Manager struct {
	store storage.WorkItemStore
	clock func() time.Time
	newID func() (string, error)
}

// NewManager creates a queue manager over the given store.
func NewManager(store storage.WorkItemStore, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store: store,
		clock: clock,
		newID: id.NewID,
	}
}

// Enqueue captures a ticket-creation request as a durable work item.
//
// Each photo is snapshotted to raw bytes and the item receives a client id
// that stays with it for its whole life, including as the idempotency key
// for server-side ticket creation.
func (m *Manager) Enqueue(ctx context.Context, payload domain.TicketPayload, photos []PhotoFile, employeeID, employeeName string) (domain.WorkItem, error) {
	if m == nil || m.store == nil {
		return domain.WorkItem{}, fmt.Errorf("queue manager is not configured")
	}
	if err := payload.Validate(); err != nil {
		return domain.WorkItem{}, fmt.Errorf("payload: %w", err)
	}
	if strings.TrimSpace(employeeID) == "" {
		return domain.WorkItem{}, fmt.Errorf("employee id is required")
	}

	clientID, err := m.newID()
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("assign client id: %w", err)
	}

	now := m.clock().UTC()
	item := domain.WorkItem{
		ClientID:      clientID,
		Payload:       payload,
		EmployeeID:    strings.TrimSpace(employeeID),
		EmployeeName:  strings.TrimSpace(employeeName),
		QueuedAt:      now,
		Status:        domain.StatusPending,
		NextAttemptAt: now,
		UpdatedAt:     now,
	}

	for _, photo := range photos {
		if len(photo.Bytes) == 0 {
			return domain.WorkItem{}, fmt.Errorf("photo %q has no content", photo.Name)
		}
		photoID, err := m.newID()
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("assign photo id: %w", err)
		}
		snapshot := make([]byte, len(photo.Bytes))
		copy(snapshot, photo.Bytes)
		item.Photos = append(item.Photos, domain.Photo{
			ID:        photoID,
			Name:      photo.Name,
			MimeType:  photo.MimeType,
			SizeBytes: int64(len(snapshot)),
			Bytes:     snapshot,
		})
	}

	if err := m.store.PutWorkItem(ctx, item); err != nil {
		return domain.WorkItem{}, fmt.Errorf("persist work item: %w", err)
	}
	return item, nil
}

// PendingOrFailed returns items eligible for a sync attempt in capture
// order. Items demoted to needs_attention are excluded until requeued.
func (m *Manager) PendingOrFailed(ctx context.Context) ([]domain.WorkItem, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("queue manager is not configured")
	}
	return m.store.ListWorkItemsByStatus(ctx, domain.StatusPending, domain.StatusFailed)
}

// HasPendingWork reports whether any item is waiting for a sync attempt.
func (m *Manager) HasPendingWork(ctx context.Context) (bool, error) {
	items, err := m.PendingOrFailed(ctx)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// Get returns one work item by client id.
func (m *Manager) Get(ctx context.Context, clientID string) (domain.WorkItem, error) {
	if m == nil || m.store == nil {
		return domain.WorkItem{}, fmt.Errorf("queue manager is not configured")
	}
	return m.store.GetWorkItem(ctx, clientID)
}

// MarkSyncing moves an item into flight and increments its attempt counter.
// It is persisted before any network call, so a crash mid-sync leaves the
// item visibly in flight instead of silently lost.
func (m *Manager) MarkSyncing(ctx context.Context, clientID string) (domain.WorkItem, error) {
	if m == nil || m.store == nil {
		return domain.WorkItem{}, fmt.Errorf("queue manager is not configured")
	}

	item, err := m.store.GetWorkItem(ctx, clientID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if item.Status != domain.StatusPending && item.Status != domain.StatusFailed {
		return domain.WorkItem{}, fmt.Errorf("item %s is not eligible for sync in status %q", clientID, item.Status)
	}

	if err := m.store.TransitionWorkItem(ctx, clientID, item.Status, domain.StatusSyncing, storage.TransitionUpdate{
		IncrementAttempts: true,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return m.store.GetWorkItem(ctx, clientID)
}

// MarkSynced records terminal success with the server-assigned identifiers.
func (m *Manager) MarkSynced(ctx context.Context, clientID, serverTicketID, serverFriendlyCode string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}
	clearError := ""
	return m.store.TransitionWorkItem(ctx, clientID, domain.StatusSyncing, domain.StatusSynced, storage.TransitionUpdate{
		ErrorMessage:   &clearError,
		ServerTicketID: &serverTicketID,
		FriendlyCode:   &serverFriendlyCode,
	})
}

// MarkFailed records a retryable failure and schedules the next attempt.
func (m *Manager) MarkFailed(ctx context.Context, clientID, message string, nextAttemptAt time.Time) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}
	if nextAttemptAt.IsZero() {
		nextAttemptAt = m.clock().UTC()
	}
	return m.store.TransitionWorkItem(ctx, clientID, domain.StatusSyncing, domain.StatusFailed, storage.TransitionUpdate{
		ErrorMessage:  &message,
		NextAttemptAt: &nextAttemptAt,
	})
}

// MarkNeedsAttention withdraws an item from automatic retry. Used when the
// attempt cap is reached or the server rejected the payload permanently.
func (m *Manager) MarkNeedsAttention(ctx context.Context, clientID, message string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}

	item, err := m.store.GetWorkItem(ctx, clientID)
	if err != nil {
		return err
	}
	if item.Status != domain.StatusSyncing && item.Status != domain.StatusFailed {
		return fmt.Errorf("item %s cannot need attention from status %q", clientID, item.Status)
	}
	return m.store.TransitionWorkItem(ctx, clientID, item.Status, domain.StatusNeedsAttention, storage.TransitionUpdate{
		ErrorMessage: &message,
	})
}

// Requeue returns a needs_attention item to the retry pool with a fresh
// attempt budget. This is a deliberate operator action.
func (m *Manager) Requeue(ctx context.Context, clientID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}
	clearError := ""
	now := m.clock().UTC()
	return m.store.TransitionWorkItem(ctx, clientID, domain.StatusNeedsAttention, domain.StatusPending, storage.TransitionUpdate{
		ResetAttempts: true,
		ErrorMessage:  &clearError,
		NextAttemptAt: &now,
	})
}

// RecordServerTicket persists server identifiers as soon as creation
// succeeds, so a later partial failure resumes at photo upload instead of
// creating a duplicate ticket.
func (m *Manager) RecordServerTicket(ctx context.Context, clientID, ticketID, friendlyCode string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}
	return m.store.RecordServerTicket(ctx, clientID, ticketID, friendlyCode)
}

// RecordPhotoUploaded marks one photo of an item as delivered.
func (m *Manager) RecordPhotoUploaded(ctx context.Context, clientID, photoID, serverPhotoID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("queue manager is not configured")
	}
	return m.store.RecordPhotoUploaded(ctx, clientID, photoID, serverPhotoID)
}

// ClearSynced deletes all synced items. The runtime calls this after a
// grace delay rather than immediately on success, so the UI can show a
// confirmation from the still-present record.
func (m *Manager) ClearSynced(ctx context.Context) (int, error) {
	if m == nil || m.store == nil {
		return 0, fmt.Errorf("queue manager is not configured")
	}
	return m.store.DeleteWorkItemsByStatus(ctx, domain.StatusSynced)
}

// Recover reconciles items stranded in flight by a previous process.
// Run once at startup before the first drain.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m == nil || m.store == nil {
		return 0, fmt.Errorf("queue manager is not configured")
	}
	return m.store.RecoverInterrupted(ctx)
}
