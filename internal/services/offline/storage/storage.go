// Package storage defines the local durable store contracts for the offline
// sync core. Two independent collections back the core: queued work items
// and cached credentials.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/repairhub/intake/internal/services/offline/domain"
)

// ErrNotFound indicates a requested record is missing, or a guarded status
// transition did not match the record's current state.
var ErrNotFound = errors.New("record not found")

// WorkItemStore persists queued work items and their photo snapshots.
type WorkItemStore interface {
	// PutWorkItem durably persists an item. It returns only after the
	// write is committed.
	PutWorkItem(ctx context.Context, item domain.WorkItem) error
	GetWorkItem(ctx context.Context, clientID string) (domain.WorkItem, error)
	// ListWorkItems returns every item ordered by queued_at ascending.
	ListWorkItems(ctx context.Context) ([]domain.WorkItem, error)
	// ListWorkItemsByStatus returns items matching any of the statuses,
	// ordered by queued_at ascending.
	ListWorkItemsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.WorkItem, error)
	DeleteWorkItem(ctx context.Context, clientID string) error
	// DeleteWorkItemsByStatus removes all items in the given status and
	// reports how many were deleted.
	DeleteWorkItemsByStatus(ctx context.Context, status domain.Status) (int, error)

	// TransitionWorkItem moves an item from one status to another with a
	// guarded update; it returns ErrNotFound when the item is not in the
	// expected status. The update callback mutates bookkeeping fields.
	TransitionWorkItem(ctx context.Context, clientID string, from, to domain.Status, update TransitionUpdate) error

	// RecordServerTicket persists server identifiers as soon as they are
	// known, independent of the item's status.
	RecordServerTicket(ctx context.Context, clientID, ticketID, friendlyCode string) error
	// RecordPhotoUploaded marks one photo as uploaded so a later retry
	// skips it.
	RecordPhotoUploaded(ctx context.Context, clientID, photoID, serverPhotoID string) error

	// RecoverInterrupted demotes items left in the syncing status by a
	// crashed run back to failed, and reports how many were demoted.
	RecoverInterrupted(ctx context.Context) (int, error)
}

// TransitionUpdate carries the field changes applied with a status transition.
type TransitionUpdate struct {
	IncrementAttempts bool
	ResetAttempts     bool
	ErrorMessage      *string
	NextAttemptAt     *time.Time
	ServerTicketID    *string
	FriendlyCode      *string
}

// CredentialStore persists cached offline credentials keyed by employee id.
type CredentialStore interface {
	PutCredential(ctx context.Context, cred domain.CachedCredential) error
	ListCredentials(ctx context.Context) ([]domain.CachedCredential, error)
	DeleteCredential(ctx context.Context, employeeID string) error
	// DeleteExpiredCredentials prunes entries whose expiry has passed at
	// the given instant and reports how many were removed.
	DeleteExpiredCredentials(ctx context.Context, now time.Time) (int, error)
}
