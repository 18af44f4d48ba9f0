// Package domain defines the entities of the offline sync core.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status describes where a queued work item sits in its sync lifecycle.
type Status string

const (
	// StatusPending marks an item captured locally and not yet attempted.
	StatusPending Status = "pending"
	// StatusSyncing marks an item with a sync attempt in flight.
	StatusSyncing Status = "syncing"
	// StatusSynced marks an item fully reconciled with the server. Terminal.
	StatusSynced Status = "synced"
	// StatusFailed marks a retryable failure.
	StatusFailed Status = "failed"
	// StatusNeedsAttention marks an item withdrawn from automatic retry,
	// either after the attempt cap or a permanent server rejection.
	StatusNeedsAttention Status = "needs_attention"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed, StatusNeedsAttention:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusSynced || next == StatusFailed || next == StatusNeedsAttention
	case StatusFailed:
		return next == StatusSyncing || next == StatusNeedsAttention
	case StatusNeedsAttention:
		return next == StatusPending
	case StatusSynced:
		return false
	}
	return false
}

// TicketPayload is the snapshot of a ticket-creation request as it existed
// at capture time. It is immutable once queued.
type TicketPayload struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	DeviceKind    string `json:"deviceKind"`
	DeviceBrand   string `json:"deviceBrand,omitempty"`
	DeviceModel   string `json:"deviceModel,omitempty"`
	SerialNumber  string `json:"serialNumber,omitempty"`
	Issue         string `json:"issue"`
	QuoteCents    int64  `json:"quoteCents"`
	DepositCents  int64  `json:"depositCents,omitempty"`
	Rush          bool   `json:"rush"`
	Notes         string `json:"notes,omitempty"`
}

// Validate checks the fields required before a payload may be queued.
func (p TicketPayload) Validate() error {
	if strings.TrimSpace(p.CustomerName) == "" {
		return fmt.Errorf("customer name is required")
	}
	if strings.TrimSpace(p.DeviceKind) == "" {
		return fmt.Errorf("device kind is required")
	}
	if strings.TrimSpace(p.Issue) == "" {
		return fmt.Errorf("issue description is required")
	}
	if p.QuoteCents < 0 {
		return fmt.Errorf("quote must not be negative")
	}
	if p.DepositCents < 0 {
		return fmt.Errorf("deposit must not be negative")
	}
	return nil
}

// Photo is a snapshot of one piece of photo evidence. Bytes are captured at
// enqueue time; transient file handles do not survive a process restart.
type Photo struct {
	ID            string
	Name          string
	MimeType      string
	SizeBytes     int64
	Bytes         []byte
	ServerPhotoID string
}

// Uploaded reports whether this photo already reached the server.
func (p Photo) Uploaded() bool {
	return strings.TrimSpace(p.ServerPhotoID) != ""
}

// WorkItem is a repair-ticket creation captured while offline, waiting for
// reconciliation with the server.
type WorkItem struct {
	ClientID           string
	Payload            TicketPayload
	Photos             []Photo
	EmployeeID         string
	EmployeeName       string
	QueuedAt           time.Time
	Status             Status
	SyncAttempts       int
	NextAttemptAt      time.Time
	ErrorMessage       string
	ServerTicketID     string
	ServerFriendlyCode string
	UpdatedAt          time.Time
}

// TicketCreated reports whether the server already assigned this item a
// ticket, even if photo uploads are still outstanding.
func (w WorkItem) TicketCreated() bool {
	return strings.TrimSpace(w.ServerTicketID) != ""
}

// RemainingPhotos returns the photos not yet uploaded, in captured order.
func (w WorkItem) RemainingPhotos() []Photo {
	remaining := make([]Photo, 0, len(w.Photos))
	for _, photo := range w.Photos {
		if !photo.Uploaded() {
			remaining = append(remaining, photo)
		}
	}
	return remaining
}

// Validate checks the invariants a work item must hold before persisting.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.ClientID) == "" {
		return fmt.Errorf("client id is required")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unknown status %q", w.Status)
	}
	if strings.TrimSpace(w.EmployeeID) == "" {
		return fmt.Errorf("employee id is required")
	}
	if w.QueuedAt.IsZero() {
		return fmt.Errorf("queued at is required")
	}
	if w.SyncAttempts < 0 {
		return fmt.Errorf("sync attempts must not be negative")
	}
	if err := w.Payload.Validate(); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	for i, photo := range w.Photos {
		if strings.TrimSpace(photo.ID) == "" {
			return fmt.Errorf("photo %d: id is required", i)
		}
		if len(photo.Bytes) == 0 && !photo.Uploaded() {
			return fmt.Errorf("photo %d: bytes are required", i)
		}
	}
	return nil
}

// Employee is a staff identity attributed to captured work.
type Employee struct {
	ID   string
	Name string
	Role string
}

// CachedCredential is an offline-verifiable staff identity. It is created
// only after a successful online verification and becomes inert at expiry.
type CachedCredential struct {
	EmployeeID string
	Name       string
	Role       string
	PINHash    []byte
	CachedAt   time.Time
	ExpiresAt  time.Time
}

// ExpiredAt reports whether the credential is unusable at the given instant.
// The window is half-open: a credential is usable strictly before ExpiresAt.
func (c CachedCredential) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Employee returns the identity this credential vouches for.
func (c CachedCredential) Employee() Employee {
	return Employee{ID: c.EmployeeID, Name: c.Name, Role: c.Role}
}
