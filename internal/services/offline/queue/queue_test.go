package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/storage"
	"github.com/repairhub/intake/internal/services/offline/storage/sqlite"
)

func newTestManager(t *testing.T, clock func() time.Time) *Manager {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "offline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return NewManager(store, clock)
}

func testPayload() domain.TicketPayload {
	return domain.TicketPayload{
		CustomerName:  "Dana Whitfield",
		CustomerPhone: "555-0142",
		DeviceKind:    "phone",
		DeviceModel:   "Pixel 9",
		Issue:         "shattered screen",
		QuoteCents:    9900,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestEnqueueAssignsIdentityAndSnapshotsPhotos(t *testing.T) {
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	manager := newTestManager(t, fixedClock(now))

	source := []byte{0xff, 0xd8, 0xff, 0xe0}
	item, err := manager.Enqueue(context.Background(), testPayload(), []PhotoFile{
		{Name: "damage.jpg", MimeType: "image/jpeg", Bytes: source},
	}, "emp-1", "Sam Ortiz")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if len(item.ClientID) != 26 {
		t.Fatalf("client id length = %d, want 26", len(item.ClientID))
	}
	if item.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", item.Status)
	}
	if !item.QueuedAt.Equal(now) {
		t.Fatalf("queued at = %v, want %v", item.QueuedAt, now)
	}
	if len(item.Photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(item.Photos))
	}
	if item.Photos[0].SizeBytes != int64(len(source)) {
		t.Fatalf("size = %d, want %d", item.Photos[0].SizeBytes, len(source))
	}

	// The snapshot must be independent of the caller's buffer.
	source[0] = 0x00
	stored, err := manager.Get(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Photos[0].Bytes[0] != 0xff {
		t.Fatal("expected photo bytes to be snapshotted at enqueue time")
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	manager := newTestManager(t, nil)

	if _, err := manager.Enqueue(context.Background(), domain.TicketPayload{}, nil, "emp-1", "Sam"); err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if _, err := manager.Enqueue(context.Background(), testPayload(), nil, "  ", "Sam"); err == nil {
		t.Fatal("expected error for missing employee")
	}
	if _, err := manager.Enqueue(context.Background(), testPayload(), []PhotoFile{{Name: "empty.jpg"}}, "emp-1", "Sam"); err == nil {
		t.Fatal("expected error for empty photo")
	}
}

func TestPendingOrFailedExcludesOtherStatuses(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	manager := newTestManager(t, fixedClock(now))

	first, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	second, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	// Drive the first item to synced.
	if _, err := manager.MarkSyncing(context.Background(), first.ClientID); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := manager.MarkSynced(context.Background(), first.ClientID, "tkt-1", "RB-001"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	eligible, err := manager.PendingOrFailed(context.Background())
	if err != nil {
		t.Fatalf("pending or failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ClientID != second.ClientID {
		t.Fatalf("eligible = %v", eligible)
	}

	has, err := manager.HasPendingWork(context.Background())
	if err != nil {
		t.Fatalf("has pending work: %v", err)
	}
	if !has {
		t.Fatal("expected pending work")
	}
}

func TestMarkSyncingIncrementsAttempts(t *testing.T) {
	manager := newTestManager(t, nil)

	item, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	inFlight, err := manager.MarkSyncing(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if inFlight.Status != domain.StatusSyncing {
		t.Fatalf("status = %q, want syncing", inFlight.Status)
	}
	if inFlight.SyncAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", inFlight.SyncAttempts)
	}

	// An in-flight item is not eligible again.
	if _, err := manager.MarkSyncing(context.Background(), item.ClientID); err == nil {
		t.Fatal("expected error for double mark syncing")
	}

	// Failed items can re-enter flight and keep counting attempts.
	if err := manager.MarkFailed(context.Background(), item.ClientID, "timeout", time.Time{}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retried, err := manager.MarkSyncing(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("retry mark syncing: %v", err)
	}
	if retried.SyncAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", retried.SyncAttempts)
	}
}

func TestMarkFailedSchedulesNextAttempt(t *testing.T) {
	now := time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC)
	manager := newTestManager(t, fixedClock(now))

	item, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := manager.MarkSyncing(context.Background(), item.ClientID); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}

	next := now.Add(30 * time.Second)
	if err := manager.MarkFailed(context.Background(), item.ClientID, "connection refused", next); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := manager.Get(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "connection refused" {
		t.Fatalf("error = %q", got.ErrorMessage)
	}
	if !got.NextAttemptAt.Equal(next) {
		t.Fatalf("next attempt = %v, want %v", got.NextAttemptAt, next)
	}
}

func TestNeedsAttentionAndRequeue(t *testing.T) {
	manager := newTestManager(t, nil)

	item, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := manager.MarkSyncing(context.Background(), item.ClientID); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := manager.MarkNeedsAttention(context.Background(), item.ClientID, "serial number already registered"); err != nil {
		t.Fatalf("mark needs attention: %v", err)
	}

	// Withdrawn items are invisible to the retry pool.
	eligible, err := manager.PendingOrFailed(context.Background())
	if err != nil {
		t.Fatalf("pending or failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("eligible = %d, want 0", len(eligible))
	}

	if err := manager.Requeue(context.Background(), item.ClientID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, err := manager.Get(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.SyncAttempts != 0 {
		t.Fatalf("attempts = %d, want reset to 0", got.SyncAttempts)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error = %q, want cleared", got.ErrorMessage)
	}
}

func TestClearSyncedLeavesOthers(t *testing.T) {
	manager := newTestManager(t, nil)

	done, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue done: %v", err)
	}
	waiting, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue waiting: %v", err)
	}

	if _, err := manager.MarkSyncing(context.Background(), done.ClientID); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := manager.MarkSynced(context.Background(), done.ClientID, "tkt-9", "RB-009"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	removed, err := manager.ClearSynced(context.Background())
	if err != nil {
		t.Fatalf("clear synced: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := manager.Get(context.Background(), done.ClientID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected synced item gone, got %v", err)
	}
	if _, err := manager.Get(context.Background(), waiting.ClientID); err != nil {
		t.Fatalf("waiting item should remain: %v", err)
	}
}

func TestRecoverDemotesInterruptedItems(t *testing.T) {
	manager := newTestManager(t, nil)

	item, err := manager.Enqueue(context.Background(), testPayload(), nil, "emp-1", "Sam")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := manager.MarkSyncing(context.Background(), item.ClientID); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}

	recovered, err := manager.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	got, err := manager.Get(context.Background(), item.ClientID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed after recovery", got.Status)
	}
}
