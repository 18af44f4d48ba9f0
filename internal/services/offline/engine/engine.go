// Package engine drains the sync queue against the backend API. One run
// processes eligible items oldest first, each in isolation, and decides
// per failure whether to reschedule or withdraw the item.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/repairhub/intake/internal/services/offline/client"
	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/queue"
)

const (
	defaultMaxAttempts  = 8
	defaultRetryBackoff = 5 * time.Second
	defaultRetryMax     = 10 * time.Minute
)

// API is the backend surface the engine drives during a run.
type API interface {
	CreateTicket(ctx context.Context, clientID string, payload domain.TicketPayload) (client.CreatedTicket, error)
	UploadPhoto(ctx context.Context, serverTicketID string, photo domain.Photo) (client.UploadedPhoto, error)
}

// Config tunes retry behavior for a sync engine.
type Config struct {
	// MaxAttempts is the ceiling after which an item stops retrying
	// automatically and waits for staff review.
	MaxAttempts int
	// RetryBackoff is the delay before the second attempt; later delays
	// grow exponentially from it.
	RetryBackoff time.Duration
	// RetryMaxDelay caps the growth of retry delays.
	RetryMaxDelay time.Duration
	// OnItem, when set, observes each item's outcome as the run proceeds.
	OnItem func(ItemResult)
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMax
	}
	return c
}

// ItemResult is the outcome of one item within a run.
type ItemResult struct {
	ClientID     string
	Status       domain.Status
	TicketID     string
	FriendlyCode string
	Err          error
}

// Summary reports what a run did.
type Summary struct {
	Processed      int
	Synced         int
	Failed         int
	NeedsAttention int
	Skipped        int
	Results        []ItemResult
}

// ByClientID indexes the run's results for callers that track specific
// items rather than the whole run.
func (s Summary) ByClientID() map[string]ItemResult {
	if len(s.Results) == 0 {
		return nil
	}
	indexed := make(map[string]ItemResult, len(s.Results))
	for _, r := range s.Results {
		indexed[r.ClientID] = r
	}
	return indexed
}

// Engine is a single-flight queue drainer. Concurrent triggers while a
// run is active are dropped rather than queued.
type Engine struct {
	queue   *queue.Manager
	api     API
	cfg     Config
	clock   func() time.Time
	logger  *log.Logger
	running atomic.Bool
}

// New builds an engine over the queue manager and API client.
func New(q *queue.Manager, api API, cfg Config, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		queue:  q,
		api:    api,
		cfg:    cfg.normalized(),
		clock:  clock,
		logger: log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
}

// Running reports whether a run is currently in flight.
func (e *Engine) Running() bool {
	return e != nil && e.running.Load()
}

// TriggerSync starts a run if none is active. It reports whether this
// call started the run; false means another run already holds the slot
// and the caller's work will be picked up by it or by a later trigger.
func (e *Engine) TriggerSync(ctx context.Context) (Summary, bool, error) {
	if e == nil || e.queue == nil || e.api == nil {
		return Summary{}, false, fmt.Errorf("sync engine is not configured")
	}
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, false, nil
	}
	defer e.running.Store(false)

	summary, err := e.run(ctx)
	return summary, true, err
}

func (e *Engine) run(ctx context.Context) (Summary, error) {
	tracer := otel.Tracer("repairhub.intake/offline/engine")
	ctx, span := tracer.Start(ctx, "sync.run")
	defer span.End()

	items, err := e.queue.PendingOrFailed(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list eligible items: %w", err)
	}

	summary := Summary{}
	now := e.clock().UTC()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if item.NextAttemptAt.After(now) {
			summary.Skipped++
			continue
		}

		result := e.processItem(ctx, tracer, item.ClientID)
		summary.Processed++
		summary.Results = append(summary.Results, result)
		switch result.Status {
		case domain.StatusSynced:
			summary.Synced++
		case domain.StatusFailed:
			summary.Failed++
		case domain.StatusNeedsAttention:
			summary.NeedsAttention++
		}
		if e.cfg.OnItem != nil {
			e.cfg.OnItem(result)
		}
	}

	span.SetAttributes(
		attribute.Int("sync.processed", summary.Processed),
		attribute.Int("sync.synced", summary.Synced),
		attribute.Int("sync.failed", summary.Failed),
		attribute.Int("sync.needs_attention", summary.NeedsAttention),
	)
	return summary, nil
}

// processItem pushes one work item through ticket creation and photo
// uploads. Failures in one item never touch the others.
func (e *Engine) processItem(ctx context.Context, tracer trace.Tracer, clientID string) ItemResult {
	ctx, span := tracer.Start(ctx, "sync.item", trace.WithAttributes(attribute.String("sync.client_id", clientID)))
	defer span.End()

	item, err := e.queue.MarkSyncing(ctx, clientID)
	if err != nil {
		e.logger.Printf("item %s: mark syncing: %v", clientID, err)
		return ItemResult{ClientID: clientID, Status: domain.StatusFailed, Err: err}
	}

	item, syncErr := e.syncItem(ctx, item)
	if syncErr == nil {
		if err := e.queue.MarkSynced(ctx, clientID, item.ServerTicketID, item.ServerFriendlyCode); err != nil {
			e.logger.Printf("item %s: mark synced: %v", clientID, err)
			return ItemResult{ClientID: clientID, Status: domain.StatusFailed, Err: err}
		}
		e.logger.Printf("item %s synced as ticket %s (%s)", clientID, item.ServerTicketID, item.ServerFriendlyCode)
		return ItemResult{
			ClientID:     clientID,
			Status:       domain.StatusSynced,
			TicketID:     item.ServerTicketID,
			FriendlyCode: item.ServerFriendlyCode,
		}
	}

	if e.permanent(syncErr) || item.SyncAttempts >= e.cfg.MaxAttempts {
		if err := e.queue.MarkNeedsAttention(ctx, clientID, syncErr.Error()); err != nil {
			e.logger.Printf("item %s: mark needs attention: %v", clientID, err)
		}
		e.logger.Printf("item %s needs attention after %d attempts: %v", clientID, item.SyncAttempts, syncErr)
		return ItemResult{ClientID: clientID, Status: domain.StatusNeedsAttention, Err: syncErr}
	}

	nextAttempt := e.clock().UTC().Add(e.retryDelay(item.SyncAttempts))
	if err := e.queue.MarkFailed(ctx, clientID, syncErr.Error(), nextAttempt); err != nil {
		e.logger.Printf("item %s: mark failed: %v", clientID, err)
	}
	e.logger.Printf("item %s failed attempt %d, retrying at %s: %v", clientID, item.SyncAttempts, nextAttempt.Format(time.RFC3339), syncErr)
	return ItemResult{ClientID: clientID, Status: domain.StatusFailed, Err: syncErr}
}

// syncItem resumes wherever the previous attempt left off: ticket creation
// is skipped once server identifiers exist, and photos already confirmed
// by the server are not re-sent.
func (e *Engine) syncItem(ctx context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	if !item.TicketCreated() {
		created, err := e.api.CreateTicket(ctx, item.ClientID, item.Payload)
		if err != nil {
			return item, fmt.Errorf("create ticket: %w", err)
		}
		if err := e.queue.RecordServerTicket(ctx, item.ClientID, created.TicketID, created.FriendlyCode); err != nil {
			return item, fmt.Errorf("record server ticket: %w", err)
		}
		item.ServerTicketID = created.TicketID
		item.ServerFriendlyCode = created.FriendlyCode
	}

	for _, photo := range item.RemainingPhotos() {
		uploaded, err := e.api.UploadPhoto(ctx, item.ServerTicketID, photo)
		if err != nil {
			return item, fmt.Errorf("upload photo %s: %w", photo.ID, err)
		}
		if err := e.queue.RecordPhotoUploaded(ctx, item.ClientID, photo.ID, uploaded.PhotoID); err != nil {
			return item, fmt.Errorf("record photo upload: %w", err)
		}
	}
	return item, nil
}

// permanent reports whether err can never succeed by retrying the same
// request: explicit permanent markers and request rejections qualify,
// outages and transport failures do not.
func (e *Engine) permanent(err error) bool {
	if domain.IsPermanent(err) {
		return true
	}
	var apiErr *client.Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == client.KindValidation
	}
	return false
}

// retryDelay grows exponentially with the attempt count, capped at the
// configured maximum.
func (e *Engine) retryDelay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBackoff
	bo.MaxInterval = e.cfg.RetryMaxDelay
	bo.RandomizationFactor = 0

	delay := bo.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = bo.NextBackOff()
	}
	if delay > e.cfg.RetryMaxDelay {
		delay = e.cfg.RetryMaxDelay
	}
	return delay
}
