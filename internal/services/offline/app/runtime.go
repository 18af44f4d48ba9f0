// Package app wires the offline intake runtime: durable storage, the API
// client, the sync engine, connectivity probing, and a health endpoint.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/repairhub/intake/internal/platform/timeouts"
	"github.com/repairhub/intake/internal/services/offline/client"
	"github.com/repairhub/intake/internal/services/offline/connectivity"
	"github.com/repairhub/intake/internal/services/offline/credential"
	"github.com/repairhub/intake/internal/services/offline/engine"
	"github.com/repairhub/intake/internal/services/offline/queue"
	"github.com/repairhub/intake/internal/services/offline/storage/sqlite"
)

// RuntimeConfig controls syncd startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int
	APIBaseURL    string
	DBPath        string
	CredentialTTL time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	ProbeInterval time.Duration
	CleanupGrace  time.Duration
}

const (
	defaultSyncdPort     = 8095
	defaultSyncdDB       = "data/intake.db"
	defaultProbeInterval = 15 * time.Second
	defaultCleanupGrace  = 5 * time.Second
)

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = defaultSyncdPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultSyncdDB
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.CleanupGrace <= 0 {
		cfg.CleanupGrace = defaultCleanupGrace
	}
	return cfg
}

// Run starts the offline runtime and blocks until ctx is canceled.
//
// An unusable local database is a hard failure: without durable storage
// the runtime cannot promise that captured tickets survive a restart, so
// refusing to start is safer than running without the guarantee.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return fmt.Errorf("api base url is required")
	}
	cfg = cfg.normalized()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create intake storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open intake sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close intake sqlite store: %v", closeErr)
		}
	}()

	api, err := client.New(cfg.APIBaseURL, &http.Client{Timeout: timeouts.APIRequest})
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}

	q := queue.NewManager(store, nil)
	creds := credential.NewCache(store, cfg.CredentialTTL, nil)
	eng := engine.New(q, api, engine.Config{
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, nil)
	monitor := connectivity.NewMonitor()

	// Items left in flight by a crash resume as failed, not stuck.
	recovered, err := q.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted items: %w", err)
	}
	if recovered > 0 {
		log.Printf("recovered %d interrupted sync item(s)", recovered)
	}
	pruned, err := creds.CleanupExpired(ctx)
	if err != nil {
		return fmt.Errorf("prune expired credentials: %w", err)
	}
	if pruned > 0 {
		log.Printf("pruned %d expired cached credential(s)", pruned)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on syncd port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("syncd.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			grpcServer.Stop()
		}
		<-serveErr
	}()

	log.Printf("syncd server listening at %v", listener.Addr())

	loop := &syncLoop{
		cfg:     cfg,
		engine:  eng,
		queue:   q,
		monitor: monitor,
		probe:   newReachabilityProbe(cfg.APIBaseURL),
	}
	return loop.run(ctx)
}

// syncLoop probes backend reachability on an interval and drains the
// queue on every reconnection edge.
type syncLoop struct {
	cfg     RuntimeConfig
	engine  *engine.Engine
	queue   *queue.Manager
	monitor *connectivity.Monitor
	probe   func(ctx context.Context) bool
}

func (l *syncLoop) run(ctx context.Context) error {
	edges := l.monitor.Subscribe()

	// Seed the monitor before the first tick so work captured while the
	// daemon was down syncs immediately when the backend is reachable.
	l.monitor.SetOnline(l.probe(ctx))

	ticker := time.NewTicker(l.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.monitor.SetOnline(l.probe(ctx))
		case <-edges:
			l.drain(ctx)
		}
	}
}

func (l *syncLoop) drain(ctx context.Context) {
	summary, started, err := l.engine.TriggerSync(ctx)
	if err != nil {
		log.Printf("sync run: %v", err)
		return
	}
	if !started || summary.Synced == 0 {
		return
	}

	// Leave synced items visible briefly so the UI can show the server's
	// ticket code before the local copy goes away.
	select {
	case <-ctx.Done():
		return
	case <-time.After(l.cfg.CleanupGrace):
	}
	removed, err := l.queue.ClearSynced(ctx)
	if err != nil {
		log.Printf("clear synced items: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("cleared %d synced item(s)", removed)
	}
}

// newReachabilityProbe checks whether the backend answers HTTP at all.
// Any response, including an error status, proves the link is up; only
// transport failures count as offline.
func newReachabilityProbe(baseURL string) func(ctx context.Context) bool {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/health"
	httpc := &http.Client{Timeout: timeouts.Probe}
	return func(ctx context.Context) bool {
		probeCtx, cancel := context.WithTimeout(ctx, timeouts.Probe)
		defer cancel()

		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false
		}
		res, err := httpc.Do(req)
		if err != nil {
			return false
		}
		res.Body.Close()
		return true
	}
}
