// Package main wires together the webscout service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/api"
	"github.com/mgoodale/webscout/internal/clock/system"
	"github.com/mgoodale/webscout/internal/config"
	"github.com/mgoodale/webscout/internal/dispatcher"
	"github.com/mgoodale/webscout/internal/gateway"
	"github.com/mgoodale/webscout/internal/gateway/firecrawl"
	"github.com/mgoodale/webscout/internal/id/uuid"
	indexmem "github.com/mgoodale/webscout/internal/index/memory"
	"github.com/mgoodale/webscout/internal/index/pgvector"
	"github.com/mgoodale/webscout/internal/llm"
	"github.com/mgoodale/webscout/internal/logging"
	"github.com/mgoodale/webscout/internal/metrics"
	"github.com/mgoodale/webscout/internal/orchestrator"
	pubmem "github.com/mgoodale/webscout/internal/publisher/memory"
	pubsubpub "github.com/mgoodale/webscout/internal/publisher/pubsub"
	queuemem "github.com/mgoodale/webscout/internal/queue/memory"
	"github.com/mgoodale/webscout/internal/research"
	"github.com/mgoodale/webscout/internal/storage/gcs"
	"github.com/mgoodale/webscout/internal/storage/local"
	storagemem "github.com/mgoodale/webscout/internal/storage/memory"
	"github.com/mgoodale/webscout/internal/storage/postgres"
	"github.com/mgoodale/webscout/internal/synthesis"
	"github.com/mgoodale/webscout/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	index, err := buildIndex(ctx, cfg)
	if err != nil {
		return err
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	pub, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	queue := queuemem.NewQueue(cfg.Workers.QueueDepth)
	defer func() { _ = queue.Close() }()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second}
	gateways := func(providerKey string) *gateway.Gateway {
		client := firecrawl.New(providerKey, logger,
			firecrawl.WithBaseURL(cfg.Provider.BaseURL),
			firecrawl.WithHTTPClient(httpClient))
		return gateway.New(client, logger,
			gateway.WithPollInterval(cfg.PollInterval()),
			gateway.WithPollTimeout(cfg.PollTimeout()))
	}
	completers := func(anthropicKey string) synthesis.Completer {
		if anthropicKey == "" {
			return nil
		}
		return llm.New(anthropicKey, logger, llm.WithModel(cfg.LLM.Model))
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Jobs:            stores.jobs,
		Users:           stores.users,
		Scratch:         stores.pads,
		Index:           index,
		Blobs:           blobs,
		Queue:           queue,
		Publisher:       pub,
		Clock:           clock,
		IDs:             ids,
		Logger:          logger,
		Gateways:        gateways,
		Completers:      completers,
		CompletionTopic: cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	runner := &timeoutRunner{orch: orch, timeout: time.Duration(cfg.Workers.JobTimeoutSec) * time.Second}
	workers := make([]*worker.Worker, cfg.Workers.Concurrency)
	for i := range workers {
		workers[i] = worker.New(queue, runner, worker.Config{
			MaxRetries:       cfg.Workers.MaxRetries,
			RetryBackoffBase: cfg.RetryBackoff(),
		}, logger.With(zap.Int("worker", i)))
	}
	disp := dispatcher.New(queue, workers)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		disp.Run(ctx)
	}()

	server := api.NewServer(api.Deps{
		Orchestrator: orch,
		Jobs:         stores.jobs,
		Users:        stores.users,
		Scratch:      stores.pads,
		Index:        index,
		Clock:        clock,
		IDs:          ids,
		Logger:       logger,
		Timeout:      cfg.ServerTimeout(),
	})

	port := cfg.Server.Port
	// Cloud Run injects PORT.
	if fromEnv := os.Getenv("PORT"); fromEnv != "" {
		if p, err := strconv.Atoi(fromEnv); err == nil {
			port = p
		}
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-dispatcherDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	<-dispatcherDone
	logger.Info("shutdown complete")
	return nil
}

// timeoutRunner bounds each job execution so a hung provider call
// cannot pin a worker forever.
type timeoutRunner struct {
	orch    *orchestrator.Orchestrator
	timeout time.Duration
}

func (r *timeoutRunner) Run(ctx context.Context, jobID string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.orch.Run(ctx, jobID)
}

// stores bundles the relational-backed (or in-memory) stores together
// with the shared pool that must outlive them.
type stores struct {
	jobs  research.JobStore
	users research.UserStore
	pads  research.ScratchpadStore
	pool  interface{ Close() }
}

func (s *stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.DB.DSN == "" {
		return &stores{
			jobs:  storagemem.NewJobStore(),
			users: storagemem.NewUserStore(),
			pads:  storagemem.NewScratchpadStore(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxOpenConns,
		MinConns: cfg.DB.MinOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}
	jobs, err := postgres.NewJobStoreWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	users, err := postgres.NewUserStoreWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	pads, err := postgres.NewScratchpadStoreWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{jobs: jobs, users: users, pads: pads, pool: pool}, nil
}

func buildIndex(ctx context.Context, cfg config.Config) (research.VectorIndex, error) {
	if cfg.Index.DSN == "" {
		return indexmem.New(), nil
	}
	embedder := pgvector.NewHTTPEmbedder(cfg.Index.EmbedderEndpoint,
		os.Getenv("WEBSCOUT_EMBEDDER_API_KEY"), cfg.Index.EmbedderModel)
	idx, err := pgvector.New(ctx, pgvector.Config{DSN: cfg.Index.DSN}, embedder)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	return idx, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (research.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory", "":
		return storagemem.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (research.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return pubmem.New(), nil
	}
	pub, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	return pub, nil
}
