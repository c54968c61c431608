// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the question-routing HTTP service.
//
// # Description
//
// This package wires the chat model, retrieval, tools, conversation memory
// and media clients into a single Gin router. Construction only reads
// configuration and optional pre-built collaborators, so the same service
// runs in production and against fakes in tests.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/config"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/AleutianAI/askai/services/orchestrator/prompts"
	"github.com/AleutianAI/askai/services/orchestrator/retrieval"
	"github.com/AleutianAI/askai/services/orchestrator/routes"
	"github.com/AleutianAI/askai/services/orchestrator/services"
	"github.com/AleutianAI/askai/services/orchestrator/tools"
	"github.com/AleutianAI/askai/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// shutdownTimeout bounds graceful HTTP shutdown and span flushing.
const shutdownTimeout = 5 * time.Second

// =============================================================================
// Service Interface
// =============================================================================

// Service defines the contract for the orchestrator HTTP service.
//
// # Description
//
// Service owns the HTTP router and every long-lived collaborator behind
// it. Callers build one with New and either Run it or drive Router
// directly in tests.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails.
	//
	// # Description
	//
	// Starts the server on the configured port and, when the ingest
	// watcher is enabled, a goroutine that re-ingests changed documents.
	// Cancelling ctx shuts the server down gracefully and releases the
	// memory store and tracer.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or stops with an error.
	//     A clean shutdown returns nil.
	//
	// # Limitations
	//
	//   - Run may be called at most once.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Ingester returns the document ingester bound to the service's index.
	Ingester() *retrieval.Ingester

	// Close releases the memory store and flushes traces. Run calls it on
	// return; callers that never Run must call it themselves.
	Close()
}

// =============================================================================
// Options
// =============================================================================

// Options injects pre-built collaborators. Any nil field is built from
// configuration.
type Options struct {
	LLM      llm.LLMClient
	Embedder llm.Embedder
	Media    llm.MediaClient
	Index    retrieval.VectorIndex
	Memory   memory.Store
	Ninjas   *tools.NinjasClient
	Tools    *tools.Registry
	// Clock overrides the date/time tools' clock.
	Clock *tools.Clock
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config        config.Config
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	llmClient     llm.LLMClient
	embedder      llm.Embedder
	media         llm.MediaClient
	index         retrieval.VectorIndex
	store         memory.Store
	ingester      *retrieval.Ingester
	chat          *services.ChatService
	mediaService  *services.MediaService
	tracerCleanup func(context.Context)
	closed        bool
}

// New creates a fully wired orchestrator service.
//
// # Description
//
// Initialization order:
//  1. Tracing, only when an OTLP endpoint is configured
//  2. A private Prometheus registry with Go and process collectors
//  3. The chat model client and its embedder and media capabilities
//  4. The vector index, Weaviate when configured, else in memory
//  5. Conversation memory, durable when SQLite opens, else in memory
//  6. The tool registry and its api-ninjas client
//  7. Chat and media services, the ingester and the HTTP router
//
// Startup ingestion of the configured document paths runs last. Its
// failures are logged and never fail construction.
//
// # Inputs
//
//   - ctx: Bounds startup work such as schema checks and ingestion.
//   - cfg: Validated configuration, usually from config.Load.
//   - opts: Pre-built collaborators. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run service.
//   - error: Non-nil if a required collaborator cannot be built.
//
// # Examples
//
//	svc, err := orchestrator.New(ctx, cfg, &orchestrator.Options{LLM: fake})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer svc.Close()
//	svc.Router().ServeHTTP(w, req)
func New(ctx context.Context, cfg config.Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: cfg}

	cleanup, err := s.initTracer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initMetrics()

	if err := s.initLLMClient(opts); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initIndex(ctx, opts)

	s.store = opts.Memory
	if s.store == nil {
		s.store = memory.Open(ctx, memory.Config{
			SQLitePath: cfg.Memory.SQLitePath,
			Window:     cfg.Memory.Window,
		})
	}
	s.metrics.SetMemoryBackend(s.store.Kind().String())

	registry, err := s.initTools(opts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize tools: %w", err)
	}

	if err := s.initServices(registry); err != nil {
		s.Close()
		return nil, err
	}

	s.initRouter()
	s.bootstrapDocuments(ctx)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting askai server", "port", s.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down askai server")
		return srv.Shutdown(shutdownCtx)
	})
	if s.config.Ingest.Watch && len(s.config.Ingest.Documents) > 0 {
		g.Go(func() error {
			if err := s.ingester.Watch(gctx, s.config.Ingest.Documents, retrieval.DefaultSettleDelay); err != nil {
				// The server keeps running without the watcher.
				slog.Warn("Document watcher stopped", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Ingester() *retrieval.Ingester {
	return s.ingester
}

func (s *service) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Memory store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Initialization helpers
// =============================================================================

// initTracer installs an OTLP/gRPC tracer provider. An empty endpoint
// leaves the global no-op provider in place.
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := strings.TrimSpace(s.config.OTel.Endpoint)
	if endpoint == "" {
		slog.Info("OpenTelemetry export disabled")
		return nil, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.OTel.ServiceName)))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	slog.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}

	return cleanup, nil
}

func (s *service) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)
}

// initLLMClient builds the configured backend unless one was injected. The
// embedder and media client default to the chat client when it implements
// them.
func (s *service) initLLMClient(opts *Options) error {
	s.llmClient = opts.LLM
	if s.llmClient == nil {
		client, err := newBackendClient(s.config.LLM)
		if err != nil {
			return err
		}
		s.llmClient = client
	}

	s.embedder = opts.Embedder
	if s.embedder == nil {
		if e, ok := s.llmClient.(llm.Embedder); ok {
			s.embedder = e
		}
	}
	s.media = opts.Media
	if s.media == nil {
		if m, ok := s.llmClient.(llm.MediaClient); ok {
			s.media = m
		}
	}
	return nil
}

func newBackendClient(cfg config.LLMConfig) (llm.LLMClient, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			ImageModel:     cfg.ImageModel,
			SpeechModel:    cfg.SpeechModel,
			Voice:          cfg.Voice,
		})
	case config.BackendOllama:
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}

// initIndex connects to Weaviate when configured. Any failure falls back to
// the in-memory index with a warning.
func (s *service) initIndex(ctx context.Context, opts *Options) {
	if opts.Index != nil {
		s.index = opts.Index
		return
	}
	if s.config.Vector.Backend == config.VectorWeaviate {
		index, err := s.initWeaviate(ctx)
		if err == nil {
			s.index = index
			return
		}
		slog.Warn("Weaviate initialization failed, using in-memory vector index", "error", err)
	}
	s.index = retrieval.NewMemoryIndex()
	slog.Info("Using in-memory vector index")
}

func (s *service) initWeaviate(ctx context.Context) (*retrieval.WeaviateIndex, error) {
	weaviateURL := strings.Trim(s.config.Vector.WeaviateURL, "\"' ")
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	index, err := retrieval.NewWeaviateIndex(ctx, client, s.config.Vector.Class)
	if err != nil {
		return nil, err
	}
	slog.Info("Weaviate vector index initialized", "url", weaviateURL, "class", s.config.Vector.Class)
	return index, nil
}

func (s *service) initTools(opts *Options) (*tools.Registry, error) {
	if opts.Tools != nil {
		return opts.Tools, nil
	}

	ninjas := opts.Ninjas
	if ninjas == nil {
		apiKey := llm.ResolveSecret(s.config.Tools.NinjasAPIKey, "API_NINJAS_KEY", "api_ninjas_key")
		if apiKey == "" {
			slog.Warn("API_NINJAS_KEY not set; weather, stock and QR tools will be rejected upstream")
		}
		ninjas = tools.NewNinjasClient(tools.NinjasConfig{
			BaseURL:       s.config.Tools.NinjasBaseURL,
			APIKey:        apiKey,
			RatePerSecond: s.config.Tools.RatePerSecond,
			Burst:         s.config.Tools.Burst,
			Timeout:       s.config.Tools.Timeout,
		})
	}

	clock := tools.SystemClock()
	if opts.Clock != nil {
		clock = *opts.Clock
	} else if tz := s.config.Tools.TimeZone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid tools time zone %q: %w", tz, err)
		}
		clock.Location = loc
	}

	return tools.DefaultRegistry(tools.Dependencies{
		Ninjas: ninjas,
		Clock:  clock,
	}), nil
}

func (s *service) initServices(registry *tools.Registry) error {
	renderer, err := prompts.New()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	var retriever services.DocumentRetriever
	if s.embedder != nil {
		ingestOpts := []retrieval.IngesterOption{
			retrieval.WithBatchSize(s.config.Ingest.BatchSize),
			retrieval.WithConcurrency(s.config.Ingest.Concurrency),
		}
		if s.config.Ingest.Policy {
			engine, err := policy_engine.NewPolicyEngine()
			if err != nil {
				return fmt.Errorf("failed to initialize policy engine: %w", err)
			}
			ingestOpts = append(ingestOpts, retrieval.WithPolicy(engine))
		} else {
			slog.Warn("Document data policy disabled; ingestion will not scan for secrets")
		}
		retriever = retrieval.NewRetriever(s.embedder, s.index)
		s.ingester = retrieval.NewIngester(s.embedder, s.index, ingestOpts...)
	} else {
		slog.Warn("LLM backend cannot embed; retrieval and ingestion are disabled")
	}

	s.chat, err = services.NewChatService(services.ChatDependencies{
		LLM:       s.llmClient,
		Retriever: retriever,
		Tools:     registry,
		Memory:    s.store,
		Prompts:   renderer,
		Metrics:   s.metrics,
	}, services.ChatConfig{
		TopK:              s.config.RAG.TopK,
		MinSimilarity:     s.config.RAG.MinSimilarity,
		MaxToolIterations: s.config.Tools.MaxIterations,
		ReReading:         s.config.Chat.ReReading,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat service: %w", err)
	}

	if s.media != nil {
		s.mediaService, err = services.NewMediaService(s.media, renderer, s.metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize media service: %w", err)
		}
	}
	return nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.Server.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.OTel.ServiceName))

	deps := routes.Dependencies{
		Chat:     s.chat,
		Memory:   s.store,
		Index:    s.index,
		Metrics:  s.metrics,
		Gatherer: s.registry,
		APIToken: llm.ResolveSecret(s.config.Server.APIToken, "ASKAI_API_TOKEN", "askai_api_token"),
	}
	// Typed nils would register routes that panic.
	if s.mediaService != nil {
		deps.Media = s.mediaService
	}
	if s.ingester != nil {
		deps.Ingester = s.ingester
	}
	routes.SetupRoutes(s.router, deps)
}

// bootstrapDocuments ingests the configured paths when the index is empty.
func (s *service) bootstrapDocuments(ctx context.Context) {
	if s.ingester == nil || len(s.config.Ingest.Documents) == 0 {
		return
	}
	n, err := s.ingester.Bootstrap(ctx, s.config.Ingest.Documents)
	if err != nil {
		slog.Warn("Startup document ingestion failed", "paths", s.config.Ingest.Documents, "error", err)
		return
	}
	if n > 0 {
		slog.Info("Ingested startup documents", "chunks", n)
	}
}
