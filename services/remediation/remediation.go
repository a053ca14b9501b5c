// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remediation assembles the policy-gated remediation service.
//
// # Description
//
// The service fronts the remediation pipeline over HTTP. Agents submit
// proposed actions; the pipeline gates each one through policy
// evaluation, risk assessment, and (when warranted) human approval
// before anything touches the platform. Operators drive approvals,
// inspect runs, and administer circuit breakers through the same API.
//
// New wires every component from one Config: BadgerDB storage for
// snapshots and archived runs, the remote policy client with local CEL
// guardrails, the usage tracker feeding rate-limit enrichment, the risk
// assessor with its optional LLM advisory decorator, the approval
// broker, and the platform connector. Run serves until Shutdown.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/llm"
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/archive"
	"github.com/AleutianAI/AleutianOps/services/remediation/connector"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/handlers"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
	"github.com/AleutianAI/AleutianOps/services/remediation/pipeline"
	"github.com/AleutianAI/AleutianOps/services/remediation/policy"
	"github.com/AleutianAI/AleutianOps/services/remediation/ratelimit"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
	"github.com/AleutianAI/AleutianOps/services/remediation/risk"
	"github.com/AleutianAI/AleutianOps/services/remediation/snapshot"
	storage "github.com/AleutianAI/AleutianOps/services/remediation/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultPort is the remediation service's HTTP port.
const DefaultPort = 12310

// approvalFeedBuffer sizes the event subscription behind the notifier
// pump. The broker drops events for slow subscribers, so the buffer
// absorbs bursts of simultaneous approval requests.
const approvalFeedBuffer = 32

// =============================================================================
// Configuration
// =============================================================================

// Config holds remediation service configuration.
//
// # Description
//
// Config centralizes every tunable of the service. Zero values take
// defaults; construction never dials an external endpoint, so a
// misconfigured URL surfaces on first use, through the circuit
// breakers, rather than at boot.
type Config struct {
	// Port is the HTTP listen port. Default: DefaultPort.
	Port int

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Empty leaves the GIN_MODE environment value in effect.
	GinMode string

	// PolicyURL is the remote policy service's base URL.
	// Default: "http://localhost:8181".
	PolicyURL string

	// PolicyDecisionPath overrides the decision endpoint path.
	// Default: policy.DefaultDecisionPath.
	PolicyDecisionPath string

	// GuardrailsPath names a YAML file of local CEL deny rules checked
	// before every remote policy call and hot-reloaded on change.
	// Empty disables local guardrails.
	GuardrailsPath string

	// ConnectorURL is the platform connector's base URL.
	// Default: "http://localhost:12410".
	ConnectorURL string

	// ConnectorToken authorizes connector calls. The token is sealed in
	// a memguard enclave for the life of the process. Empty sends
	// requests unauthenticated.
	ConnectorToken string

	// DataDir is the BadgerDB directory holding snapshots and archived
	// run records. Default: "./data/remediation". Ignored when InMemory
	// is set.
	DataDir string

	// InMemory runs storage without disk persistence. Tests and
	// throwaway deployments.
	InMemory bool

	// SnapshotKeep is how many snapshots to retain per resource.
	// Default: snapshot.DefaultKeepPerResource.
	SnapshotKeep int

	// ArchiveBucket names a GCS bucket that mirrors terminal run
	// records. Empty keeps records local only.
	ArchiveBucket string

	// ArchiveKeyPath is the service account key file authorizing the
	// archive bucket.
	ArchiveKeyPath string

	// InfluxURL enables shared rate-limit counters in InfluxDB so
	// multiple replicas see one usage picture. Empty uses in-process
	// counters.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// LLMProvider selects the advisory summary backend: "openai",
	// "ollama", or "local". Empty or "none" disables advisory
	// summaries; assessments then carry only the static summary.
	LLMProvider string

	// RiskOverrides raises the classified risk level for specific
	// action types. Overrides can only raise, never lower.
	RiskOverrides map[string]datatypes.RiskLevel

	// ApprovalThreshold is the lowest risk level routed through the
	// approval gate. Default: pipeline.DefaultApprovalThreshold.
	ApprovalThreshold datatypes.RiskLevel

	// ApprovalTimeout bounds the human approval wait.
	// Default: approval.DefaultApprovalTimeout.
	ApprovalTimeout time.Duration

	// AutoApproveCeiling, when set, replaces the interactive approval
	// gate with an immediate decision: gated runs at or below this
	// level are approved, runs above it are rejected, and nothing
	// parks waiting for a human. Development deployments only.
	AutoApproveCeiling datatypes.RiskLevel

	// SubmitRPS is the sustained per-caller rate for POST
	// /v1/remediations. Zero takes the middleware default; negative
	// disables the throttle.
	SubmitRPS float64

	// SubmitBurst is the per-caller burst size for submissions. Zero
	// takes the middleware default.
	SubmitBurst int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317".
	OTelEndpoint string

	// DisableTracing skips exporter setup entirely. Spans become
	// no-ops. Intended for tests and collectorless deployments.
	DisableTracing bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// applyConfigDefaults fills in missing configuration values. Values not
// listed here default downstream, in the component constructors.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.PolicyURL == "" {
		cfg.PolicyURL = "http://localhost:8181"
	}
	if cfg.ConnectorURL == "" {
		cfg.ConnectorURL = "http://localhost:12410"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/remediation"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled remediation service.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run blocks; Shutdown may
// be called from another goroutine and is idempotent.
type Service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	router *gin.Engine
	server *http.Server

	db         *storage.DB
	breakers   *resilience.Registry
	guardrails *policy.Guardrails
	approvals  *approval.Manager
	runner     *pipeline.Runner
	archive    *archive.Archive

	tracerCleanup func(context.Context)
	stopFeed      func()
	feedDone      chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates a remediation Service with the given configuration.
//
// # Description
//
// New initializes every component in dependency order:
//
//  1. OpenTelemetry tracing (unless disabled)
//  2. BadgerDB storage
//  3. Circuit breaker registry
//  4. Policy client, guardrails, and usage tracker behind the engine
//  5. Platform connector with sealed credentials
//  6. Snapshot store and run archive (with optional GCS mirror)
//  7. Risk assessor, optionally decorated with an LLM advisory
//  8. Approval broker and the notifier pump
//  9. Pipeline runner, HTTP handlers, and routes
//
// Optional components degrade instead of failing: a broken GCS key or
// an unreachable LLM backend logs a warning and the service runs
// without that feature. Storage, policy, and connector configuration
// errors are fatal.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values take defaults.
//   - opts: Extension points. Nil fields take no-op defaults.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Non-nil if a required component cannot be built.
func New(cfg Config, opts extensions.ServiceOptions) (*Service, error) {
	s := &Service{
		config: applyConfigDefaults(cfg),
		opts:   opts.EnsureDefaults(),
	}
	s.logger = s.config.Logger

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if err := s.initStorage(); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}

	breakers, err := resilience.NewRegistry(s.breakerConfig())
	if err != nil {
		s.cleanup(context.Background())
		return nil, fmt.Errorf("init breaker registry: %w", err)
	}
	s.breakers = breakers

	engine, err := s.initPolicy()
	if err != nil {
		s.cleanup(context.Background())
		return nil, err
	}

	conn, err := s.initConnector()
	if err != nil {
		s.cleanup(context.Background())
		return nil, err
	}

	snapshots, err := snapshot.NewBadgerStore(s.db, conn, snapshot.BadgerStoreConfig{
		KeepPerResource: s.config.SnapshotKeep,
	})
	if err != nil {
		s.cleanup(context.Background())
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}

	if err := s.initArchive(context.Background()); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}

	assessor := s.initAssessor()
	approver := s.initApprover()

	runner, err := pipeline.NewRunner(pipeline.Config{
		Policy:    engine,
		Risk:      assessor,
		Approver:  approver,
		Snapshots: snapshots,
		Connector: conn,
		Archive: &noticeArchiver{
			inner:    s.archive,
			notifier: s.opts.Notifier,
			logger:   s.logger,
		},
		ApprovalThreshold: s.config.ApprovalThreshold,
		ApprovalTimeout:   s.config.ApprovalTimeout,
		Logger:            s.logger,
	})
	if err != nil {
		s.cleanup(context.Background())
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	s.runner = runner

	s.startNoticePump()

	h := handlers.NewHandlers(s.runner, s.approvals, s.breakers, assessor, conn).
		WithArchive(s.archive).
		WithAudit(s.opts.AuditLogger)
	if s.config.ApprovalThreshold != "" {
		h = h.WithApprovalThreshold(s.config.ApprovalThreshold)
	}

	s.initRouter(h)

	return s, nil
}

// Run starts the HTTP server and blocks until Shutdown or a listener
// error. A server closed by Shutdown returns nil.
func (s *Service) Run() error {
	s.logger.Info("Starting remediation server", "port", s.config.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and releases every resource: the
// notifier pump, guardrail watcher, audit buffer, storage, and tracer.
// Idempotent; later calls return the first result.
//
// In-flight asynchronous runs are not awaited. A run that loses its
// store mid-flight records the failure on the run and in the log.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup(ctx)
	})
	return s.closeErr
}

// Router returns the gin engine for tests. Routes are fixed after New.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization
// =============================================================================

// initTracer sets up the OTLP trace exporter. The gRPC connection is
// lazy, so an unreachable collector costs dropped spans, not a failed
// boot.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("remediation-service")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("OTLP exporter shutdown failed", "error", err)
		}
	}
	return cleanup, nil
}

func (s *Service) initStorage() error {
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = s.config.DataDir
	if s.config.InMemory {
		dbCfg = storage.InMemoryConfig()
	}
	dbCfg.Logger = s.logger

	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.db = db
	return nil
}

// breakerConfig is the registry default with state transitions logged.
func (s *Service) breakerConfig() resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		s.logger.Warn("Circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	return cfg
}

// initPolicy builds the remote client, optional guardrails, and usage
// tracker, and wires them into the fail-closed engine.
func (s *Service) initPolicy() (*policy.Engine, error) {
	client, err := policy.NewClient(policy.ClientConfig{
		BaseURL:      s.config.PolicyURL,
		DecisionPath: s.config.PolicyDecisionPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init policy client: %w", err)
	}

	if s.config.GuardrailsPath != "" {
		guardrails, err := policy.LoadGuardrails(s.config.GuardrailsPath, s.logger)
		if err != nil {
			// A rules file that fails to load must fail the boot, not
			// silently evaluate nothing.
			return nil, fmt.Errorf("load guardrails: %w", err)
		}
		if err := guardrails.Watch(context.Background()); err != nil {
			s.logger.Warn("Guardrail hot-reload unavailable",
				"path", s.config.GuardrailsPath, "error", err)
		}
		s.guardrails = guardrails
	}

	tracker, err := s.initTracker()
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(policy.EngineConfig{
		Remote:     client,
		Guardrails: s.guardrails,
		Tracker:    tracker,
		Breakers:   s.breakers,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init policy engine: %w", err)
	}
	return engine, nil
}

func (s *Service) initTracker() (ratelimit.Tracker, error) {
	if s.config.InfluxURL == "" {
		return ratelimit.NewMemoryTracker(), nil
	}
	tracker, err := ratelimit.NewInfluxTracker(ratelimit.InfluxConfig{
		URL:    s.config.InfluxURL,
		Token:  s.config.InfluxToken,
		Org:    s.config.InfluxOrg,
		Bucket: s.config.InfluxBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("init influx tracker: %w", err)
	}
	s.logger.Info("Usage tracking backed by InfluxDB", "url", s.config.InfluxURL)
	return tracker, nil
}

func (s *Service) initConnector() (*connector.HTTPConnector, error) {
	var creds *connector.CredentialStore
	if s.config.ConnectorToken != "" {
		var err error
		creds, err = connector.NewCredentialStore([]byte(s.config.ConnectorToken))
		if err != nil {
			return nil, fmt.Errorf("seal connector credentials: %w", err)
		}
	}
	conn, err := connector.NewHTTPConnector(connector.HTTPConfig{
		BaseURL:     s.config.ConnectorURL,
		Credentials: creds,
		Breakers:    s.breakers,
	})
	if err != nil {
		return nil, fmt.Errorf("init connector: %w", err)
	}
	return conn, nil
}

// initArchive opens the run archive, with a GCS mirror when a bucket is
// configured. A broken mirror downgrades to local-only archiving.
func (s *Service) initArchive(ctx context.Context) error {
	var exporter archive.Exporter
	if s.config.ArchiveBucket != "" {
		gcs, err := archive.NewGCSExporter(ctx, s.config.ArchiveBucket, s.config.ArchiveKeyPath)
		if err != nil {
			s.logger.Warn("Archive export disabled",
				"bucket", s.config.ArchiveBucket, "error", err)
		} else {
			exporter = gcs
			s.logger.Info("Archiving terminal runs to GCS", "bucket", s.config.ArchiveBucket)
		}
	}

	arch, err := archive.NewArchive(s.db, exporter, s.logger)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}
	s.archive = arch
	return nil
}

// initAssessor returns the static assessor, decorated with an LLM
// advisory when a provider is configured. Advisory text never changes
// an assessment, so every failure here degrades to static-only.
func (s *Service) initAssessor() risk.Assessor {
	static := risk.NewStaticAssessor(s.config.RiskOverrides)

	client, err := llm.NewClient(s.config.LLMProvider)
	if err != nil {
		s.logger.Warn("Advisory summaries disabled",
			"provider", s.config.LLMProvider, "error", err)
		return static
	}
	if client == nil {
		return static
	}

	advisory, err := risk.NewAdvisoryAssessor(risk.AdvisoryConfig{
		Inner:  static,
		Client: client,
		Logger: s.logger,
	})
	if err != nil {
		s.logger.Warn("Advisory summaries disabled", "error", err)
		return static
	}
	s.logger.Info("Advisory summaries enabled", "provider", s.config.LLMProvider)
	return advisory
}

// initApprover creates the approval broker and picks the pipeline's
// gate: the broker itself, or the auto-approver in development mode.
// The broker always exists so the approvals API stays functional.
func (s *Service) initApprover() approval.Approver {
	s.approvals = approval.NewManager()

	if s.config.AutoApproveCeiling == "" {
		return s.approvals
	}
	s.logger.Warn("Interactive approvals disabled, auto-deciding gated runs",
		"ceiling", string(s.config.AutoApproveCeiling))
	return approval.NewAutoApprover(s.config.AutoApproveCeiling)
}

func (s *Service) initRouter(h *handlers.Handlers) {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("remediation-service"))

	s.router.GET("/health", h.HandleHealth)
	s.router.GET("/version", h.HandleVersion)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(s.opts.AuthProvider))
	handlers.RegisterRoutes(v1, h, handlers.RouteConfig{
		Authz:       s.opts.AuthzProvider,
		RateLimiter: s.submitLimiter(),
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Service) submitLimiter() *middleware.RateLimiter {
	if s.config.SubmitRPS < 0 {
		return nil
	}
	return middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: s.config.SubmitRPS,
		Burst:             s.config.SubmitBurst,
	})
}

// =============================================================================
// Teardown
// =============================================================================

// cleanup releases resources in reverse dependency order. Every field
// is nil-checked so partial initialization failures can reuse it.
func (s *Service) cleanup(ctx context.Context) error {
	var errs []error

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.stopFeed != nil {
		s.stopFeed()
		<-s.feedDone
	}
	if s.guardrails != nil {
		s.guardrails.Stop()
	}
	if err := s.opts.AuditLogger.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit flush: %w", err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
	return errors.Join(errs...)
}
