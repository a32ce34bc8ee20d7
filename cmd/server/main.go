package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/joho/godotenv"

	"github.com/githubflow/githubflow-server/internal/application"
	"github.com/githubflow/githubflow-server/internal/config"
	"github.com/githubflow/githubflow-server/internal/domain"
	"github.com/githubflow/githubflow-server/internal/infrastructure/buildsvc"
	"github.com/githubflow/githubflow-server/internal/infrastructure/dbosworkflows"
	gh "github.com/githubflow/githubflow-server/internal/infrastructure/github"
	"github.com/githubflow/githubflow-server/internal/infrastructure/goworkflows"
	"github.com/githubflow/githubflow-server/internal/infrastructure/kafkanotify"
	"github.com/githubflow/githubflow-server/internal/infrastructure/sqlite"
	"github.com/githubflow/githubflow-server/internal/infrastructure/syncworkflow"
	"github.com/githubflow/githubflow-server/internal/server"
	"github.com/githubflow/githubflow-server/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("githubflow-server", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	runRepo := &sqlite.RunRepo{DB: db}

	builds := &buildsvc.Client{
		BaseURL: cfg.Build.URL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Logger:  logger,
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create notifier: %v", err)
	}
	defer closeNotifier()

	jobs := domain.JobSet{
		Application:    jobSpec(cfg.Build.Application),
		Infrastructure: jobSpec(cfg.Build.Infrastructure),
		Deployment:     jobSpec(cfg.Build.Deployment),
	}

	wf := domain.NewPipelineWorkflow(builds, notifier, runRepo, jobs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, stopEngine, err := newRunner(ctx, cfg, wf)
	if err != nil {
		log.Fatalf("Failed to create workflow engine: %v", err)
	}
	defer stopEngine()

	if cfg.Registration.Endpoint != "" {
		registerWebhook(ctx, cfg, logger)
	}

	normalizer := &domain.Normalizer{
		Defaults: domain.DeploymentDefaults{
			ProductionHostname:   cfg.Deploy.Production.Hostname,
			ProductionCluster:    cfg.Deploy.Production.Cluster,
			ProductionNamespace:  cfg.Deploy.Production.Namespace,
			DevelopmentHostname:  cfg.Deploy.Development.Hostname,
			DevelopmentCluster:   cfg.Deploy.Development.Cluster,
			DevelopmentNamespace: cfg.Deploy.Development.Namespace,
		},
		Logger: logger,
	}

	trigger := &application.TriggerService{Runs: runRepo, Pipeline: runner}
	runs := &application.RunService{Runs: runRepo}

	srv := server.New(cfg.Server.Port, logger, normalizer, trigger, runs)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", slog.String("error", err.Error()))
		}
	case <-sigChan:
		logger.Info("shutdown signal received, stopping server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}
	// Fall through so the deferred closers run: notifier flush, engine
	// stop, tracer shutdown, database close.
}

func configPath() string {
	if path := os.Getenv("GITHUBFLOW_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func jobSpec(cfg config.JobConfig) domain.JobSpec {
	spec := domain.JobSpec{
		Project: cfg.Project,
		Role:    cfg.Role,
		Source: domain.SourceSpec{
			Type:     cfg.SourceType,
			Location: cfg.SourceLocation,
		},
	}
	if cfg.ArtifactBucket != "" {
		spec.Artifacts = &domain.ArtifactSpec{
			Bucket:     cfg.ArtifactBucket,
			Path:       cfg.ArtifactPath,
			PackageZip: true,
		}
	}
	return spec
}

// newNotifier prefers the Kafka producer; without brokers configured,
// notifications are written to the log instead.
func newNotifier(cfg *config.Config, logger *slog.Logger) (domain.Notifier, func(), error) {
	if cfg.Kafka.Brokers == "" {
		logger.Warn("no kafka brokers configured, logging notifications instead")
		return logNotifier{logger: logger}, func() {}, nil
	}
	producer, err := kafkanotify.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	if err != nil {
		return nil, nil, err
	}
	return producer, producer.Close, nil
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Publish(_ context.Context, event domain.NotificationEvent) error {
	n.logger.Info("pipeline notification",
		slog.String("status", string(event.Status)),
		slog.String("commit", event.Webhook.Commit.ID))
	return nil
}

func newRunner(ctx context.Context, cfg *config.Config, wf *domain.PipelineWorkflow) (domain.PipelineRunner, func(), error) {
	switch cfg.Engine.Backend {
	case "sync":
		engine := &syncworkflow.Engine{}
		runner, err := engine.PipelineRunner(wf)
		return runner, func() {}, err

	case "goworkflows":
		b := wfsqlite.NewSqliteBackend(cfg.Database.Path + "-workflows")
		w := worker.New(b, nil)
		engine := &goworkflows.Engine{Worker: w, Client: client.New(b)}
		runner, err := engine.PipelineRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start worker: %w", err)
		}
		stop := func() { _ = w.WaitForCompletion() }
		return runner, stop, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "githubflow-server",
			DatabaseURL: os.Getenv("DBOS_DATABASE_URL"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dbos context: %w", err)
		}
		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.PipelineRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("dbos launch: %w", err)
		}
		stop := func() { dbos.Shutdown(dbosCtx, 5*time.Second) }
		return runner, stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

// registerWebhook ensures the source-control host delivers events to
// this server. Failures are logged; delivery registration is not a
// startup precondition.
func registerWebhook(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	gc := &gh.Client{
		BaseURL: cfg.Registration.APIURL,
		Token:   cfg.Registration.Token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Logger:  logger,
	}
	reg, err := gc.Reconcile(ctx, gh.ReconcileRequest{
		Type:       gh.RequestCreate,
		Owner:      cfg.Registration.Owner,
		Repository: cfg.Registration.Repository,
		Endpoint:   cfg.Registration.Endpoint,
		Events:     cfg.Registration.Events,
	})
	if err != nil {
		logger.Warn("webhook registration failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("webhook registered",
		slog.String("repository", reg.Owner+"/"+reg.Repository),
		slog.Int64("id", reg.ID))
}
