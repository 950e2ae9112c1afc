package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	evhandler "grc/internal/events/handler"
	"grc/internal/events/jira"
	evmetrics "grc/internal/events/metrics"
	evservice "grc/internal/events/service"
	evstore "grc/internal/events/store"
	lchandler "grc/internal/lifecycle/handler"
	lcmetrics "grc/internal/lifecycle/metrics"
	lcservice "grc/internal/lifecycle/service"
	lcstore "grc/internal/lifecycle/store"
	"grc/internal/notification/email"
	nhandler "grc/internal/notification/handler"
	nservice "grc/internal/notification/service"
	nstore "grc/internal/notification/store"
	"grc/internal/platform/config"
	"grc/internal/platform/database"
	"grc/internal/platform/httpserver"
	"grc/internal/platform/kafka"
	"grc/internal/platform/logger"
	"grc/internal/platform/metrics"
	"grc/internal/platform/redis"
	qstore "grc/internal/questionnaire/store"
	"grc/internal/risk"
	"grc/internal/storage"
	httptransport "grc/internal/transport/http"
	"grc/internal/users"
	userstore "grc/internal/users/store"
	"grc/internal/versions"
	verhandler "grc/internal/versions/handler"
	verstore "grc/internal/versions/store"
	"grc/internal/workflow/adapters"
	wfhandler "grc/internal/workflow/handler"
	wfmetrics "grc/internal/workflow/metrics"
	wfservice "grc/internal/workflow/service"
	wfstore "grc/internal/workflow/store"
	audit "grc/pkg/platform/audit"
	auditpublisher "grc/pkg/platform/audit/publisher"
	auditmemory "grc/pkg/platform/audit/store/memory"
	auditpostgres "grc/pkg/platform/audit/store/postgres"
	"grc/pkg/platform/audit/worker"
	"grc/pkg/platform/middleware/auth"
	txcontext "grc/pkg/platform/tx"
)

const (
	shutdownTimeout   = 30 * time.Second
	topicPartitions   = 3
	topicReplication  = 1
	localStorageURL   = "http://localhost:8080/files"
	defaultLinkWorker = 8
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the audit outbox relays",
	RunE:  runServe,
}

// backing holds the store implementations for one run: Postgres when both
// database URLs are set, otherwise in-memory stores sharing one transaction
// runner.
type backing struct {
	workflows      workflowStore
	versions       versions.Store
	lifecycle      lcservice.Store
	questionnaires questionnaireStore
	events         evservice.Store
	users          users.Store

	vendorTx  txcontext.Runner
	primaryTx txcontext.Runner

	vendorAudit  auditSink
	primaryAudit auditSink

	health []httptransport.HealthCheck
	close  func() error
}

// auditSink is an outbox store: the services append, the relay drains.
type auditSink interface {
	audit.Store
	audit.Outbox
}

// workflowStore also answers the version service's approval lookups.
type workflowStore interface {
	wfservice.Store
	versions.Approvals
}

// questionnaireStore is served by both the scoring engine and the lifecycle
// vendor resolver.
type questionnaireStore interface {
	wfservice.Questionnaires
	lcservice.Questionnaires
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx := cmd.Context()

	b, err := openBacking(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Warn("close databases", "error", err)
		}
	}()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var inbox nservice.Inbox = nstore.NewInMemoryRing(cfg.Notification.RingSize)
	if rdb != nil {
		defer rdb.Close()
		inbox = nstore.NewRedisRing(rdb.Client, cfg.Notification.RingSize)
		b.health = append(b.health, httptransport.HealthCheck{Name: "redis", Check: rdb.Health})
	}

	producer, err := kafka.New(cfg.Kafka, log)
	if err != nil {
		return err
	}
	notifyOpts := []nservice.Option{nservice.WithLogger(log)}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopics(ctx, topicPartitions, topicReplication); err != nil {
			log.WarnContext(ctx, "kafka topics not ensured", "error", err)
		}
		notifyOpts = append(notifyOpts, nservice.WithEmail(email.NewKafkaDispatcher(producer)))
		b.health = append(b.health, httptransport.HealthCheck{Name: "kafka", Check: producer.Health})
	}
	notifier := nservice.New(inbox, notifyOpts...)

	directory := users.NewDirectory(b.users, log)

	vendorAudit := auditpublisher.NewPublisher(b.vendorAudit, auditpublisher.WithLogger(log))
	primaryAudit := auditpublisher.NewPublisher(b.primaryAudit, auditpublisher.WithLogger(log))

	verSvc := versions.NewService(b.versions, b.workflows, b.vendorTx,
		versions.WithLogger(log),
		versions.WithAuditPublisher(vendorAudit),
	)
	lcSvc := lcservice.New(b.lifecycle, b.vendorTx, b.questionnaires,
		lcservice.WithLogger(log),
		lcservice.WithMetrics(lcmetrics.New()),
		lcservice.WithAuditPublisher(vendorAudit),
	)

	wfOpts := []wfservice.Option{
		wfservice.WithLogger(log),
		wfservice.WithMetrics(wfmetrics.New()),
		wfservice.WithQuestionnaires(b.questionnaires),
		wfservice.WithLifecycle(adapters.NewLifecycle(lcSvc)),
		wfservice.WithNotifier(notifier),
		wfservice.WithDirectory(directory),
		wfservice.WithAuditPublisher(vendorAudit),
	}
	var riskSvc *risk.Service
	if cfg.Integrations.RiskServiceURL != "" {
		client := risk.NewClient(cfg.Integrations.RiskServiceURL, cfg.Integrations.HTTPTimeout, risk.WithClientLogger(log))
		riskSvc = risk.NewService(client, risk.WithLogger(log))
		wfOpts = append(wfOpts, wfservice.WithRiskTrigger(riskSvc))
	}
	wfSvc := wfservice.New(b.workflows, verSvc, b.vendorTx, wfOpts...)

	files := storage.NewInMemory(localStorageURL)
	b.health = append(b.health, httptransport.HealthCheck{Name: "storage", Check: files.TestConnection})
	evOpts := []evservice.Option{
		evservice.WithLogger(log),
		evservice.WithMetrics(evmetrics.New()),
		evservice.WithAuditPublisher(primaryAudit),
		evservice.WithStorage(files),
		evservice.WithNotifier(notifier),
		evservice.WithDirectory(directory),
		evservice.WithLinkConcurrency(defaultLinkWorker),
	}
	if cfg.Integrations.JiraBaseURL != "" {
		evOpts = append(evOpts, evservice.WithJira(jira.New(
			cfg.Integrations.JiraBaseURL, cfg.Integrations.JiraToken, cfg.Integrations.HTTPTimeout,
			jira.WithLogger(log),
		)))
	}
	evSvc := evservice.New(b.events, b.primaryTx, evOpts...)

	router := httptransport.NewRouter(httptransport.Config{
		Logger:    log,
		Validator: auth.NewHMACValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer),
		Metrics:   metrics.NewHTTP(),
		Health:    b.health,
		Modules: []httptransport.Module{
			wfhandler.New(wfSvc, log),
			verhandler.New(verSvc, log),
			lchandler.New(lcSvc, log),
			evhandler.New(evSvc, log),
			nhandler.New(notifier, log),
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting grc server", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if producer != nil {
		topic := producer.Topic(kafka.TopicAudit)
		for _, relay := range relays(b, producer, topic, cfg.Outbox, log) {
			g.Go(func() error {
				if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if riskSvc != nil {
			if err := riskSvc.Wait(shutdownCtx); err != nil {
				log.Warn("risk generation still running at shutdown", "error", err)
			}
		}
		return nil
	})
	return g.Wait()
}

// relays returns one outbox relay per distinct audit store. In-memory runs
// share a single store between both pools.
func relays(b *backing, sink worker.Sink, topic string, cfg config.Outbox, log *slog.Logger) []*worker.Relay {
	out := []*worker.Relay{worker.NewRelay(b.vendorAudit, sink, topic, cfg.PollInterval, cfg.BatchSize, log)}
	if b.primaryAudit != b.vendorAudit {
		out = append(out, worker.NewRelay(b.primaryAudit, sink, topic, cfg.PollInterval, cfg.BatchSize, log))
	}
	return out
}

func openBacking(ctx context.Context, cfg config.Config, log *slog.Logger) (*backing, error) {
	if !cfg.Database.HasDatabase() {
		log.WarnContext(ctx, "no database configured, using in-memory stores")
		return memoryBacking(), nil
	}

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	var cipher *users.FieldCipher
	if len(cfg.Security.PIIKey) > 0 {
		if cipher, err = users.NewFieldCipher(cfg.Security.PIIKey); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	vendor, primary := db.Vendor(), db.Primary()
	return &backing{
		workflows:      wfstore.NewPostgres(vendor),
		versions:       verstore.NewPostgres(vendor),
		lifecycle:      lcstore.NewPostgres(vendor),
		questionnaires: qstore.NewPostgres(vendor),
		events:         evstore.NewPostgres(primary),
		users:          userstore.NewPostgres(primary, cipher),
		vendorTx:       db.Runner(txcontext.PoolVendor),
		primaryTx:      db.Runner(txcontext.PoolPrimary),
		vendorAudit:    auditpostgres.New(vendor, txcontext.PoolVendor),
		primaryAudit:   auditpostgres.New(primary, txcontext.PoolPrimary),
		health: []httptransport.HealthCheck{
			{Name: "primary", Check: primary.PingContext},
			{Name: "tprm", Check: vendor.PingContext},
		},
		close: db.Close,
	}, nil
}

func memoryBacking() *backing {
	workflows := wfstore.NewInMemoryStore()
	vers := verstore.NewInMemoryStore()
	lc := lcstore.NewInMemoryStore()
	questionnaires := qstore.NewInMemoryStore()
	evs := evstore.NewInMemoryStore()
	auditStore := auditmemory.NewInMemoryStore()
	runner := txcontext.NewInMemory(workflows, vers, lc, questionnaires, evs, auditStore)
	return &backing{
		workflows:      workflows,
		versions:       vers,
		lifecycle:      lc,
		questionnaires: questionnaires,
		events:         evs,
		users:          userstore.NewInMemoryStore(),
		vendorTx:       runner,
		primaryTx:      runner,
		vendorAudit:    auditStore,
		primaryAudit:   auditStore,
		close:          func() error { return nil },
	}
}
