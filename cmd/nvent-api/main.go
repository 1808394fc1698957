package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/nvent/internal/api"
	"github.com/shaiso/nvent/internal/await"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/manifest"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/orchestrator"
	"github.com/shaiso/nvent/internal/scheduler"
	"github.com/shaiso/nvent/internal/store"
	"github.com/shaiso/nvent/internal/telemetry"
	"github.com/shaiso/nvent/internal/trigger"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting nvent-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("database connected")

	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	if err := mq.DeclareCoreTopology(ctx, mqConn); err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected")
	publisher := mq.NewPublisher(mqConn, logger)

	fb := fabric.New(st, publisher, logger)

	registry := orchestrator.NewRegistry()
	manifestPath := os.Getenv("MANIFEST_PATH")
	if manifestPath == "" {
		manifestPath = "manifest.json"
	}
	doc, err := manifest.Load(manifestPath)
	if err != nil {
		logger.Error("failed to load manifest", "path", manifestPath, "error", err)
		os.Exit(1)
	}
	if err := doc.Hydrate(registry); err != nil {
		logger.Error("failed to hydrate registry from manifest", "error", err)
		os.Exit(1)
	}
	logger.Info("manifest loaded", "path", manifestPath, "flows", registry.FlowNames())

	sched := scheduler.New(scheduler.Config{Store: st, Logger: logger})

	metrics := telemetry.NewMetrics("api")

	awaitMgr := await.New(fb, sched, logger)
	awaitMgr.SetMetrics(metrics)

	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Fabric:   fb,
		Registry: registry,
		AwaitMgr: awaitMgr,
		MQConn:   mqConn,
		MQPub:    publisher,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Stop()

	triggerRT := trigger.New(st, fb, sched, logger)
	triggerRT.SetAutoStarter(orch)
	triggerRT.SetMetrics(metrics)

	handler := api.NewHandler(api.Config{
		Fabric:    fb,
		Registry:  registry,
		Orch:      orch,
		AwaitMgr:  awaitMgr,
		TriggerRT: triggerRT,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		metrics.HTTPRequestsTotal.Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("nvent-api stopped")
}
