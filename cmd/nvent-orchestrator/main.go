package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/nvent/internal/await"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/manifest"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/orchestrator"
	"github.com/shaiso/nvent/internal/scheduler"
	"github.com/shaiso/nvent/internal/stall"
	"github.com/shaiso/nvent/internal/store"
	"github.com/shaiso/nvent/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting nvent-orchestrator")

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

	metrics := telemetry.NewMetrics("orchestrator")

	awaitMgr := await.New(fb, sched, logger)
	awaitMgr.RegisterHandlers()
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

	detector := stall.New(stall.Config{
		Store:  st,
		Marker: orch,
		Flows:  registry,
		Stats:  orch,
		Logger: logger,
	})
	if err := detector.Recover(ctx); err != nil {
		logger.Error("stall recovery sweep failed", "error", err)
	}
	go detector.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		addr = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	orch.Stop()
	logger.Info("nvent-orchestrator stopped")
}
