package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/handler"
	"github.com/shaiso/nvent/internal/manifest"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/store"
	"github.com/shaiso/nvent/internal/telemetry"
)

const queueDepthPollInterval = 15 * time.Second

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting nvent-handler")

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

	manifestPath := os.Getenv("MANIFEST_PATH")
	if manifestPath == "" {
		manifestPath = "manifest.json"
	}
	doc, err := manifest.Load(manifestPath)
	if err != nil {
		logger.Error("failed to load manifest", "path", manifestPath, "error", err)
		os.Exit(1)
	}
	queues := doc.Queues()
	logger.Info("manifest loaded", "path", manifestPath, "queues", queues)

	metrics := telemetry.NewMetrics("handler")

	runner := handler.New(handler.Config{
		Conn:     mqConn,
		Fabric:   fb,
		Registry: handler.DefaultRegistry(),
		Queues:   queues,
		Logger:   logger,
	})
	if err := runner.Start(ctx); err != nil {
		logger.Error("failed to start handler runner", "error", err)
		os.Exit(1)
	}

	declared := make([]mq.Queue, 0, len(queues))
	for _, q := range queues {
		declared = append(declared, mq.Queue("nvent.jobs."+q))
	}
	go func() {
		tk := time.NewTicker(queueDepthPollInterval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				for _, q := range declared {
					depth, err := mq.InspectQueueDepth(ctx, mqConn, q)
					if err != nil {
						logger.Warn("failed to inspect queue depth", "queue", q, "error", err)
						continue
					}
					metrics.QueueDepth.WithLabelValues(string(q)).Set(float64(depth))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8082"
	if v := os.Getenv("HANDLER_PORT"); v != "" {
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
	runner.Stop()
	logger.Info("nvent-handler stopped")
}
