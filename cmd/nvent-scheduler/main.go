package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

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

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting nvent-scheduler")

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

	sched := scheduler.New(scheduler.Config{Store: st, Logger: logger})

	metrics := telemetry.NewMetrics("scheduler")

	awaitMgr := await.New(fb, sched, logger)
	awaitMgr.RegisterHandlers()
	awaitMgr.SetMetrics(metrics)

	// Orchestrator здесь не Start()'уется — процессу нужен только его
	// StartFlow как реализация trigger.AutoStarter и await.RunCoordinator
	// для résolve'а await'ов, зарегистрированных этим же инстансом
	// Scheduler'а. Продвижение run'ов по DAG остаётся за nvent-orchestrator.
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

	triggerRT := trigger.New(st, fb, sched, logger)
	triggerRT.RegisterHandlers()
	triggerRT.SetAutoStarter(orch)
	triggerRT.SetMetrics(metrics)

	pool := st.Pool()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		for {
			select {
			case t := <-tk.C:
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Warn("advisory lock query failed", "error", err)
						continue
					}
					hasLock = ok
					if hasLock {
						logger.Info("became scheduler leader")
					}
				}
				if !hasLock {
					continue
				}
				if err := sched.Tick(ctx, t); err != nil {
					logger.Error("scheduler tick failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	addr := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
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
	logger.Info("nvent-scheduler stopped")
}
