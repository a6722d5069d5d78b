// Command distwqd is a runnable driver for the distwq runtime: it wires the
// ambient stack (config, logging, optional status HTTP surface) around
// pkg/distwq.Run and submits a small batch of example calls, mirroring the
// reference distwq.py example's controller main loop.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/distwq/distwq/internal/platform/config"
	"github.com/distwq/distwq/internal/platform/database"
	"github.com/distwq/distwq/internal/platform/health"
	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/platform/messaging/kafka"
	"github.com/distwq/distwq/internal/platform/metrics"
	"github.com/distwq/distwq/internal/platform/status"
	"github.com/distwq/distwq/internal/platform/telemetry"
	"github.com/distwq/distwq/internal/shared/events"
	"github.com/distwq/distwq/internal/stats"
	"github.com/distwq/distwq/internal/substrate"
	"github.com/distwq/distwq/pkg/distwq"
)

const exampleModule = "distwqd/example"

// controllerSlot satisfies status.InfoSource before the controller exists,
// so the status server can start listening before the run loop classifies
// this process's role.
type controllerSlot struct {
	ptr atomic.Pointer[distwq.Controller]
}

func (s *controllerSlot) set(c *distwq.Controller) { s.ptr.Store(c) }

func (s *controllerSlot) Info() distwq.RunStats {
	if c := s.ptr.Load(); c != nil {
		return c.Info()
	}
	return distwq.RunStats{}
}

func main() {
	cfg, err := config.Load("distwqd")
	if err != nil {
		fmt.Fprintln(os.Stderr, "distwqd: load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger)

	runnerCfg := runnerConfigFromEnv(cfg)
	if err := distwq.ValidateRunnerConfig(runnerCfg); err != nil {
		log.Fatal("distwqd: invalid runner config", "error", err)
	}

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		log.Error("distwqd: telemetry init failed, continuing without it", "error", err)
	} else {
		defer tel.Close()
	}

	registry := distwq.NewRegistry()
	registry.Register(exampleModule, "do_work", doWork)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	slot := &controllerSlot{}
	httpSrv := startStatusServer(cfg, log, slot)
	if httpSrv != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	repo := statsRepository(cfg, log)
	publisher := eventPublisher(cfg, log)
	if publisher != nil {
		defer publisher.Close()
	}
	runID := uuid.New().String()

	err = distwq.Run(ctx, runnerCfg, size(), registry, log,
		func(r *distwq.Registry) { r.Register(exampleModule, "do_work", doWork) },
		func(ctx context.Context, c *distwq.Controller) error {
			slot.set(c)

			reporter := stats.NewReporter(repo, log, runID)
			if err := reporter.Start(ctx, c, cfg.Stats.ReportInterval); err != nil {
				log.Error("distwqd: stats reporter not started", "error", err)
			} else {
				defer reporter.Stop()
			}

			publishEvent(ctx, publisher, events.RunStarted, runID, "run", nil)
			runErr := runExample(ctx, c, log, publisher)
			rs := c.Info()
			var totalProcessed int64
			for _, n := range rs.NProcessed {
				totalProcessed += n
			}
			publishEvent(ctx, publisher, events.RunExited, runID, "run", events.RunExitedData{
				NProcessed: totalProcessed,
				Elapsed:    rs.Elapsed,
			})
			return runErr
		},
	)
	if err != nil {
		log.Fatal("distwqd: run failed", "error", err)
	}
}

// statsRepository selects a stats.Repository backend per cfg.Stats.Backend,
// falling back to the zero-dependency in-memory repository on connection
// failure so a missing Postgres/Redis instance never blocks a local run.
func statsRepository(cfg *config.Config, log logger.Logger) stats.Repository {
	switch cfg.Stats.Backend {
	case "postgres":
		db, err := database.NewGorm(cfg.Database)
		if err != nil {
			log.Error("distwqd: postgres stats repository unavailable, falling back to memory", "error", err)
			break
		}
		repo, err := stats.NewPostgresRepository(db)
		if err != nil {
			log.Error("distwqd: postgres stats migration failed, falling back to memory", "error", err)
			break
		}
		return repo
	case "redis":
		client, err := database.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Error("distwqd: redis stats repository unavailable, falling back to memory", "error", err)
			break
		}
		return stats.NewRedisRepository(client, 200)
	}
	return stats.NewInMemoryRepository()
}

// eventPublisher builds the Kafka lifecycle-event publisher when enabled,
// returning nil (a no-op for publishEvent) otherwise.
func eventPublisher(cfg *config.Config, log logger.Logger) *kafka.EventPublisher {
	if !cfg.Stats.PublishEvents {
		return nil
	}
	publisher, err := kafka.NewEventPublisher(&kafka.Config{Brokers: cfg.Kafka.Brokers}, log)
	if err != nil {
		log.Error("distwqd: kafka publisher unavailable, continuing without event publication", "error", err)
		return nil
	}
	return publisher
}

// publishEvent is a nil-safe wrapper so callers don't have to guard every
// call site on whether event publication is enabled.
func publishEvent(ctx context.Context, publisher *kafka.EventPublisher, eventType events.EventType, aggregateID, aggregateType string, data interface{}) {
	if publisher == nil {
		return
	}
	ev, err := events.NewEvent(eventType, aggregateID, aggregateType, data)
	if err != nil {
		return
	}
	_ = publisher.Publish(ctx, ev)
}

// runExample submits a handful of example calls, drains their results and
// logs a run summary, the Go analogue of example_distwq.py's
// main(controller). The individual result values are not printed.
func runExample(ctx context.Context, c *distwq.Controller, log logger.Logger, publisher *kafka.EventPublisher) error {
	const n = 5
	ids := make([]distwq.TaskID, 0, n)
	for i := 1; i <= n; i++ {
		id, err := c.SubmitCall(ctx, exampleModule, "do_work", []interface{}{i}, nil, 1.0, nil)
		if err != nil {
			return fmt.Errorf("distwqd: submit: %w", err)
		}
		ids = append(ids, id)
		publishEvent(ctx, publisher, events.TaskSubmitted, fmt.Sprintf("%d", id), "task", nil)
	}

	for range ids {
		id, _, ok, err := c.GetNextResult(ctx)
		if err != nil {
			return fmt.Errorf("distwqd: get result: %w", err)
		}
		if !ok {
			break
		}
		publishEvent(ctx, publisher, events.TaskCompleted, fmt.Sprintf("%d", id), "task", nil)
	}

	rs := c.Info()
	log.Info("distwqd: run complete", "n_processed", rs.NProcessed, "mean_time_over_est", rs.Mean, "elapsed", rs.Elapsed)
	return nil
}

// doWork is a placeholder callable standing in for the reference example's
// signal-processing workload; real deployments register their own symbols.
func doWork(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	return args, nil
}

func runnerConfigFromEnv(cfg *config.Config) distwq.RunnerConfig {
	return distwq.RunnerConfig{
		ModuleName:      cfg.Runner.ModuleName,
		Verbose:         cfg.Runner.Verbose,
		SpawnWorkers:    cfg.Runner.SpawnWorkers,
		NprocsPerWorker: cfg.Runner.NprocsPerWorker,
		BrokerIsWorker:  cfg.Runner.BrokerIsWorker,
		ListenAddr:      cfg.Runner.ListenAddr,
	}
}

// size reads the flat-communicator size from DISTWQ_SIZE; distwqd is always
// launched once per rank by an external job launcher, matching how the
// reference distwq.py relies on mpi4py's COMM_WORLD size rather than
// spawning its own flat peers.
func size() int {
	if v := os.Getenv(substrate.EnvSize); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// startStatusServer starts the controller's optional status HTTP surface.
// Only rank 0 (or single-process mode) serves it; workers/brokers never
// bind it. Returns nil when DISTWQ_RANK names a non-zero rank, which
// includes spawned collective workers (Spawn sets it); with DISTWQ_RANK
// unset the process is treated as rank 0 and serves.
func startStatusServer(cfg *config.Config, log logger.Logger, slot *controllerSlot) *http.Server {
	if v := os.Getenv(substrate.EnvRank); v != "" && v != "0" {
		return nil
	}

	h := health.NewHandler("distwqd", cfg.Version)
	m := metrics.NewMetrics("distwq")
	router := status.NewRouter(h, m, slot)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := status.NewServer(addr, router)

	go func() {
		log.Info("distwqd: status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("distwqd: status server error", "error", err)
		}
	}()

	return srv
}
