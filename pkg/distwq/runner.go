package distwq

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/substrate"
)

// RunnerConfig is the configuration surface spec.md §4.5 names.
type RunnerConfig struct {
	ModuleName      string
	Verbose         bool
	SpawnWorkers    bool
	NprocsPerWorker int
	BrokerIsWorker  bool

	// ListenAddr is the address the controller listens on for worker/broker
	// connections; workers and brokers read the address to dial from
	// DISTWQ_PARENT_ADDR when spawned, or from this field otherwise.
	ListenAddr string
	// BrokerListenAddr is the address a broker listens on for its own
	// spawned sub-group; only meaningful in broker mode.
	BrokerListenAddr string
	// ExecutablePath is re-exec'd to spawn children; defaults to os.Args[0].
	ExecutablePath string
}

func (cfg RunnerConfig) validate() error {
	if cfg.SpawnWorkers && cfg.NprocsPerWorker == 1 && cfg.BrokerIsWorker {
		return &ConfigInvalidError{Reason: "spawn_workers with nprocs_per_worker=1 and broker_is_worker is inconsistent: the broker would be the only sub-group member and also count itself twice"}
	}
	if cfg.NprocsPerWorker < 1 {
		return &ConfigInvalidError{Reason: "nprocs_per_worker must be >= 1"}
	}
	return nil
}

// ControllerMain is the user's entry point invoked once the controller is
// ready; it returns when the run is complete and Runner will call Exit.
type ControllerMain func(ctx context.Context, c *Controller) error

// WorkerInit optionally runs once before a worker/broker/collective-worker
// enters its serve loop, to let the user register callables.
type WorkerInit func(registry *Registry)

// Run is the bootstrap entry point: it classifies this process's role from
// the substrate and spawn environment and drives the matching loop
// (spec.md §4.5). The role replaces the module-level is_controller/
// is_worker/spawned globals and is passed down as plain arguments; no
// Bootstrap record is built.
func Run(ctx context.Context, cfg RunnerConfig, size int, registry *Registry, log logger.Logger, initWorker WorkerInit, mainFn ControllerMain) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.ExecutablePath == "" {
		cfg.ExecutablePath = os.Args[0]
	}

	if spawnArgs, spawned := substrate.SpawnedFromEnv(); spawned {
		return runCollectiveWorker(ctx, cfg, spawnArgs, registry, log, initWorker)
	}

	if size <= 1 {
		return runSingleProcess(ctx, registry, log, mainFn)
	}

	if cfg.SpawnWorkers {
		return runBroker(ctx, cfg, registry, log, initWorker, mainFn)
	}

	return runDispatch(ctx, cfg, size, registry, log, initWorker, mainFn)
}

// runDispatch is the common controller(rank 0)/plain-worker(rank>0) split
// used when this process is part of the flat communicator (no spawn).
func runDispatch(ctx context.Context, cfg RunnerConfig, size int, registry *Registry, log logger.Logger, initWorker WorkerInit, mainFn ControllerMain) error {
	rank, err := rankFromEnv()
	if err != nil {
		return err
	}

	if rank == 0 {
		return runController(ctx, cfg, size, log, mainFn)
	}

	comm, err := substrate.NewWorkerComm(cfg.ListenAddr, rank, size)
	if err != nil {
		return err
	}
	defer comm.Close()

	if initWorker != nil {
		initWorker(registry)
	}
	worker := NewWorker(comm, registry, log)
	return worker.Serve(ctx)
}

func runController(ctx context.Context, cfg RunnerConfig, size int, log logger.Logger, mainFn ControllerMain) error {
	comm, ready, err := substrate.NewControllerComm(cfg.ListenAddr, size)
	if err != nil {
		return err
	}
	defer comm.Close()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	controller := NewController(comm, NewRegistry(), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			controller.Abort(fmt.Errorf("distwq: interrupted"))
		case <-ctx.Done():
		}
	}()

	if err := mainFn(ctx, controller); err != nil {
		return err
	}
	return controller.Exit(ctx)
}

// runSingleProcess handles substrate-unavailable / size==1: a degenerate
// controller that resolves and invokes in-line for every submission.
func runSingleProcess(ctx context.Context, registry *Registry, log logger.Logger, mainFn ControllerMain) error {
	comm := newLoopbackComm()
	controller := NewController(comm, registry, log)
	if err := mainFn(ctx, controller); err != nil {
		return err
	}
	return controller.Exit(ctx)
}

// runBroker spawns nprocs_per_worker children (nprocs_per_worker-1 when
// broker_is_worker) and instantiates a CollectiveBroker fronting them.
func runBroker(ctx context.Context, cfg RunnerConfig, registry *Registry, log logger.Logger, initWorker WorkerInit, mainFn ControllerMain) error {
	rank, err := rankFromEnv()
	if err != nil {
		return err
	}
	if rank == 0 {
		return runController(ctx, cfg, 2, log, mainFn) // controller side is unchanged by spawn mode
	}

	controllerComm, err := substrate.NewWorkerComm(cfg.ListenAddr, rank, 2)
	if err != nil {
		return err
	}
	defer controllerComm.Close()

	nChildren := cfg.NprocsPerWorker
	if cfg.BrokerIsWorker {
		nChildren--
	}
	subGroupSize := nChildren + 1 // + the broker itself at rank 0

	merged, ready, err := substrate.NewMergedBroker(cfg.BrokerListenAddr, subGroupSize)
	if err != nil {
		return err
	}
	defer merged.Close()

	for i := 1; i <= nChildren; i++ {
		if _, err := substrate.Spawn(substrate.SpawnArgs{
			Path:       cfg.ExecutablePath,
			ParentAddr: cfg.BrokerListenAddr,
			Rank:       i,
			Size:       subGroupSize,
			Verbose:    cfg.Verbose,
		}); err != nil {
			return fmt.Errorf("distwq: spawn child %d: %w", i, err)
		}
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if initWorker != nil {
		initWorker(registry)
	}

	broker := NewCollectiveBroker(controllerComm, merged, registry, log, cfg.BrokerIsWorker)
	return broker.Serve(ctx)
}

// runCollectiveWorker is entered by a child process Spawn started; it dials
// its broker's sub-group listener and serves until the exit sentinel.
func runCollectiveWorker(ctx context.Context, cfg RunnerConfig, spawnArgs substrate.SpawnArgs, registry *Registry, log logger.Logger, initWorker WorkerInit) error {
	merged, err := substrate.NewMergedWorker(spawnArgs.ParentAddr, spawnArgs.Rank, spawnArgs.Size)
	if err != nil {
		return err
	}
	defer merged.Close()

	if initWorker != nil {
		initWorker(registry)
	}

	cw := NewCollectiveWorker(merged, registry, log)
	return cw.Serve(ctx)
}

func rankFromEnv() (int, error) {
	rankStr := os.Getenv(substrate.EnvRank)
	if rankStr == "" {
		return 0, nil
	}
	var rank int
	if _, err := fmt.Sscanf(rankStr, "%d", &rank); err != nil {
		return 0, &ConfigInvalidError{Reason: "malformed " + substrate.EnvRank}
	}
	return rank, nil
}

// newLoopbackComm returns a Comm of size 1 used only to satisfy
// Controller's constructor in single-process mode; its Send/Recv/IProbe are
// never exercised because hasWorkers() is false whenever Size()==1.
func newLoopbackComm() substrate.Comm {
	return &loopbackComm{}
}

type loopbackComm struct{}

func (loopbackComm) Rank() int { return 0 }
func (loopbackComm) Size() int { return 1 }
func (loopbackComm) Send(int, substrate.MessageTag, interface{}) error { return nil }
func (loopbackComm) Recv(ctx context.Context) (substrate.Envelope, error) {
	<-ctx.Done()
	return substrate.Envelope{}, ctx.Err()
}
func (loopbackComm) IProbe() (substrate.Envelope, error) { return substrate.Envelope{}, substrate.ErrNoMessage }
func (loopbackComm) Abort(error)                         {}
func (loopbackComm) Close() error                        { return nil }
