package distwq

import (
	"context"
	"fmt"
	"time"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/platform/telemetry"
	"github.com/distwq/distwq/internal/substrate"
)

// workerState is the Worker's explicit state machine (spec.md §4.2).
type workerState int

const (
	stateAnnouncing workerState = iota
	statePolling
)

// Worker is a single-rank serve loop: it advertises readiness, waits for a
// task from the controller, executes it, and reports back.
type Worker struct {
	comm       substrate.Comm
	registry   *Registry
	log        logger.Logger
	backoff    *substrate.Backoff
	rank       int
	nProcessed int64
	startTime  time.Time
}

// NewWorker builds a Worker bound to comm (rank != 0).
func NewWorker(comm substrate.Comm, registry *Registry, log logger.Logger) *Worker {
	return &Worker{
		comm:      comm,
		registry:  registry,
		log:       log,
		backoff:   substrate.NewBackoff(),
		rank:      comm.Rank(),
		startTime: time.Now(),
	}
}

// Serve runs the Announcing/Polling/Executing loop until an EXIT message
// terminates it or ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	state := stateAnnouncing
	for {
		switch state {
		case stateAnnouncing:
			if err := w.comm.Send(0, substrate.TagReady, nil); err != nil {
				return fmt.Errorf("distwq: worker %d announce: %w", w.rank, err)
			}
			state = statePolling

		case statePolling:
			env, err := w.comm.IProbe()
			if err == substrate.ErrNoMessage {
				select {
				case <-time.After(time.Duration(w.backoff.Next())):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			if err != nil {
				return err
			}
			w.backoff.Reset()

			switch env.Tag {
			case substrate.TagTask:
				var task taskPayload
				if err := substrate.DecodePayload(env, &task); err != nil {
					return err
				}
				if err := w.execute(ctx, task); err != nil {
					return err
				}
				state = stateAnnouncing
			case substrate.TagExit:
				return nil
			default:
				return &ProtocolViolationError{Reason: fmt.Sprintf("worker %d: unexpected tag %s", w.rank, env.Tag)}
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, task taskPayload) error {
	spanCtx := telemetry.ExtractTraceState(ctx, task.TraceState)
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		spanCtx, cancel = context.WithTimeout(spanCtx, time.Duration(task.Timeout*float64(time.Second)))
		defer cancel()
	}
	_, span := tracer.Start(spanCtx, "distwq.worker.execute")
	defer span.End()

	fn, err := w.registry.Resolve(task.Module, task.Symbol)
	if err != nil {
		return &UserFailureError{TaskID: task.TaskID, Cause: err}
	}

	start := time.Now()
	value, err := fn(task.Args, task.Kwargs)
	if err != nil {
		return &UserFailureError{TaskID: task.TaskID, Cause: err}
	}
	elapsed := time.Since(start).Seconds()

	if spanCtx.Err() != nil && w.log != nil {
		w.log.Warn("worker: task exceeded timeout", "rank", w.rank, "task_id", task.TaskID, "timeout", task.Timeout, "elapsed", elapsed)
	}

	w.nProcessed++
	st := Stats{
		TaskID:      task.TaskID,
		Rank:        w.rank,
		ThisTime:    elapsed,
		TimeOverEst: elapsed / task.TimeEst,
		NProcessed:  w.nProcessed,
		TotalTime:   time.Since(w.startTime).Seconds(),
		HostLoad:    SampleHostLoad(),
	}

	done := donePayload{TaskID: task.TaskID, Value: value, Stats: st}
	return w.comm.Send(0, substrate.TagDone, done)
}
