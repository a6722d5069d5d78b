package distwq

import (
	"context"
	"time"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/substrate"
)

// exitSymbol is the sentinel symbol_name a broker scatters to signal
// shutdown to its sub-group (spec.md §4.3/§6).
const exitSymbol = "exit"

// gatherPayload is what each collective-worker rank contributes to a
// gather: a (value, stats) pair, or a zero value when the rank did not
// participate (see CollectiveBroker.broker_is_worker == false).
type gatherPayload struct {
	Value      interface{}
	Stats      Stats
	Participated bool
}

// CollectiveWorker runs on a spawned rank inside a broker's sub-group,
// receiving tasks via scatter and contributing results via gather, all
// bracketed by barriers (spec.md §4.3).
type CollectiveWorker struct {
	merged     *substrate.MergedComm
	registry   *Registry
	log        logger.Logger
	rank       int
	nProcessed int64
	startTime  time.Time
}

// NewCollectiveWorker builds a CollectiveWorker bound to the merged
// broker+sub-group communicator.
func NewCollectiveWorker(merged *substrate.MergedComm, registry *Registry, log logger.Logger) *CollectiveWorker {
	return &CollectiveWorker{merged: merged, registry: registry, log: log, rank: merged.Rank(), startTime: time.Now()}
}

// Serve runs the barrier/scatter/barrier/execute/barrier/gather/barrier loop
// until the broker scatters the exit sentinel.
func (w *CollectiveWorker) Serve(ctx context.Context) error {
	for {
		if err := substrate.Barrier(ctx, w.merged); err != nil {
			return err
		}

		raw, err := substrate.Scatter(ctx, w.merged, 0, nil)
		if err != nil {
			return err
		}
		var task taskPayload
		if err := substrate.DecodeBytes(raw.([]byte), &task); err != nil {
			return err
		}

		if err := substrate.Barrier(ctx, w.merged); err != nil {
			return err
		}

		if task.Symbol == exitSymbol {
			return w.merged.Close()
		}

		payload := w.execute(ctx, task)

		if err := substrate.Barrier(ctx, w.merged); err != nil {
			return err
		}
		if _, err := substrate.Gather(ctx, w.merged, 0, payload); err != nil {
			return err
		}
		if err := substrate.Barrier(ctx, w.merged); err != nil {
			return err
		}
	}
}

func (w *CollectiveWorker) execute(ctx context.Context, task taskPayload) gatherPayload {
	fn, err := w.registry.Resolve(task.Module, task.Symbol)
	if err != nil {
		if w.log != nil {
			w.log.Error("collective worker: symbol resolution failed", "rank", w.rank, "error", err)
		}
		return gatherPayload{}
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(task.Timeout*float64(time.Second)))
		defer cancel()
	}

	start := time.Now()
	value, err := fn(task.Args, task.Kwargs)
	if err != nil {
		if w.log != nil {
			w.log.Error("collective worker: callable failed", "rank", w.rank, "error", err)
		}
		return gatherPayload{}
	}
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil && w.log != nil {
		w.log.Warn("collective worker: task exceeded timeout", "rank", w.rank, "task_id", task.TaskID, "timeout", task.Timeout, "elapsed", elapsed)
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
	return gatherPayload{Value: value, Stats: st, Participated: true}
}
