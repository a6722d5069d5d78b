package distwq

import (
	"context"
	"fmt"
	"time"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/substrate"
)

// CollectiveBroker is a worker from the controller's viewpoint and a root
// from its spawned sub-group's viewpoint: it relays each TASK it receives
// to every sub-group rank via scatter, optionally executes it locally too,
// and gathers (value, stats) back into a single DONE for the controller
// (spec.md §4.4).
type CollectiveBroker struct {
	controller   substrate.Comm
	merged       *substrate.MergedComm
	registry     *Registry
	log          logger.Logger
	backoff      *substrate.Backoff
	brokerIsWorker bool
	subGroupSize int // includes the broker itself at rank 0
	nProcessed   int64
	startTime    time.Time
}

// NewCollectiveBroker builds a CollectiveBroker relaying between controller
// and merged (the broker's own sub-group communicator, broker at rank 0).
func NewCollectiveBroker(controller substrate.Comm, merged *substrate.MergedComm, registry *Registry, log logger.Logger, brokerIsWorker bool) *CollectiveBroker {
	return &CollectiveBroker{
		controller:     controller,
		merged:         merged,
		registry:       registry,
		log:            log,
		backoff:        substrate.NewBackoff(),
		brokerIsWorker: brokerIsWorker,
		subGroupSize:   merged.Size(),
		startTime:      time.Now(),
	}
}

// Serve runs the broker's READY/poll loop against the controller until an
// EXIT message arrives.
func (b *CollectiveBroker) Serve(ctx context.Context) error {
	for {
		if err := b.controller.Send(0, substrate.TagReady, nil); err != nil {
			return fmt.Errorf("distwq: broker announce: %w", err)
		}

		env, err := b.pollController(ctx)
		if err != nil {
			return err
		}

		switch env.Tag {
		case substrate.TagExit:
			if err := b.scatterExit(ctx); err != nil {
				return err
			}
			b.merged.Close()
			return nil

		case substrate.TagTask:
			var task taskPayload
			if err := substrate.DecodePayload(env, &task); err != nil {
				return err
			}
			if err := b.relay(ctx, task); err != nil {
				return err
			}

		default:
			return &ProtocolViolationError{Reason: fmt.Sprintf("broker: unexpected tag %s", env.Tag)}
		}
	}
}

func (b *CollectiveBroker) pollController(ctx context.Context) (substrate.Envelope, error) {
	for {
		env, err := b.controller.IProbe()
		if err == substrate.ErrNoMessage {
			select {
			case <-time.After(time.Duration(b.backoff.Next())):
				continue
			case <-ctx.Done():
				return substrate.Envelope{}, ctx.Err()
			}
		}
		if err != nil {
			return substrate.Envelope{}, err
		}
		b.backoff.Reset()
		return env, nil
	}
}

func (b *CollectiveBroker) scatterExit(ctx context.Context) error {
	if err := substrate.Barrier(ctx, b.merged); err != nil {
		return err
	}
	values := make([]interface{}, b.subGroupSize)
	for i := range values {
		values[i] = taskPayload{Symbol: exitSymbol}
	}
	if _, err := substrate.Scatter(ctx, b.merged, 0, values); err != nil {
		return err
	}
	return substrate.Barrier(ctx, b.merged)
}

// relay scatters task to every sub-group rank (including itself), optionally
// executes locally, gathers contributions, filters non-participants, and
// reports the straggler's stats to the controller as this broker's DONE.
func (b *CollectiveBroker) relay(ctx context.Context, task taskPayload) error {
	if !task.Mode.valid() {
		return &ProtocolViolationError{Reason: fmt.Sprintf("broker: unknown collective mode %s for task %d", task.Mode, task.TaskID)}
	}

	if err := substrate.Barrier(ctx, b.merged); err != nil {
		return err
	}

	values := make([]interface{}, b.subGroupSize)
	for i := range values {
		values[i] = task
	}
	if _, err := substrate.Scatter(ctx, b.merged, 0, values); err != nil {
		return err
	}

	if err := substrate.Barrier(ctx, b.merged); err != nil {
		return err
	}

	var own gatherPayload
	if b.brokerIsWorker {
		own = b.executeLocally(ctx, task)
	}

	if err := substrate.Barrier(ctx, b.merged); err != nil {
		return err
	}
	envs, err := substrate.Gather(ctx, b.merged, 0, own)
	if err != nil {
		return err
	}
	if err := substrate.Barrier(ctx, b.merged); err != nil {
		return err
	}

	values2 := make([]interface{}, 0, b.subGroupSize)
	var straggler Stats
	haveStraggler := false
	for rank, env := range envs {
		var contribution gatherPayload
		if rank == 0 {
			contribution = own
		} else {
			if err := substrate.DecodePayload(env, &contribution); err != nil {
				return err
			}
		}
		if !contribution.Participated {
			continue
		}
		values2 = append(values2, contribution.Value)
		if !haveStraggler || contribution.Stats.ThisTime > straggler.ThisTime {
			straggler = contribution.Stats
			haveStraggler = true
		}
	}

	done := donePayload{TaskID: task.TaskID, Value: values2, Stats: straggler}
	return b.controller.Send(0, substrate.TagDone, done)
}

func (b *CollectiveBroker) executeLocally(ctx context.Context, task taskPayload) gatherPayload {
	fn, err := b.registry.Resolve(task.Module, task.Symbol)
	if err != nil {
		if b.log != nil {
			b.log.Error("broker: symbol resolution failed", "error", err)
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
		if b.log != nil {
			b.log.Error("broker: callable failed", "error", err)
		}
		return gatherPayload{}
	}
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil && b.log != nil {
		b.log.Warn("broker: task exceeded timeout", "task_id", task.TaskID, "timeout", task.Timeout, "elapsed", elapsed)
	}

	b.nProcessed++
	st := Stats{
		TaskID:      task.TaskID,
		Rank:        0,
		ThisTime:    elapsed,
		TimeOverEst: elapsed / task.TimeEst,
		NProcessed:  b.nProcessed,
		TotalTime:   time.Since(b.startTime).Seconds(),
		HostLoad:    SampleHostLoad(),
	}
	return gatherPayload{Value: value, Stats: st, Participated: true}
}
