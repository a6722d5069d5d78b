package distwq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	mstats "github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/internal/platform/telemetry"
	"github.com/distwq/distwq/internal/substrate"
)

var tracer = otel.Tracer("github.com/distwq/distwq/pkg/distwq")

// taskPayload is the wire shape of a TASK message (see spec §6).
type taskPayload struct {
	TaskID     TaskID
	Symbol     string
	Module     string
	Args       []interface{}
	Kwargs     map[string]interface{}
	TimeEst    float64
	Timeout    float64
	Mode       CollectiveMode
	TraceState []byte
}

// donePayload is the wire shape of a DONE message.
type donePayload struct {
	TaskID TaskID
	Value  interface{}
	Stats  Stats
}

// Controller is the scheduler: it accepts submissions, assigns each task to
// a ready worker by minimum estimated load, absorbs completions, and
// delivers results honoring per-worker FIFO order (spec.md §4.1).
type Controller struct {
	comm     substrate.Comm
	registry *Registry
	log      logger.Logger
	backoff  *substrate.Backoff

	mu sync.Mutex

	count TaskID

	totalTimeEst map[int]float64
	readyWorkers []int
	assigned     map[TaskID]int
	workerQueue  map[int][]TaskID
	taskQueue    []TaskID
	resultQueue  []TaskID
	results      map[TaskID]Result
	stats        []Stats
	nProcessed   map[int]int64
	totalTime    map[int]float64

	startTime time.Time
}

// NewController builds a Controller bound to comm (rank 0). registry is used
// only in the degenerate no-worker case, where the controller resolves and
// executes calls synchronously on itself.
func NewController(comm substrate.Comm, registry *Registry, log logger.Logger) *Controller {
	size := comm.Size()
	c := &Controller{
		comm:         comm,
		registry:     registry,
		log:          log,
		backoff:      substrate.NewBackoff(),
		totalTimeEst: make(map[int]float64, size),
		assigned:     make(map[TaskID]int),
		workerQueue:  make(map[int][]TaskID, size),
		results:      make(map[TaskID]Result),
		nProcessed:   make(map[int]int64, size),
		totalTime:    make(map[int]float64, size),
		startTime:    time.Now(),
	}
	// Invariant 5 / §3: rank 0 seeded to infinity so the controller never
	// self-selects while real workers exist.
	c.totalTimeEst[0] = math.Inf(1)
	for i := 1; i < size; i++ {
		c.totalTimeEst[i] = 0
	}
	return c
}

func (c *Controller) hasWorkers() bool { return c.comm.Size() > 1 }

// SubmitCall dispatches symbol(args, kwargs) to a worker, or executes it
// in-line when no workers are configured. taskID, if non-nil, pins the id;
// otherwise one is auto-generated. It is a convenience wrapper over
// SubmitTask for the common case of no timeout and the default collective
// mode.
func (c *Controller) SubmitCall(ctx context.Context, module, symbol string, args []interface{}, kwargs map[string]interface{}, timeEst float64, taskID *TaskID) (TaskID, error) {
	return c.SubmitTask(ctx, Task{
		Symbol:  symbol,
		Module:  module,
		Args:    args,
		Kwargs:  kwargs,
		TimeEst: timeEst,
	}, taskID)
}

// SubmitTask dispatches a fully described Task to a worker, or executes it
// in-line when no workers are configured. taskID, if non-nil, pins the id;
// otherwise one is auto-generated. task.Mode defaults to Gather when left
// zero; task.Timeout, if positive, becomes a deadline the serving worker
// derives a context from (spec §9 liveness hook).
func (c *Controller) SubmitTask(ctx context.Context, task Task, taskID *TaskID) (TaskID, error) {
	if task.TimeEst <= 0 {
		return 0, &ConfigInvalidError{Reason: "time_est must be > 0"}
	}
	if task.Mode == 0 {
		task.Mode = Gather
	}
	if !task.Mode.valid() {
		return 0, &ProtocolViolationError{Reason: fmt.Sprintf("unknown collective mode %s", task.Mode)}
	}

	c.mu.Lock()
	var id TaskID
	if taskID != nil {
		id = *taskID
		if _, inFlight := c.assigned[id]; inFlight {
			c.mu.Unlock()
			return 0, &DuplicateIDError{TaskID: id}
		}
		if _, unretrieved := c.results[id]; unretrieved {
			c.mu.Unlock()
			return 0, &DuplicateIDError{TaskID: id}
		}
		if id >= c.count {
			c.count = id + 1
		}
	} else {
		id = c.count
		c.count++
	}
	c.mu.Unlock()

	spanCtx, span := tracer.Start(ctx, "distwq.submit_call")
	defer span.End()

	if !c.hasWorkers() {
		return c.submitLocal(spanCtx, id, task)
	}

	rank, err := c.waitForReadyRank(spanCtx)
	if err != nil {
		return 0, err
	}

	payload := taskPayload{
		TaskID:     id,
		Symbol:     task.Symbol,
		Module:     task.Module,
		Args:       task.Args,
		Kwargs:     task.Kwargs,
		TimeEst:    task.TimeEst,
		Timeout:    task.Timeout,
		Mode:       task.Mode,
		TraceState: telemetry.InjectTraceState(spanCtx),
	}
	if err := c.comm.Send(rank, substrate.TagTask, payload); err != nil {
		return 0, fmt.Errorf("distwq: send task to rank %d: %w", rank, err)
	}

	c.mu.Lock()
	c.assigned[id] = rank
	c.taskQueue = append(c.taskQueue, id)
	c.workerQueue[rank] = append(c.workerQueue[rank], id)
	c.totalTimeEst[rank] += task.TimeEst
	c.mu.Unlock()

	return id, nil
}

func (c *Controller) submitLocal(ctx context.Context, id TaskID, task Task) (TaskID, error) {
	_, span := tracer.Start(ctx, "distwq.submit_local")
	defer span.End()

	fn, err := c.registry.Resolve(task.Module, task.Symbol)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	value, err := fn(task.Args, task.Kwargs)
	if err != nil {
		return 0, &UserFailureError{TaskID: id, Cause: err}
	}
	elapsed := time.Since(start).Seconds()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nProcessed[0]++
	c.totalTime[0] = time.Since(c.startTime).Seconds()
	st := Stats{
		TaskID:      id,
		Rank:        0,
		ThisTime:    elapsed,
		TimeOverEst: elapsed / task.TimeEst,
		NProcessed:  c.nProcessed[0],
		TotalTime:   c.totalTime[0],
	}
	c.stats = append(c.stats, st)
	c.results[id] = Result{TaskID: id, Value: value, Stats: st}
	c.resultQueue = append(c.resultQueue, id)
	return id, nil
}

// waitForReadyRank returns the ready rank with least total estimated load
// (ties by READY arrival order). When no rank is known to be ready it polls
// recvStep, one message at a time, until one announces itself; when some
// rank is already ready it chooses at once, without first absorbing
// messages still pending on the substrate.
func (c *Controller) waitForReadyRank(ctx context.Context) (int, error) {
	for {
		c.mu.Lock()
		if len(c.readyWorkers) > 0 {
			best := 0
			bestLoad := math.Inf(1)
			bestIdx := -1
			for i, r := range c.readyWorkers {
				load := c.totalTimeEst[r]
				if load < bestLoad {
					bestLoad = load
					best = r
					bestIdx = i
				}
			}
			c.readyWorkers = append(c.readyWorkers[:bestIdx], c.readyWorkers[bestIdx+1:]...)
			c.mu.Unlock()
			return best, nil
		}
		c.mu.Unlock()

		if err := c.recvStep(ctx); err != nil {
			return 0, err
		}
	}
}

// recvStep is the controller's non-blocking receive step (spec.md §4.1):
// probe once, absorb at most one message, or back off briefly if idle.
func (c *Controller) recvStep(ctx context.Context) error {
	env, err := c.comm.IProbe()
	if err == substrate.ErrNoMessage {
		select {
		case <-time.After(time.Duration(c.backoff.Next())):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if err != nil {
		return err
	}
	c.backoff.Reset()

	switch env.Tag {
	case substrate.TagReady:
		c.mu.Lock()
		c.readyWorkers = append(c.readyWorkers, env.Rank)
		c.mu.Unlock()
	case substrate.TagDone:
		var done donePayload
		if err := substrate.DecodePayload(env, &done); err != nil {
			return err
		}
		c.absorbDone(env.Rank, done)
	default:
		violation := &ProtocolViolationError{Reason: fmt.Sprintf("unexpected tag %s from rank %d", env.Tag, env.Rank)}
		c.Abort(violation)
		return violation
	}
	return nil
}

func (c *Controller) absorbDone(rank int, done donePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[done.TaskID] = Result{TaskID: done.TaskID, Value: done.Value, Stats: done.Stats}
	c.stats = append(c.stats, done.Stats)
	c.nProcessed[rank] = done.Stats.NProcessed
	c.totalTime[rank] = done.Stats.TotalTime

	c.taskQueue = removeID(c.taskQueue, done.TaskID)
	c.workerQueue[rank] = removeID(c.workerQueue[rank], done.TaskID)
	c.resultQueue = append(c.resultQueue, done.TaskID)
	delete(c.assigned, done.TaskID)
}

func removeID(ids []TaskID, target TaskID) []TaskID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// GetResult blocks until taskID's result has arrived and returns it,
// enforcing that taskID is at the head of its assigned worker's queue.
// The cached entry is evicted on retrieval (see SPEC_FULL.md's documented
// resolution of the GetResult cache-semantics open question): a second call
// for the same id returns ErrOutOfOrder.
func (c *Controller) GetResult(ctx context.Context, taskID TaskID) (interface{}, error) {
	c.mu.Lock()
	rank, inFlight := c.assigned[taskID]
	if inFlight {
		q := c.workerQueue[rank]
		if len(q) == 0 || q[0] != taskID {
			c.mu.Unlock()
			return nil, &OutOfOrderError{Rank: rank, Expected: headOr(q, taskID), Got: taskID}
		}
	} else if _, arrived := c.results[taskID]; !arrived {
		c.mu.Unlock()
		return nil, fmt.Errorf("distwq: no pending or unretrieved result for task %d: %w", taskID, ErrOutOfOrder)
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if result, ok := c.results[taskID]; ok {
			if _, stillAssigned := c.assigned[taskID]; !stillAssigned {
				delete(c.results, taskID)
				c.resultQueue = removeID(c.resultQueue, taskID)
				c.mu.Unlock()
				return result.Value, nil
			}
		}
		c.mu.Unlock()

		if err := c.recvStep(ctx); err != nil {
			return nil, err
		}
	}
}

func headOr(q []TaskID, fallback TaskID) TaskID {
	if len(q) == 0 {
		return fallback
	}
	return q[0]
}

// GetNextResult returns the oldest available result, blocking on the oldest
// in-flight task if none has arrived yet. Returns ok=false once nothing
// remains in flight or queued.
func (c *Controller) GetNextResult(ctx context.Context) (TaskID, interface{}, bool, error) {
	c.mu.Lock()
	if len(c.resultQueue) > 0 {
		id := c.resultQueue[0]
		c.mu.Unlock()
		value, err := c.GetResult(ctx, id)
		return id, value, true, err
	}
	if len(c.taskQueue) == 0 {
		c.mu.Unlock()
		return 0, nil, false, nil
	}
	id := c.taskQueue[0]
	c.mu.Unlock()

	value, err := c.GetResult(ctx, id)
	return id, value, true, err
}

// Info computes summary statistics over actual-vs-estimated time across all
// ranks, using montanaflynn/stats for mean/stddev/coefficient-of-variation
// instead of hand-rolled variance accumulation.
func (c *Controller) Info() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratios := make([]float64, 0, len(c.stats))
	for _, s := range c.stats {
		ratios = append(ratios, s.TimeOverEst)
	}

	rs := RunStats{
		NProcessed: make(map[int]int64, len(c.nProcessed)),
		TotalTime:  make(map[int]float64, len(c.totalTime)),
		Elapsed:    time.Since(c.startTime).Seconds(),
	}
	for k, v := range c.nProcessed {
		rs.NProcessed[k] = v
	}
	for k, v := range c.totalTime {
		rs.TotalTime[k] = v
	}

	if len(ratios) > 0 {
		if mean, err := mstats.Mean(ratios); err == nil {
			rs.Mean = mean
		}
		if sd, err := mstats.StandardDeviation(ratios); err == nil {
			rs.StdDev = sd
		}
		if rs.Mean != 0 {
			rs.CoeffOfVariance = rs.StdDev / rs.Mean
		}
	}
	return rs
}

// Exit drains all remaining results, then sends EXIT to every worker rank.
func (c *Controller) Exit(ctx context.Context) error {
	for {
		_, _, ok, err := c.GetNextResult(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	for r := 1; r < c.comm.Size(); r++ {
		if err := c.comm.Send(r, substrate.TagExit, nil); err != nil {
			return fmt.Errorf("distwq: send exit to rank %d: %w", r, err)
		}
	}
	return nil
}

// Abort tears down the whole job immediately.
func (c *Controller) Abort(reason error) {
	if c.log != nil {
		c.log.Error("aborting run", "reason", reason)
	}
	c.comm.Abort(reason)
}
