// Package distwq implements a distributed work-queue runtime: a controller
// dispatches named calls to a pool of worker processes (plain workers or
// collective groups fronted by a broker) over the internal/substrate
// message-passing layer.
package distwq

import "fmt"

// TaskID identifies one submitted call, assigned by the controller in
// submission order.
type TaskID uint64

// Task describes one call to dispatch to a worker. Controller.SubmitTask
// takes a Task directly; Controller.SubmitCall is a convenience wrapper for
// the common case of no timeout and default collective mode.
type Task struct {
	ID         TaskID
	Symbol     string
	Module     string
	Args       []interface{}
	Kwargs     map[string]interface{}
	TimeEst    float64
	Timeout    float64        // seconds; zero means no deadline
	Mode       CollectiveMode // zero defaults to Gather in SubmitTask
	TraceState []byte         // propagated OpenTelemetry span context, opaque here
}

// Result is what a worker sends back for a completed Task.
type Result struct {
	TaskID TaskID
	Value  interface{}
	Stats  Stats
}

// Stats is the per-task telemetry record spec.md names, enriched with an
// optional host-resource snapshot (see hostload.go).
type Stats struct {
	TaskID      TaskID
	Rank        int
	ThisTime    float64
	TimeOverEst float64
	NProcessed  int64
	TotalTime   float64
	HostLoad    *HostLoad
}

// CollectiveMode selects how a CollectiveBroker's sub-group combines its
// members' individual results. The enum is intentionally left open for
// future modes; Gather is the only one currently implemented and unknown
// values are a protocol violation, never silently ignored.
type CollectiveMode int

const (
	Gather CollectiveMode = iota + 1
)

func (m CollectiveMode) String() string {
	switch m {
	case Gather:
		return "gather"
	default:
		return fmt.Sprintf("CollectiveMode(%d)", int(m))
	}
}

func (m CollectiveMode) valid() bool {
	return m == Gather
}

// RunStats is the aggregate snapshot Controller.Info returns: per-rank load
// and a coefficient-of-variation summary across ranks.
type RunStats struct {
	NProcessed      map[int]int64
	TotalTime       map[int]float64
	Mean            float64
	StdDev          float64
	CoeffOfVariance float64
	Elapsed         float64
}
