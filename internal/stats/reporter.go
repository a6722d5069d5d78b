package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/distwq/distwq/internal/platform/logger"
	"github.com/distwq/distwq/pkg/distwq"
)

// Reporter periodically snapshots a Controller's RunStats into a
// Repository, grounded on the engine scheduler's cron.WithSeconds +
// cron.Recover wiring, repurposed from re-firing workflows to flushing
// observability snapshots.
type Reporter struct {
	cron  *cron.Cron
	repo  Repository
	log   logger.Logger
	runID string
}

// NewReporter builds a Reporter that is not yet running; call Start.
func NewReporter(repo Repository, log logger.Logger, runID string) *Reporter {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	return &Reporter{cron: c, repo: repo, log: log, runID: runID}
}

// Start schedules a snapshot of controller.Info() every interval and begins
// running the cron scheduler.
func (r *Reporter) Start(ctx context.Context, controller *distwq.Controller, interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval.String())
	_, err := r.cron.AddFunc(spec, func() {
		rs := controller.Info()
		nProcessed, _ := json.Marshal(rs.NProcessed)
		totalTime, _ := json.Marshal(rs.TotalTime)
		snap := &Snapshot{
			RunID:      r.runID,
			CapturedAt: time.Now(),
			Mean:       rs.Mean,
			StdDev:     rs.StdDev,
			CoeffVar:   rs.CoeffOfVariance,
			Elapsed:    rs.Elapsed,
			NProcessed: nProcessed,
			TotalTime:  totalTime,
		}
		if err := r.repo.Save(ctx, snap); err != nil && r.log != nil {
			r.log.Error("stats reporter: save snapshot failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("stats: schedule reporter: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job.
func (r *Reporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
