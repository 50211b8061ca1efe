// Package jobs holds the scheduled jobs wired into the scheduler: the
// daily pipeline run, the retention sweep and the nightly health check.
package jobs

import (
	"context"

	"github.com/twlin/formosa/pkg/logger"
)

// DailyRunJob fires the full daily pipeline. Each firing generates a fresh
// run identifier inside the run function; nothing is resumed.
type DailyRunJob struct {
	schedule string
	run      func(ctx context.Context) error
	logger   *logger.Logger
}

// NewDailyRunJob creates the daily pipeline job. The schedule comes from
// the pipeline configuration (schedule.daily_cron).
func NewDailyRunJob(schedule string, run func(ctx context.Context) error, log *logger.Logger) *DailyRunJob {
	return &DailyRunJob{schedule: schedule, run: run, logger: log}
}

func (j *DailyRunJob) Name() string { return "daily_pipeline" }

func (j *DailyRunJob) Schedule() string { return j.schedule }

func (j *DailyRunJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled daily pipeline run")
	return j.run(ctx)
}
