package jobs

import (
	"context"

	"github.com/twlin/formosa/internal/retention"
	"github.com/twlin/formosa/pkg/logger"
)

// RetentionJob sweeps aged files from the housekeeping areas
type RetentionJob struct {
	sweeper *retention.Sweeper
	areas   retention.Areas
	logger  *logger.Logger
}

// NewRetentionJob creates a new retention sweep job
func NewRetentionJob(sweeper *retention.Sweeper, areas retention.Areas, log *logger.Logger) *RetentionJob {
	return &RetentionJob{sweeper: sweeper, areas: areas, logger: log}
}

func (j *RetentionJob) Name() string { return "retention_sweep" }

// Schedule returns the cron schedule (03:00 daily)
func (j *RetentionJob) Schedule() string { return "0 0 3 * * *" }

func (j *RetentionJob) Run(ctx context.Context) error {
	res, err := j.sweeper.Run(j.areas)
	if err != nil {
		return err
	}
	if res.Total() > 0 {
		j.logger.WithField("deleted", res.Total()).Info("Retention sweep removed files")
	}
	return nil
}
