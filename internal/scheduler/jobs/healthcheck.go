package jobs

import (
	"context"

	"github.com/twlin/formosa/internal/health"
	"github.com/twlin/formosa/pkg/logger"
)

// HealthCheckJob evaluates the run history against the health gate. An
// unhealthy verdict raises the alert file; the job itself only fails when
// the evaluation cannot run.
type HealthCheckJob struct {
	gate   *health.Gate
	logger *logger.Logger
}

// NewHealthCheckJob creates a new health check job
func NewHealthCheckJob(gate *health.Gate, log *logger.Logger) *HealthCheckJob {
	return &HealthCheckJob{gate: gate, logger: log}
}

func (j *HealthCheckJob) Name() string { return "health_check" }

// Schedule returns the cron schedule (hourly)
func (j *HealthCheckJob) Schedule() string { return "0 0 * * * *" }

func (j *HealthCheckJob) Run(ctx context.Context) error {
	verdict, err := j.gate.Check()
	if err != nil {
		return err
	}
	if verdict.Code != health.CodeOK {
		j.logger.WithFields(map[string]interface{}{
			"code":   verdict.Code,
			"reason": verdict.Reason,
		}).Warn("Health check unhealthy")
		return nil
	}
	j.logger.Debug("Health check OK")
	return nil
}
