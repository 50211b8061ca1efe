package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twlin/formosa/internal/health"
	"github.com/twlin/formosa/internal/pipeline"
	"github.com/twlin/formosa/internal/recorder"
	"github.com/twlin/formosa/internal/retention"
	"github.com/twlin/formosa/internal/scheduler"
	"github.com/twlin/formosa/internal/scheduler/jobs"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the unattended scheduler",
	Long: `Starts the in-process scheduler and blocks until interrupted.
Registered jobs: the daily pipeline run (cron from pipeline config),
a nightly retention sweep and an hourly health check. Each firing of
the daily job starts a fresh run; a failed run is never resumed.

Example:
  formosa schedule`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, log, pcfg, err := loadDeps()
	if err != nil {
		return err
	}

	rec, err := recorder.NewSQLite(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer rec.Close()

	daily := buildDaily(cfg, pcfg, log)
	runner := pipeline.NewRunner(rec, log).WithQualityResult(daily.QualityResult)

	runOnce := func(ctx context.Context) error {
		now := time.Now()
		runID := pipeline.NewRunID(now)
		rc := &pipeline.RunContext{
			RunID:     runID,
			Workspace: pipeline.NewWorkspace(cfg.Paths.RunsRoot, runID),
			Date:      now.Format("20060102"),
			Config:    pcfg,
		}
		_, err := runner.Run(ctx, daily.Stages(), rc)
		return err
	}

	sweeper := retention.New(retention.Options{
		LogsDays:     pcfg.Retention.LogsDays,
		InboundDays:  pcfg.Retention.InboundDays,
		PreparedDays: pcfg.Retention.PreparedDays,
	}, log)
	areas := retention.Areas{
		LogsDir:     cfg.Paths.LogsRoot,
		InboundDir:  filepath.Join(cfg.Paths.DataRoot, "inbound"),
		PreparedDir: filepath.Join(cfg.Paths.DataRoot, "prepared"),
		MarkerDir:   cfg.Paths.DataRoot,
	}

	gate := health.NewGate(rec, health.Options{
		WindowDays:       pcfg.Health.WindowDays,
		RecentHours:      pcfg.Health.RecentHours,
		MinSamples:       pcfg.Health.MinSamples,
		MaxDegradedRatio: pcfg.Health.MaxDegradedRatio,
		MaxRows:          pcfg.Health.MaxRows,
	}, filepath.Join(cfg.Paths.DataRoot, "HEALTH_ALERT.txt"), log)

	sched := scheduler.New(log)
	for _, job := range []scheduler.Job{
		jobs.NewDailyRunJob(pcfg.Schedule.DailyCron, runOnce, log),
		jobs.NewRetentionJob(sweeper, areas, log),
		jobs.NewHealthCheckJob(gate, log),
	} {
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("registering job %s: %w", job.Name(), err)
		}
	}

	sched.Start()
	log.WithField("daily_cron", pcfg.Schedule.DailyCron).Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("Stopping scheduler")

	sched.Stop()
	log.Info("Scheduler stopped")
	return nil
}
