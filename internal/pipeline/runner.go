package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/twlin/formosa/internal/pipecfg"
	"github.com/twlin/formosa/internal/recorder"
	"github.com/twlin/formosa/pkg/logger"
)

// ErrPrecondition marks failures that retrying cannot fix: a missing input
// file, a missing directory, a misconfigured path. The runner fails the
// stage on the first such error regardless of its attempt budget.
var ErrPrecondition = errors.New("precondition failed")

// RunContext is the immutable value handed to every stage. Stages receive
// everything they need through it; nothing is inherited from the process
// environment.
type RunContext struct {
	RunID     string
	Workspace Workspace
	Date      string // calendar date of the invocation, yyyymmdd
	Config    *pipecfg.Config
}

// Stage is one named unit of the pipeline with its retry policy.
type Stage struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
	Run         func(ctx context.Context, rc *RunContext) error
}

// Sleeper is the wait between retry attempts. Tests inject a fake so retry
// sequences run without real sleeps.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// stageState drives the per-stage retry machine.
type stageState int

const (
	statePending stageState = iota
	stateAttempting
	stateWaiting
	stateSucceeded
	stateExhausted
)

// StageResult reports one stage's outcome.
type StageResult struct {
	Name     string
	Attempts int
	Err      error
}

// Result is the overall pipeline outcome. On failure FailedStage and
// FailedAttempt identify where the run stopped; no later stage executed.
type Result struct {
	RunID         string
	Succeeded     bool
	Stages        []StageResult
	FailedStage   string
	FailedAttempt int
	Err           error
}

// Runner executes stages strictly in order with bounded retries and a fixed
// backoff per stage. A stage that exhausts its attempts aborts the whole
// pipeline.
type Runner struct {
	rec       recorder.Recorder
	sleeper   Sleeper
	now       func() time.Time
	qualityFn func() string
	log       *logger.Logger
}

func NewRunner(rec recorder.Recorder, log *logger.Logger) *Runner {
	if rec == nil {
		rec = recorder.Noop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{rec: rec, sleeper: realSleeper{}, now: time.Now, log: log}
}

// WithSleeper overrides the retry wait, for tests.
func (r *Runner) WithSleeper(s Sleeper) *Runner {
	r.sleeper = s
	return r
}

// WithClock overrides the wall clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithQualityResult installs a hook queried after the run to record the
// quality-gate verdict in the run history.
func (r *Runner) WithQualityResult(fn func() string) *Runner {
	r.qualityFn = fn
	return r
}

// Run executes the stage list against rc. It always returns a Result; the
// error is non-nil when the pipeline failed and carries the failing stage's
// last error for sentinel classification at the CLI boundary.
func (r *Runner) Run(ctx context.Context, stages []Stage, rc *RunContext) (*Result, error) {
	if err := rc.Workspace.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	startedAt := r.now()
	if err := r.rec.StartRun(rc.RunID, startedAt); err != nil {
		r.log.WithError(err).Warn("record run start failed")
	}

	order := make([]string, 0, len(stages))
	for _, st := range stages {
		order = append(order, st.Name)
	}
	status := newStatusWriter(rc.Workspace.Root, rc.RunID, order, r.now)

	res := &Result{RunID: rc.RunID}
	r.appendRunLog(rc, fmt.Sprintf("run_id=%s started", rc.RunID))

	for _, stage := range stages {
		sr, err := r.runStage(ctx, stage, rc, status)
		res.Stages = append(res.Stages, sr)
		if err != nil {
			res.FailedStage = stage.Name
			res.FailedAttempt = sr.Attempts
			res.Err = err
			r.appendRunLog(rc, fmt.Sprintf("run_id=%s overall=FAILED stage=%s attempt=%d error=%q",
				rc.RunID, stage.Name, sr.Attempts, err.Error()))
			r.finishRun(rc, startedAt, recorder.StatusFailed, stage.Name, err)
			return res, fmt.Errorf("stage %s failed after %d attempt(s): %w", stage.Name, sr.Attempts, err)
		}
	}

	res.Succeeded = true
	r.appendRunLog(rc, fmt.Sprintf("run_id=%s overall=SUCCESS", rc.RunID))
	r.finishRun(rc, startedAt, recorder.StatusSuccess, "", nil)
	return res, nil
}

// runStage drives one stage through the retry machine:
// Pending -> Attempting -> (Waiting -> Attempting)* -> Succeeded | Exhausted.
func (r *Runner) runStage(ctx context.Context, stage Stage, rc *RunContext, status *statusWriter) (StageResult, error) {
	maxAttempts := stage.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	sr := StageResult{Name: stage.Name}
	state := statePending
	var lastErr error

	for {
		switch state {
		case statePending:
			state = stateAttempting

		case stateAttempting:
			if err := ctx.Err(); err != nil {
				sr.Err = err
				return sr, err
			}
			sr.Attempts++
			r.setStatus(status, stage.Name, "RUNNING", "")

			err := stage.Run(ctx, rc)
			r.recordAttempt(rc, stage.Name, sr.Attempts, err)

			if err == nil {
				state = stateSucceeded
				break
			}
			lastErr = err
			if errors.Is(err, ErrPrecondition) || sr.Attempts >= maxAttempts {
				state = stateExhausted
				break
			}
			r.log.WithFields(map[string]interface{}{
				"stage":   stage.Name,
				"attempt": sr.Attempts,
				"error":   err.Error(),
			}).Warn("stage attempt failed, retrying")
			state = stateWaiting

		case stateWaiting:
			r.sleeper.Sleep(stage.Backoff)
			state = stateAttempting

		case stateSucceeded:
			r.setStatus(status, stage.Name, "SUCCESS", "")
			r.log.WithFields(map[string]interface{}{
				"stage":    stage.Name,
				"attempts": sr.Attempts,
			}).Info("stage succeeded")
			return sr, nil

		case stateExhausted:
			sr.Err = lastErr
			r.setStatus(status, stage.Name, "FAILED", lastErr.Error())
			r.log.WithFields(map[string]interface{}{
				"stage":    stage.Name,
				"attempts": sr.Attempts,
				"error":    lastErr.Error(),
			}).Error("stage exhausted attempts")
			return sr, lastErr
		}
	}
}

func (r *Runner) recordAttempt(rc *RunContext, stage string, attempt int, err error) {
	outcome := recorder.StatusSuccess
	errMsg := ""
	if err != nil {
		outcome = recorder.StatusFailed
		errMsg = err.Error()
	}
	rec := recorder.AttemptRecord{
		RunID:   rc.RunID,
		Stage:   stage,
		Attempt: attempt,
		Status:  outcome,
		Error:   errMsg,
		At:      r.now(),
	}
	if recErr := r.rec.RecordAttempt(rec); recErr != nil {
		r.log.WithError(recErr).Warn("record stage attempt failed")
	}

	line := fmt.Sprintf("run_id=%s stage=%s attempt=%d status=%s", rc.RunID, stage, attempt, outcome)
	if errMsg != "" {
		line += fmt.Sprintf(" error=%q", errMsg)
	}
	r.appendRunLog(rc, line)
}

func (r *Runner) finishRun(rc *RunContext, startedAt time.Time, st string, failedStage string, err error) {
	rec := recorder.RunRecord{
		RunID:       rc.RunID,
		StartedAt:   startedAt,
		FinishedAt:  r.now(),
		Status:      st,
		FailedStage: failedStage,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if r.qualityFn != nil {
		rec.QualityResult = r.qualityFn()
	}
	if recErr := r.rec.FinishRun(rec); recErr != nil {
		r.log.WithError(recErr).Warn("record run finish failed")
	}
}

func (r *Runner) setStatus(status *statusWriter, stage, st, msg string) {
	if err := status.set(stage, st, msg); err != nil {
		r.log.WithError(err).Warn("write pipeline status failed")
	}
}

// appendRunLog adds one timestamped line to the durable run log. The log is
// append-only; lines are never rewritten.
func (r *Runner) appendRunLog(rc *RunContext, line string) {
	f, err := os.OpenFile(rc.Workspace.RunLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.WithError(err).Warn("open run log failed")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", r.now().Format("2006-01-02T15:04:05"), line)
}
