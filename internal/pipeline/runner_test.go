package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlin/formosa/internal/pipecfg"
	"github.com/twlin/formosa/internal/recorder"
	"github.com/twlin/formosa/pkg/logger"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) { s.slept = append(s.slept, d) }

type captureRecorder struct {
	recorder.Noop
	started  []string
	attempts []recorder.AttemptRecord
	finished []recorder.RunRecord
}

func (r *captureRecorder) StartRun(runID string, _ time.Time) error {
	r.started = append(r.started, runID)
	return nil
}

func (r *captureRecorder) RecordAttempt(a recorder.AttemptRecord) error {
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *captureRecorder) FinishRun(rec recorder.RunRecord) error {
	r.finished = append(r.finished, rec)
	return nil
}

func testRunContext(t *testing.T) *RunContext {
	t.Helper()
	runID := "20250107_173000"
	return &RunContext{
		RunID:     runID,
		Workspace: NewWorkspace(t.TempDir(), runID),
		Date:      "20250107",
		Config:    pipecfg.Default(),
	}
}

func okStage(name string, hits *int) Stage {
	return Stage{Name: name, MaxAttempts: 2, Backoff: 15 * time.Second,
		Run: func(context.Context, *RunContext) error {
			*hits++
			return nil
		}}
}

func TestRunAllStagesSucceedFirstAttempt(t *testing.T) {
	rec := &captureRecorder{}
	sleeper := &fakeSleeper{}
	now := time.Date(2025, 1, 7, 17, 30, 0, 0, time.UTC)
	r := NewRunner(rec, logger.NewNop()).
		WithSleeper(sleeper).
		WithClock(func() time.Time { return now })

	var a, b, c int
	stages := []Stage{okStage("FETCH", &a), okStage("PREPARE", &b), okStage("SELECT", &c)}

	rc := testRunContext(t)
	res, err := r.Run(context.Background(), stages, rc)
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.Empty(t, res.FailedStage)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 1, c)
	for _, sr := range res.Stages {
		assert.Equal(t, 1, sr.Attempts)
	}
	assert.Empty(t, sleeper.slept)

	require.Len(t, rec.attempts, 3)
	for _, at := range rec.attempts {
		assert.Equal(t, 1, at.Attempt)
		assert.Equal(t, recorder.StatusSuccess, at.Status)
	}
	require.Len(t, rec.finished, 1)
	assert.Equal(t, recorder.StatusSuccess, rec.finished[0].Status)
}

func TestRunRetriesExactlyMaxAttempts(t *testing.T) {
	rec := &captureRecorder{}
	sleeper := &fakeSleeper{}
	r := NewRunner(rec, logger.NewNop()).WithSleeper(sleeper)

	boom := errors.New("exchange unavailable")
	attempts := 0
	laterRan := false
	stages := []Stage{
		{Name: "FETCH", MaxAttempts: 3, Backoff: 15 * time.Second,
			Run: func(context.Context, *RunContext) error {
				attempts++
				return boom
			}},
		{Name: "PREPARE", MaxAttempts: 1,
			Run: func(context.Context, *RunContext) error {
				laterRan = true
				return nil
			}},
	}

	rc := testRunContext(t)
	res, err := r.Run(context.Background(), stages, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 3, attempts)
	assert.False(t, laterRan, "abort must be fail-fast")
	assert.False(t, res.Succeeded)
	assert.Equal(t, "FETCH", res.FailedStage)
	assert.Equal(t, 3, res.FailedAttempt)

	// A wait separates consecutive attempts, never follows the last one.
	require.Len(t, sleeper.slept, 2)
	for _, d := range sleeper.slept {
		assert.Equal(t, 15*time.Second, d)
	}

	require.Len(t, rec.finished, 1)
	assert.Equal(t, recorder.StatusFailed, rec.finished[0].Status)
	assert.Equal(t, "FETCH", rec.finished[0].FailedStage)
}

func TestRunPreconditionErrorNotRetried(t *testing.T) {
	sleeper := &fakeSleeper{}
	r := NewRunner(nil, logger.NewNop()).WithSleeper(sleeper)

	attempts := 0
	stages := []Stage{
		{Name: "PREPARE", MaxAttempts: 3, Backoff: 15 * time.Second,
			Run: func(context.Context, *RunContext) error {
				attempts++
				return fmt.Errorf("%w: inbound dir missing", ErrPrecondition)
			}},
	}

	rc := testRunContext(t)
	res, err := r.Run(context.Background(), stages, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.slept)
	assert.Equal(t, 1, res.FailedAttempt)
}

func TestRunLogOneLinePerAttempt(t *testing.T) {
	r := NewRunner(nil, logger.NewNop()).WithSleeper(&fakeSleeper{})

	boom := errors.New("flaky")
	n := 0
	stages := []Stage{
		{Name: "FETCH", MaxAttempts: 2, Backoff: time.Second,
			Run: func(context.Context, *RunContext) error {
				n++
				if n == 1 {
					return boom
				}
				return nil
			}},
	}

	rc := testRunContext(t)
	_, err := r.Run(context.Background(), stages, rc)
	require.NoError(t, err)

	data, err := os.ReadFile(rc.Workspace.RunLog())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "started")
	assert.Contains(t, lines[1], "stage=FETCH attempt=1 status=FAILED")
	assert.Contains(t, lines[1], "flaky")
	assert.Contains(t, lines[2], "stage=FETCH attempt=2 status=SUCCESS")
	assert.Contains(t, lines[3], "overall=SUCCESS")
}

func TestRunWritesPipelineStatus(t *testing.T) {
	r := NewRunner(nil, logger.NewNop()).WithSleeper(&fakeSleeper{})

	boom := errors.New("selection produced nothing")
	var hits int
	stages := []Stage{
		okStage("FETCH", &hits),
		{Name: "SELECT", MaxAttempts: 1,
			Run: func(context.Context, *RunContext) error { return boom }},
	}

	rc := testRunContext(t)
	_, err := r.Run(context.Background(), stages, rc)
	require.Error(t, err)

	data, err := os.ReadFile(rc.Workspace.Root + "/" + StatusJSONFile)
	require.NoError(t, err)
	var doc StatusDoc
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, rc.RunID, doc.RunID)
	assert.Equal(t, "FAILED", doc.Overall)
	assert.Equal(t, "SUCCESS", doc.Stages["FETCH"].Status)
	assert.Equal(t, "FAILED", doc.Stages["SELECT"].Status)
	assert.Equal(t, boom.Error(), doc.Stages["SELECT"].Msg)
	assert.Empty(t, doc.Stages["FETCH"].Msg)

	txt, err := os.ReadFile(rc.Workspace.Root + "/" + StatusTextFile)
	require.NoError(t, err)
	assert.Contains(t, string(txt), "overall_status: FAILED")
	assert.Contains(t, string(txt), "[FETCH] status=SUCCESS")
	assert.Contains(t, string(txt), "[SELECT] status=FAILED")
}

func TestRunRecordsQualityResult(t *testing.T) {
	rec := &captureRecorder{}
	r := NewRunner(rec, logger.NewNop()).
		WithSleeper(&fakeSleeper{}).
		WithQualityResult(func() string { return "DEGRADED" })

	var hits int
	rc := testRunContext(t)
	_, err := r.Run(context.Background(), []Stage{okStage("QUALITY", &hits)}, rc)
	require.NoError(t, err)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, "DEGRADED", rec.finished[0].QualityResult)
}

func TestRunContextCancelled(t *testing.T) {
	r := NewRunner(nil, logger.NewNop()).WithSleeper(&fakeSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	stages := []Stage{
		{Name: "FETCH", MaxAttempts: 1,
			Run: func(context.Context, *RunContext) error {
				ran = true
				return nil
			}},
	}

	rc := testRunContext(t)
	_, err := r.Run(ctx, stages, rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.Date(2025, 1, 7, 17, 30, 5, 0, time.UTC))
	assert.Equal(t, "20250107_173005", id)
}

func TestWorkspaceIsolation(t *testing.T) {
	root := t.TempDir()
	a := NewWorkspace(root, "20250107_173000")
	b := NewWorkspace(root, "20250107_180000")
	assert.NotEqual(t, a.Root, b.Root)
	assert.Equal(t, root+"/20250107_173000/inbound", a.InboundDir())
	assert.Equal(t, root+"/20250107_173000/prepared/daily_input.csv", a.PreparedInput())
}
