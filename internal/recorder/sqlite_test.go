package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "formosa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	start := time.Date(2025, 1, 7, 17, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun("20250107_170000", start))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())

	require.NoError(t, db.FinishRun(RunRecord{
		RunID:         "20250107_170000",
		FinishedAt:    start.Add(5 * time.Minute),
		Status:        StatusSuccess,
		QualityResult: "PASS",
	}))

	runs, err = db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusSuccess, runs[0].Status)
	assert.Equal(t, "PASS", runs[0].QualityResult)
	assert.Equal(t, start.Unix(), runs[0].StartedAt.Unix())
}

func TestAttemptsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2025, 1, 7, 17, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun("rid", at))
	for i := 1; i <= 3; i++ {
		status := StatusFailed
		if i == 3 {
			status = StatusSuccess
		}
		require.NoError(t, db.RecordAttempt(AttemptRecord{
			RunID: "rid", Stage: "FETCH", Attempt: i, Status: status,
			Error: "boom", At: at.Add(time.Duration(i) * time.Minute),
		}))
	}

	attempts, err := db.Attempts("rid")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, StatusSuccess, attempts[2].Status)
}

func TestRecentRunsWindow(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		started := base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, db.StartRun(id, started))
		require.NoError(t, db.FinishRun(RunRecord{
			RunID: id, FinishedAt: started.Add(time.Hour), Status: StatusSuccess,
		}))
	}

	recent, err := db.RecentRuns(base.Add(36 * time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].RunID)

	all, err := db.RecentRuns(base)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "c", all[0].RunID)
}

func TestRecentRunsIncludesUnfinished(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2025, 1, 7, 17, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun("running", at))

	recent, err := db.RecentRuns(at.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, StatusRunning, recent[0].Status)
}
