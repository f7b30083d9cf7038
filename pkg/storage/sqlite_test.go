package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/models"
)

func TestSQLiteRoundTrip(t *testing.T) {
	runPath := t.TempDir()
	w := NewSQLiteWriter()

	require.NoError(t, w.Initialize(runPath, testManifest()))
	require.NoError(t, w.WriteStep(stepRecord("i-1", 0)))
	require.NoError(t, w.WriteInstance(&models.InstanceRecord{
		InstanceID: "i-1", RunID: "run-1", ScenarioID: "checkout",
		CorrelationID: "corr-1", Passed: false, Error: "boom",
		StartedAt: time.Now(), CompletedAt: time.Now(),
	}))
	require.NoError(t, w.WriteAssertion(&models.AssertionRecord{
		InstanceID: "i-1", RunID: "run-1", StepIndex: 0,
		AssertionName: "check", Passed: true,
		Expected: 200, Actual: 200, Timestamp: time.Now(),
	}))
	require.NoError(t, w.Close())

	db, err := sql.Open("sqlite", filepath.Join(runPath, "turbulence.db"))
	require.NoError(t, err)
	defer db.Close()

	var runID, sutName string
	require.NoError(t, db.QueryRow("SELECT id, sut_name FROM runs").Scan(&runID, &sutName))
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, "shop", sutName)

	var status, errMsg string
	require.NoError(t, db.QueryRow("SELECT status, error FROM instances WHERE id = 'i-1'").Scan(&status, &errMsg))
	assert.Equal(t, "fail", status)
	assert.Equal(t, "boom", errMsg)

	var stepCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM steps WHERE instance_id = 'i-1'").Scan(&stepCount))
	assert.Equal(t, 1, stepCount)

	var observation string
	require.NoError(t, db.QueryRow("SELECT observation FROM steps LIMIT 1").Scan(&observation))
	assert.Contains(t, observation, `"status_code":200`)

	var passed bool
	require.NoError(t, db.QueryRow("SELECT passed FROM assertions LIMIT 1").Scan(&passed))
	assert.True(t, passed)
}

func TestSQLiteInstanceUpsert(t *testing.T) {
	runPath := t.TempDir()
	w := NewSQLiteWriter()
	require.NoError(t, w.Initialize(runPath, testManifest()))

	record := &models.InstanceRecord{
		InstanceID: "i-1", RunID: "run-1", ScenarioID: "checkout",
		Passed: true, StartedAt: time.Now(), CompletedAt: time.Now(),
	}
	require.NoError(t, w.WriteInstance(record))

	record.Passed = false
	record.Error = "late failure"
	require.NoError(t, w.WriteInstance(record))
	require.NoError(t, w.Close())

	db, err := sql.Open("sqlite", filepath.Join(runPath, "turbulence.db"))
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM instances").Scan(&count))
	assert.Equal(t, 1, count)

	var status string
	require.NoError(t, db.QueryRow("SELECT status FROM instances").Scan(&status))
	assert.Equal(t, "fail", status)
}

func TestSQLiteWriteBeforeInitialize(t *testing.T) {
	w := NewSQLiteWriter()
	require.Error(t, w.WriteStep(stepRecord("i-1", 0)))
}
