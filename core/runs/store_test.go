package runs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/model"
)

func run(id string, result model.RunResult) model.RunRecord {
	return model.RunRecord{
		RunID:   id,
		Date:    "2025-07-05",
		TimeUTC: "13:05:00",
		TimePT:  "06:05:00",
		Result:  result,
		Reason:  "Charging session started successfully",
		RunType: model.RunScheduled,
	}
}

func TestAppendAndList(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "data", "runs.json"))
	empty, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Append(run("1", model.RunSuccess)))
	require.NoError(t, s.Append(run("2", model.RunOther)))
	require.NoError(t, s.Append(run("3", model.RunFailure)))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].RunID)

	last, err := s.Last(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "3", last[0].RunID)
	assert.Equal(t, "2", last[1].RunID)
}

func TestAppendKeepsExistingShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"runs": [{"run_id": "old", "date": "2025-01-01", "result": "other",
		"time_utc": "", "time_pt": "", "start_time_pt": "", "polling_duration_sec": 0,
		"reason": "No vehicle plugged in", "details": "", "run_type": "scheduled"}]}`), 0o644))
	s := NewStore(path)
	require.NoError(t, s.Append(run("new", model.RunSuccess)))
	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "No vehicle plugged in", all[0].Reason)
}

func TestAppendValidatesAndReportsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s := NewStore(path)
	assert.True(t, errs.Is(s.Append(model.RunRecord{}), errs.KindValidation))

	require.NoError(t, os.WriteFile(path, []byte(`[`), 0o644))
	err := s.Append(run("x", model.RunSuccess))
	assert.True(t, errs.Is(err, errs.KindCorrupt))
}
