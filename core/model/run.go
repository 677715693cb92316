package model

// RunResult is the outcome of a start-charging run.
type RunResult string

const (
	RunSuccess RunResult = "success"
	RunFailure RunResult = "failure"
	// RunOther covers neutral outcomes such as no vehicle plugged in.
	RunOther RunResult = "other"
)

// RunType identifies what triggered a charging run.
type RunType string

const (
	RunScheduled       RunType = "scheduled"
	RunManualStart     RunType = "manual-start"
	RunManualScheduled RunType = "manual-scheduled"
)

// ParseRunType validates a mode name.
func ParseRunType(s string) (RunType, bool) {
	switch RunType(s) {
	case RunScheduled, RunManualStart, RunManualScheduled:
		return RunType(s), true
	}
	return "", false
}

// WaitsForSchedule reports whether the run honours the scheduled window.
func (t RunType) WaitsForSchedule() bool { return t != RunManualStart }

// RunRecord is one entry of the run history document.
type RunRecord struct {
	RunID              string    `json:"run_id"`
	Date               string    `json:"date"`
	TimeUTC            string    `json:"time_utc"`
	TimePT             string    `json:"time_pt"`
	Result             RunResult `json:"result"`
	StartTimePT        string    `json:"start_time_pt"`
	PollingDurationSec int       `json:"polling_duration_sec"`
	Reason             string    `json:"reason"`
	Details            string    `json:"details"`
	RunType            RunType   `json:"run_type"`
}
