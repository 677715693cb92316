package labels

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/homecharge/core/model"
)

// document is the on-disk shape of session_vehicle_map.json.
type document struct {
	Sessions        map[string]model.SessionLabel `json:"sessions"`
	UnknownSessions []string                      `json:"unknown_sessions"`
	LastUpdated     *time.Time                    `json:"last_updated"`
	Statistics      statsDocument                 `json:"statistics"`
}

// statsDocument flattens per-vehicle counts next to the fixed totals:
// {"total_sessions": 3, "labeled_sessions": 2, "unknown": 1, "volvo": 2}.
// It is written for readers of the file and ignored on load.
type statsDocument map[string]int

func (st Statistics) document() statsDocument {
	d := statsDocument{}
	for v, n := range st.PerVehicle {
		d[v] = n
	}
	d["total_sessions"] = st.TotalSessions
	d["labeled_sessions"] = st.LabeledSessions
	d["unknown"] = st.Unknown
	return d
}

func (d *statsDocument) UnmarshalJSON(b []byte) error {
	// Older documents may carry non-integer values here; statistics are
	// always recomputed, so anything decodable as an object is accepted.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		if string(b) == "null" {
			return nil
		}
		return fmt.Errorf("statistics: %w", err)
	}
	out := statsDocument{}
	for k, v := range raw {
		var n int
		if json.Unmarshal(v, &n) == nil {
			out[k] = n
		}
	}
	*d = out
	return nil
}
