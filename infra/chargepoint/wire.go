package chargepoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// id decodes identifiers the API sends either as numbers or strings.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*i = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*i = id(n.String())
	return nil
}

// epochMillis decodes an epoch-millisecond number.
type epochMillis time.Time

func (e *epochMillis) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	ms, err := strconv.ParseInt(string(bytes.TrimSpace(b)), 10, 64)
	if err != nil {
		return fmt.Errorf("epoch millis: %w", err)
	}
	*e = epochMillis(time.UnixMilli(ms).UTC())
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
	User      struct {
		UserID id `json:"userId"`
	} `json:"user"`
}

type mfhs struct{}

type userStatusResponse struct {
	UserStatus *struct {
		Charging *struct {
			SessionID id     `json:"session_id"`
			State     string `json:"state"`
		} `json:"charging"`
	} `json:"user_status"`
}

type pandasResponse struct {
	GetPandas *struct {
		DeviceIDs []id `json:"device_ids"`
	} `json:"get_pandas"`
}

type pandaStatusResponse struct {
	GetPandaStatus *struct {
		IsConnected     bool        `json:"is_connected"`
		IsPluggedIn     bool        `json:"is_plugged_in"`
		ChargingStatus  string      `json:"charging_status"`
		Model           string      `json:"model"`
		LastConnectedAt epochMillis `json:"last_connected_at"`
	} `json:"get_panda_status"`
}

type startResponse struct {
	StartSession *struct {
		SessionID id     `json:"session_id"`
		Status    string `json:"status"`
		Error     string `json:"error"`
	} `json:"start_session"`
}

type activityResponse struct {
	ChargingStatus *struct {
		SessionID      id             `json:"session_id"`
		PowerKW        *float64       `json:"power_kw"`
		EnergyKWh      *float64       `json:"energy_kwh"`
		ChargingTimeMS *float64       `json:"charging_time"`
		CurrentStatus  string         `json:"current_charging"`
		PowerSamples   []powerReading `json:"power_samples"`
		Samples        []powerReading `json:"samples"`
		UpdateData     []powerReading `json:"update_data"`
	} `json:"charging_status"`
}

// powerReading is either a bare kW number or an object with power_kw.
type powerReading struct {
	KW *float64
}

func (p *powerReading) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			PowerKW *float64 `json:"power_kw"`
			Power   *float64 `json:"power"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		p.KW = obj.PowerKW
		if p.KW == nil {
			p.KW = obj.Power
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("power reading: %w", err)
	}
	p.KW = &v
	return nil
}

func readings(lists ...[]powerReading) []float64 {
	for _, l := range lists {
		if len(l) == 0 {
			continue
		}
		out := make([]float64, 0, len(l))
		for _, r := range l {
			if r.KW != nil {
				out = append(out, *r.KW)
			}
		}
		return out
	}
	return nil
}

type monthlyRequest struct {
	PageSize                   int    `json:"page_size"`
	ShowAddressForHomeSessions bool   `json:"show_address_for_home_sessions"`
	PageOffset                 string `json:"page_offset,omitempty"`
}

type monthlyResponse struct {
	ChargingActivity *struct {
		Sessions   []map[string]any `json:"sessions"`
		PageOffset string           `json:"page_offset"`
	} `json:"charging_activity"`
	ChargingActivityMonthly *struct {
		MonthInfo []struct {
			Sessions []map[string]any `json:"sessions"`
		} `json:"month_info"`
		PageOffset string `json:"page_offset"`
	} `json:"charging_activity_monthly"`
	PageOffset string `json:"page_offset"`
}

const lastPage = "last_page"

// page extracts the sessions and the next offset from either response form.
func (r monthlyResponse) page() (sessions []map[string]any, next string, ok bool) {
	switch {
	case r.ChargingActivity != nil:
		return r.ChargingActivity.Sessions, r.ChargingActivity.PageOffset, true
	case r.ChargingActivityMonthly != nil && len(r.ChargingActivityMonthly.MonthInfo) > 0:
		next = r.PageOffset
		if next == "" {
			next = r.ChargingActivityMonthly.PageOffset
		}
		return r.ChargingActivityMonthly.MonthInfo[0].Sessions, next, true
	}
	return nil, "", false
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}

func (e errorResponse) text() string {
	switch {
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return e.Message
	}
}
