// Package monitor detects new charging sessions by comparing the vendor's
// current view with the last stored snapshot.
package monitor

import (
	"context"
	"time"

	"github.com/kilianp07/homecharge/core/chargerstate"
	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/vendor"
)

// Change classifies a check against the previous snapshot.
type Change string

const (
	NewSession  Change = "new"
	SameSession Change = "same"
	NoSession   Change = "none"
)

// Publisher announces monitor results, typically over MQTT.
type Publisher interface {
	PublishState(ctx context.Context, snap chargerstate.Snapshot) error
	PublishNewSession(ctx context.Context, snap chargerstate.Snapshot) error
	PublishPrediction(ctx context.Context, sessionID string, p model.Prediction) error
}

// Result is the outcome of one check.
type Result struct {
	Snapshot chargerstate.Snapshot
	Previous string
	Change   Change
}

// Monitor performs session checks.
type Monitor struct {
	Vendor    vendor.Client
	State     chargerstate.Store
	Publisher Publisher
	Sink      metrics.MetricsSink
	Log       logger.Logger
	Location  *time.Location
	// Retries and RetryInterval bound the wait for a session id once
	// charging is seen without one.
	Retries       int
	RetryInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Monitor with the default retry policy (10 x 2 s).
func New(v vendor.Client, state chargerstate.Store, pub Publisher, sink metrics.MetricsSink, log logger.Logger, loc *time.Location) *Monitor {
	return &Monitor{
		Vendor:        v,
		State:         state,
		Publisher:     pub,
		Sink:          sink,
		Log:           log,
		Location:      loc,
		Retries:       10,
		RetryInterval: 2 * time.Second,
	}
}

// Check takes one snapshot, stores it and publishes it.
func (m *Monitor) Check(ctx context.Context) (Result, error) {
	log := logger.OrNop(m.Log)
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}

	var st chargerstate.ChargerState
	chargers, err := m.Vendor.HomeChargers(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(chargers) > 0 {
		cs, err := m.Vendor.ChargerStatus(ctx, chargers[0])
		if err != nil {
			return Result{}, err
		}
		st = chargerstate.ChargerState{
			ChargerID:       chargers[0],
			Connected:       cs.Connected,
			PluggedIn:       cs.PluggedIn,
			ChargingStatus:  cs.ChargingStatus,
		}
		if !cs.LastConnectedAt.IsZero() {
			t := cs.LastConnectedAt.UTC()
			st.LastConnectedAt = &t
		}
		log.Infof("charger %s connected=%t plugged=%t state=%s", st.ChargerID, st.Connected, st.PluggedIn, st.ChargingStatus)
	} else {
		log.Warnf("no home chargers returned, skipping charger status")
	}

	user, err := m.Vendor.UserStatus(ctx)
	if err != nil {
		return Result{}, err
	}
	sessionID := user.SessionID
	if sessionID == "" && (user.State == vendor.UserStateInUse || st.ChargingStatus == vendor.StatusCharging) {
		log.Infof("charging detected without a session id, waiting for it")
		sessionID, err = m.awaitSessionID(ctx)
		if err != nil {
			return Result{}, err
		}
		st.Charging = true
		if sessionID == "" {
			log.Warnf("still no session id after %d attempts, will recheck next cycle", m.Retries)
		}
	}
	if sessionID != "" {
		st.Charging = true
		st.SessionID = sessionID
	}

	prev, _, err := m.State.Last()
	if err != nil {
		log.Warnf("read last snapshot: %v", err)
	}

	now := m.clock()
	snap := chargerstate.Snapshot{
		SessionID:  sessionID,
		Timestamp:  now.UTC(),
		DetectedAt: now.In(loc).Format("2006-01-02 15:04:05 MST"),
		Status:     st,
	}
	res := Result{Snapshot: snap, Previous: prev.SessionID}
	switch {
	case sessionID != "" && sessionID != prev.SessionID:
		res.Change = NewSession
		log.Infof("new session detected: %s", sessionID)
	case sessionID != "":
		res.Change = SameSession
		// keep what the collector learned about this session
		snap.VehicleID, snap.VehicleConfidence = prev.VehicleID, prev.VehicleConfidence
	default:
		res.Change = NoSession
	}
	if sessionID != "" {
		m.addActivity(ctx, &snap)
	}
	res.Snapshot = snap

	if err := m.State.Set(snap); err != nil {
		return res, err
	}
	m.publish(ctx, res)
	var power float64
	if snap.PowerKW != nil {
		power = *snap.PowerKW
	}
	if err := metrics.RecordChargerState(metrics.OrNop(m.Sink), metrics.ChargerStateEvent{
		DeviceID:       st.ChargerID,
		ChargingStatus: st.ChargingStatus,
		Connected:      st.Connected,
		PluggedIn:      st.PluggedIn,
		SessionID:      sessionID,
		PowerKW:        power,
		Time:           now,
	}); err != nil {
		log.Warnf("record charger state: %v", err)
	}
	return res, nil
}

// RecordVehicle attaches a classification to the stored snapshot when it
// still describes sessionID, and publishes the prediction.
func (m *Monitor) RecordVehicle(ctx context.Context, sessionID string, p model.Prediction) error {
	if m.Publisher != nil {
		if err := m.Publisher.PublishPrediction(ctx, sessionID, p); err != nil {
			logger.OrNop(m.Log).Warnf("publish prediction: %v", err)
		}
	}
	snap, ok, err := m.State.Last()
	if err != nil || !ok || snap.SessionID != sessionID || !p.Found() {
		return err
	}
	conf := p.Confidence
	snap.VehicleID, snap.VehicleConfidence = p.VehicleID, &conf
	return m.State.Set(snap)
}

func (m *Monitor) awaitSessionID(ctx context.Context) (string, error) {
	log := logger.OrNop(m.Log)
	for attempt := 1; attempt <= m.Retries; attempt++ {
		if err := m.wait(ctx, m.RetryInterval); err != nil {
			return "", err
		}
		u, err := m.Vendor.UserStatus(ctx)
		if err != nil {
			log.Warnf("user status attempt %d: %v", attempt, err)
			continue
		}
		if u.SessionID != "" {
			log.Infof("session id %s acquired after %s", u.SessionID, time.Duration(attempt)*m.RetryInterval)
			return u.SessionID, nil
		}
	}
	return "", nil
}

func (m *Monitor) addActivity(ctx context.Context, snap *chargerstate.Snapshot) {
	a, err := m.Vendor.SessionActivity(ctx, snap.SessionID)
	if err != nil {
		logger.OrNop(m.Log).Debugf("activity for %s: %v", snap.SessionID, err)
		return
	}
	snap.PowerKW, snap.EnergyKWh, snap.DurationMinutes = a.PowerKW, a.EnergyKWh, a.DurationMinutes
}

func (m *Monitor) publish(ctx context.Context, res Result) {
	if m.Publisher == nil {
		return
	}
	log := logger.OrNop(m.Log)
	if err := m.Publisher.PublishState(ctx, res.Snapshot); err != nil {
		log.Warnf("publish state: %v", err)
	}
	if res.Change == NewSession {
		if err := m.Publisher.PublishNewSession(ctx, res.Snapshot); err != nil {
			log.Warnf("publish new session: %v", err)
		}
	}
}

func (m *Monitor) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *Monitor) wait(ctx context.Context, d time.Duration) error {
	if m.sleep != nil {
		return m.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
