// Package charging runs the morning start-charging workflow: wait for the
// car's own scheduled charge to finish, then start a session on the home
// charger and confirm it.
package charging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/homecharge/core/logger"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/vendor"
)

// Config tunes the workflow.
type Config struct {
	// Location is the charger's local time zone.
	Location *time.Location
	// WindowStart and WindowEnd bound, as offsets from local midnight, the
	// period during which the scheduled charge is expected to end.
	WindowStart time.Duration
	WindowEnd   time.Duration
	// LastHour is the latest local hour at which a scheduled run still
	// starts.
	LastHour     int
	PollInterval time.Duration
	// Backoff holds the wait before each post-timeout status check; its
	// length is the number of start attempts.
	Backoff []time.Duration
	// StationID is the station to start; defaults to the first charger.
	StationID string
	// RunID identifies the run in history; generated when empty.
	RunID string
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.WindowStart == 0 {
		c.WindowStart = 5*time.Hour + 50*time.Minute
	}
	if c.WindowEnd == 0 {
		c.WindowEnd = 6*time.Hour + 5*time.Minute
	}
	if c.LastHour == 0 {
		c.LastHour = 6
	}
	if c.PollInterval == 0 {
		c.PollInterval = 20 * time.Second
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
}

// Notifier alerts a human.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// RunStore persists run history.
type RunStore interface {
	Append(rec model.RunRecord) error
}

// Runner executes one run.
type Runner struct {
	Vendor   vendor.Client
	Runs     RunStore
	Notifier Notifier
	Sink     metrics.MetricsSink
	Log      logger.Logger
	Config   Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner with a defaulted config.
func NewRunner(v vendor.Client, runs RunStore, n Notifier, sink metrics.MetricsSink, log logger.Logger, cfg Config) *Runner {
	cfg.SetDefaults()
	return &Runner{Vendor: v, Runs: runs, Notifier: n, Sink: sink, Log: log, Config: cfg}
}

type outcome struct {
	result   model.RunResult
	reason   string
	details  string
	polling  time.Duration
	attempts int
	startAt  time.Time
}

// Run executes the workflow in mode, records the outcome and alerts on
// failure. The returned error is non-nil only when ctx ends the run early.
func (r *Runner) Run(ctx context.Context, mode model.RunType) (model.RunRecord, error) {
	r.Config.SetDefaults()
	log := logger.OrNop(r.Log)
	now := r.clock()
	log.Infof("charging run %s at %s", mode, now.In(r.Config.Location).Format("2006-01-02 15:04:05 MST"))

	var out outcome
	local := now.In(r.Config.Location)
	if mode.WaitsForSchedule() && local.Hour() > r.Config.LastHour {
		log.Infof("past charging window (hour %d), skipping", local.Hour())
		out = outcome{result: model.RunSuccess, reason: "Skipped: past charging window", startAt: now}
	} else {
		var err error
		out, err = r.charge(ctx, mode.WaitsForSchedule())
		if err != nil {
			return model.RunRecord{}, err
		}
	}

	rec := r.record(mode, out)
	if r.Runs != nil {
		if err := r.Runs.Append(rec); err != nil {
			log.Warnf("record run: %v", err)
		}
	}
	if err := metrics.RecordChargeRun(metrics.OrNop(r.Sink), metrics.ChargeRunEvent{
		RunType:         string(mode),
		Result:          string(out.result),
		Reason:          out.reason,
		Attempts:        out.attempts,
		PollingDuration: out.polling,
		Time:            r.clock(),
	}); err != nil {
		log.Warnf("record run metrics: %v", err)
	}
	if out.result == model.RunFailure && r.Notifier != nil {
		msg := fmt.Sprintf("%s run %s failed: %s", mode, rec.RunID, out.reason)
		if out.details != "" {
			msg += " (" + out.details + ")"
		}
		if err := r.Notifier.Notify(ctx, "Charging run failed", msg); err != nil {
			log.Warnf("notify: %v", err)
		}
	}
	log.Infow("charging run finished", map[string]any{
		"result": string(out.result),
		"reason": out.reason,
	})
	return rec, nil
}

func (r *Runner) record(mode model.RunType, out outcome) model.RunRecord {
	now := r.clock()
	local := now.In(r.Config.Location)
	id := r.Config.RunID
	if id == "" {
		id = uuid.NewString()
	}
	start := out.startAt
	if start.IsZero() {
		start = now
	}
	return model.RunRecord{
		RunID:              id,
		Date:               local.Format(model.DateLayout),
		TimeUTC:            now.UTC().Format(time.TimeOnly),
		TimePT:             local.Format(time.TimeOnly),
		Result:             out.result,
		StartTimePT:        start.In(r.Config.Location).Format(time.TimeOnly),
		PollingDurationSec: int(out.polling / time.Second),
		Reason:             out.reason,
		Details:            out.details,
		RunType:            mode,
	}
}

func (r *Runner) charge(ctx context.Context, waitForSchedule bool) (outcome, error) {
	log := logger.OrNop(r.Log)
	chargers, err := r.Vendor.HomeChargers(ctx)
	if err != nil {
		return r.apiFailure(ctx, err)
	}
	if len(chargers) == 0 {
		return outcome{result: model.RunFailure, reason: "No home chargers found"}, nil
	}
	chargerID := chargers[0]

	st, err := r.Vendor.ChargerStatus(ctx, chargerID)
	if err != nil {
		return r.apiFailure(ctx, err)
	}
	log.Infow("initial charger status", map[string]any{
		"charger_id": chargerID,
		"connected":  st.Connected,
		"plugged_in": st.PluggedIn,
		"status":     st.ChargingStatus,
	})
	if !st.Connected {
		return outcome{result: model.RunFailure, reason: "Charger offline", details: "charger " + chargerID}, nil
	}
	if !st.PluggedIn {
		return outcome{result: model.RunOther, reason: "No vehicle plugged in"}, nil
	}

	var polled time.Duration
	if waitForSchedule {
		if polled, err = r.waitForScheduleEnd(ctx, chargerID); err != nil {
			return outcome{}, err
		}
	}

	st, err = r.Vendor.ChargerStatus(ctx, chargerID)
	if err != nil {
		o, err := r.apiFailure(ctx, err)
		o.polling = polled
		return o, err
	}
	if !st.PluggedIn {
		return outcome{result: model.RunOther, reason: "Vehicle unplugged during polling", polling: polled}, nil
	}
	if st.Charging() {
		log.Warnf("scheduled charging still active after window, starting anyway")
	}

	station := r.Config.StationID
	if station == "" {
		station = chargerID
	}
	o := r.start(ctx, chargerID, station)
	o.polling = polled
	if ctx.Err() != nil {
		return outcome{}, ctx.Err()
	}
	return o, nil
}

// start tries to start a session, treating the vendor's start timeout as a
// possible false alarm that a status check can confirm.
func (r *Runner) start(ctx context.Context, chargerID, station string) outcome {
	log := logger.OrNop(r.Log)
	startAt := r.clock()
	attempts := len(r.Config.Backoff)
	for i := 1; i <= attempts; i++ {
		o := outcome{attempts: i, startAt: startAt}
		sessionID, err := r.Vendor.StartSession(ctx, station)
		if err == nil {
			log.Infof("charging session %s started on attempt %d", sessionID, i)
			o.result, o.reason = model.RunSuccess, "Charging session started successfully"
			if sessionID != "" {
				o.details = "session " + sessionID
			}
			return o
		}
		if !vendor.IsStartTimeout(err) {
			f, _ := r.apiFailure(ctx, err)
			f.attempts, f.startAt = i, startAt
			return f
		}

		log.Warnf("start timed out on attempt %d/%d", i, attempts)
		if err := r.wait(ctx, r.Config.Backoff[i-1]); err != nil {
			o.result, o.reason = model.RunFailure, "Interrupted"
			return o
		}
		st, err := r.Vendor.ChargerStatus(ctx, chargerID)
		if err != nil {
			log.Warnf("status check failed: %v", err)
			if i < attempts {
				continue
			}
			o.result, o.reason = model.RunFailure, "All retry attempts failed"
			return o
		}
		if !st.PluggedIn {
			o.result, o.reason = model.RunOther, "Vehicle unplugged before charging"
			return o
		}
		if st.Charging() {
			o.result, o.reason = model.RunSuccess, "Charging confirmed (false alarm timeout)"
			return o
		}
		if i == attempts {
			o.result = model.RunFailure
			o.reason = fmt.Sprintf("Failed to confirm charging after %d attempts", attempts)
			return o
		}
	}
	return outcome{result: model.RunFailure, reason: "No start attempt configured", startAt: startAt}
}

// waitForScheduleEnd polls the charger during the window until the car's
// scheduled charge stops, the car is unplugged, or the window closes.
func (r *Runner) waitForScheduleEnd(ctx context.Context, chargerID string) (time.Duration, error) {
	log := logger.OrNop(r.Log)
	began := r.clock()
	local := began.In(r.Config.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.Config.Location)
	windowStart := midnight.Add(r.Config.WindowStart)
	windowEnd := midnight.Add(r.Config.WindowEnd)

	if now := r.clock(); now.Before(windowStart) {
		log.Infof("early start: waiting %s until window opens", windowStart.Sub(now).Round(time.Second))
		if err := r.wait(ctx, windowStart.Sub(now)); err != nil {
			return 0, err
		}
	}

	for poll := 1; ; poll++ {
		now := r.clock()
		if now.After(windowEnd) {
			log.Infof("window closed, proceeding")
			return now.Sub(began), nil
		}
		st, err := r.Vendor.ChargerStatus(ctx, chargerID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Warnf("status check #%d failed: %v", poll, err)
		case !st.PluggedIn:
			log.Infof("vehicle unplugged during poll")
			return r.clock().Sub(began), nil
		case !st.Charging():
			log.Infof("scheduled charging ended (status %s)", st.ChargingStatus)
			return r.clock().Sub(began), nil
		default:
			log.Debugf("poll #%d: still charging", poll)
		}
		if err := r.wait(ctx, r.Config.PollInterval); err != nil {
			return 0, err
		}
	}
}

func (r *Runner) apiFailure(ctx context.Context, err error) (outcome, error) {
	if ctx.Err() != nil {
		return outcome{}, ctx.Err()
	}
	msg := err.Error()
	if r := []rune(msg); len(r) > 50 {
		msg = string(r[:50])
	}
	logger.OrNop(r.Log).Errorf("vendor API error: %v", err)
	return outcome{result: model.RunFailure, reason: "API error: " + msg, details: err.Error()}, nil
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
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
