package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kilianp07/homecharge/core/batch"
)

// StorageConfig locates the JSON documents. Relative file names are
// resolved against DataDir.
type StorageConfig struct {
	DataDir  string `json:"data_dir"`
	Sessions string `json:"sessions"`
	Labels   string `json:"labels"`
	Vehicles string `json:"vehicles"`
	Profiles string `json:"profiles"`
	Runs     string `json:"runs"`
	State    string `json:"state"`
}

// SetDefaults applies the data/ layout.
func (c *StorageConfig) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	def := func(p *string, name string) {
		if *p == "" {
			*p = name
		}
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(c.DataDir, *p)
		}
	}
	def(&c.Sessions, "sessions")
	def(&c.Labels, "session_vehicle_map.json")
	def(&c.Vehicles, "vehicle_config.json")
	def(&c.Profiles, "classifier_summary.json")
	def(&c.Runs, "runs.json")
	def(&c.State, "last_session.json")
}

// ClassifierConfig tunes batch labeling.
type ClassifierConfig struct {
	MinConfidence float64 `json:"min_confidence"`
	Timezone      string  `json:"timezone"`
}

// SetDefaults applies the 0.9 threshold and UTC calendar days.
func (c *ClassifierConfig) SetDefaults() {
	if c.MinConfidence == 0 {
		c.MinConfidence = batch.DefaultMinConfidence
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// Validate checks the threshold range and zone name.
func (c ClassifierConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("classifier: min_confidence must be within [0,1]")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}

// Location returns the zone batch calendar days are taken in.
func (c ClassifierConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChargeConfig tunes the start-charging workflow.
type ChargeConfig struct {
	Timezone     string          `json:"timezone"`
	WindowStart  time.Duration   `json:"window_start"`
	WindowEnd    time.Duration   `json:"window_end"`
	LastHour     int             `json:"last_hour"`
	PollInterval time.Duration   `json:"poll_interval"`
	Backoff      []time.Duration `json:"backoff"`
}

// SetDefaults applies the Pacific morning window.
func (c *ChargeConfig) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
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

// Validate checks the window and zone.
func (c ChargeConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("charge: %w", err)
	}
	if c.WindowEnd <= c.WindowStart || c.WindowEnd > 24*time.Hour {
		return fmt.Errorf("charge: window_end must follow window_start within the day")
	}
	if c.LastHour < 0 || c.LastHour > 23 {
		return fmt.Errorf("charge: last_hour must be within [0,23]")
	}
	return nil
}

// Location returns the charger's local zone.
func (c ChargeConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MonitorConfig tunes session detection.
type MonitorConfig struct {
	Retries       int           `json:"retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	// Every repeats checks when running as a daemon; zero runs once.
	Every time.Duration `json:"every"`
}

// SetDefaults applies 10 retries 2 s apart.
func (c *MonitorConfig) SetDefaults() {
	if c.Retries == 0 {
		c.Retries = 10
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
}

// Validate checks the retry policy.
func (c MonitorConfig) Validate() error {
	if c.Retries < 0 || c.RetryInterval < 0 || c.Every < 0 {
		return fmt.Errorf("monitor: durations and retries must not be negative")
	}
	return nil
}
