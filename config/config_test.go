package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `vendor:
  username: "driver@example.com"
  password: "secret"
  rate_limit: 3
  rate_period: 30s
storage:
  data_dir: "/srv/homecharge"
  labels: "labels.json"
classifier:
  min_confidence: 0.8
  timezone: "America/Los_Angeles"
charge:
  backoff: ["1s", "2s"]
collect:
  samples: 12
  interval: 5s
metrics:
  sinks:
    - type: "prometheus"
      conf:
        push_url: "http://pushgateway:9091"
mqtt:
  broker: "tcp://localhost:1883"
  qos: 1
notify:
  urls: ["ntfy://ntfy.sh/homecharge"]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"username", cfg.Vendor.Username, "driver@example.com"},
		{"rate_limit", cfg.Vendor.RateLimit, 3},
		{"rate_period", cfg.Vendor.RatePeriod, 30 * time.Second},
		{"page_size default", cfg.Vendor.PageSize, 10},
		{"token_path", cfg.Vendor.TokenPath, filepath.Join("/srv/homecharge", ".chargepoint_token")},
		{"cache_path", cfg.Vendor.CachePath, filepath.Join("/srv/homecharge", ".chargepoint_cache.json")},
		{"labels", cfg.Storage.Labels, filepath.Join("/srv/homecharge", "labels.json")},
		{"vehicles", cfg.Storage.Vehicles, filepath.Join("/srv/homecharge", "vehicle_config.json")},
		{"sessions", cfg.Storage.Sessions, filepath.Join("/srv/homecharge", "sessions")},
		{"min_confidence", cfg.Classifier.MinConfidence, 0.8},
		{"backoff", len(cfg.Charge.Backoff), 2},
		{"window_start", cfg.Charge.WindowStart, 5*time.Hour + 50*time.Minute},
		{"samples", cfg.Collect.Samples, 12},
		{"interval", cfg.Collect.Interval, 5 * time.Second},
		{"metrics_sink", cfg.Metrics.Sinks[0].Type, "prometheus"},
		{"push_url", cfg.Metrics.Sinks[0].Conf["push_url"], "http://pushgateway:9091"},
		{"mqtt qos", cfg.MQTT.QoS, byte(1)},
		{"mqtt prefix", cfg.MQTT.TopicPrefix, "homecharge"},
		{"notify", len(cfg.Notify.URLs), 1},
		{"log", cfg.Log.Level, "debug"},
		{"monitor retries", cfg.Monitor.Retries, 10},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
	assert.Equal(t, "America/Los_Angeles", cfg.Charge.Location().String())
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("HC_STORAGE__DATA_DIR", "/tmp/hc")
	t.Setenv("HC_LOG__LEVEL", "warn")
	t.Setenv("CP_USERNAME", "legacy@example.com")
	t.Setenv("CP_PASSWORD", "pw")
	t.Setenv("CP_STATION_ID", "123456")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hc", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("/tmp/hc", "runs.json"), cfg.Storage.Runs)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "legacy@example.com", cfg.Vendor.Username)
	assert.Equal(t, "123456", cfg.Vendor.StationID)
	assert.Equal(t, 0.9, cfg.Classifier.MinConfidence)
	assert.NoError(t, cfg.Vendor.Validate())
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("HC_VENDOR__USERNAME", "new@example.com")
	t.Setenv("CP_USERNAME", "old@example.com")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", cfg.Vendor.Username)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"charge": {"timezone": "Europe/Paris", "last_hour": 7}}`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Charge.LastHour)
	assert.Equal(t, "Europe/Paris", cfg.Charge.Timezone)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"config.toml": `x = 1`,
		"bad.yaml":    "classifier:\n  min_confidence: 1.5\n",
		"zone.yaml":   "charge:\n  timezone: Mars/Olympus\n",
		"window.yaml": "charge:\n  window_start: 7h\n  window_end: 6h\n",
		"level.yaml":  "log:\n  level: chatty\n",
		"qos.yaml":    "mqtt:\n  broker: tcp://b:1883\n  qos: 5\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
