package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/homecharge/core/collect"
	"github.com/kilianp07/homecharge/core/metrics"
	"github.com/kilianp07/homecharge/infra/chargepoint"
	"github.com/kilianp07/homecharge/infra/mqtt"
	"github.com/kilianp07/homecharge/infra/notify"
)

// EnvPrefix prefixes environment overrides: HC_VENDOR__USERNAME sets
// vendor.username.
const EnvPrefix = "HC_"

type Config struct {
	Vendor     chargepoint.Config `json:"vendor"`
	Storage    StorageConfig      `json:"storage"`
	Classifier ClassifierConfig   `json:"classifier"`
	Charge     ChargeConfig       `json:"charge"`
	Collect    collect.Config     `json:"collect"`
	Monitor    MonitorConfig      `json:"monitor"`
	Metrics    metrics.Config     `json:"metrics"`
	MQTT       mqtt.Config        `json:"mqtt"`
	Notify     notify.Config      `json:"notify"`
	Log        LogConfig          `json:"log"`
}

// Load reads the YAML or JSON file at path, applies environment overrides
// and defaults, and validates the result. A missing file is not an error:
// defaults and environment apply alone. Vendor credentials are checked by
// the commands that talk to the vendor.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parser); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.applyLegacyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

// applyLegacyEnv honours CP_USERNAME, CP_PASSWORD and CP_STATION_ID when
// the corresponding setting is still empty.
func (c *Config) applyLegacyEnv() {
	for name, dst := range map[string]*string{
		"CP_USERNAME":   &c.Vendor.Username,
		"CP_PASSWORD":   &c.Vendor.Password,
		"CP_STATION_ID": &c.Vendor.StationID,
	} {
		if *dst == "" {
			*dst = os.Getenv(name)
		}
	}
}

// SetDefaults defaults every section.
func (c *Config) SetDefaults() {
	c.Storage.SetDefaults()
	c.Vendor.SetDefaults()
	if c.Vendor.TokenPath == "" {
		c.Vendor.TokenPath = filepath.Join(c.Storage.DataDir, ".chargepoint_token")
	}
	if c.Vendor.CachePath == "" {
		c.Vendor.CachePath = filepath.Join(c.Storage.DataDir, ".chargepoint_cache.json")
	}
	c.Classifier.SetDefaults()
	c.Charge.SetDefaults()
	c.Collect.SetDefaults()
	c.Monitor.SetDefaults()
	c.MQTT.SetDefaults()
	c.Notify.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section except vendor credentials.
func (c Config) Validate() error {
	for _, v := range []interface{ Validate() error }{c.Classifier, c.Charge, c.Monitor, c.MQTT, c.Notify, c.Log} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
