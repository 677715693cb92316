package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Port     int
	Interval time.Duration
}

type sampleConf struct {
	Port     int           `json:"port"`
	Interval time.Duration `json:"interval"`
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*sample]()
	require.NoError(t, reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Port: c.Port, Interval: c.Interval}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"port": "9091", "interval": "15s"}})
	require.NoError(t, err)
	assert.Equal(t, 9091, inst.Port)
	assert.Equal(t, 15*time.Second, inst.Interval)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("y", nil))

	_, err := reg.Create(ModuleConfig{Type: "z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[x]")
	assert.Equal(t, []string{"x"}, reg.Names())
}
