package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	coremetrics "github.com/kilianp07/homecharge/core/metrics"
)

func TestFindScrapable(t *testing.T) {
	quiet, _ := newTestPromSink(t, PromConfig{})
	served, _ := newTestPromSink(t, PromConfig{ListenAddr: ":9108"})

	_, ok := FindScrapable(quiet)
	assert.False(t, ok, "no listen address")

	sc, ok := FindScrapable(coremetrics.NewMultiSink(coremetrics.NopSink{}, quiet, served))
	assert.True(t, ok)
	assert.Same(t, served, sc)

	_, ok = FindScrapable(coremetrics.NopSink{})
	assert.False(t, ok)
}
