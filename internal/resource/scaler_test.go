package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

func TestScalerScaleDownS3(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 5, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.85, CPURatio: 0.20})
	assert.Equal(t, DecisionScaleDown, d.Kind)
	assert.Equal(t, 4, s.CurrentLimit())
}

func TestScalerScaleUpS4(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 3, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.10, CPURatio: 0.15})
	assert.Equal(t, DecisionScaleUp, d.Kind)
	assert.Equal(t, 4, s.CurrentLimit())
}

func TestScalerNoChangeInBand(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 5, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.5, CPURatio: 0.5})
	assert.Equal(t, DecisionNoChange, d.Kind)
	assert.Equal(t, 5, s.CurrentLimit())
}

func TestScalerClampsAtMax(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 10, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.0, CPURatio: 0.0})
	assert.Equal(t, DecisionNoChange, d.Kind)
	assert.Equal(t, 10, s.CurrentLimit())
}

func TestScalerClampsAtMin(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 1, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.95, CPURatio: 0.95})
	assert.Equal(t, DecisionNoChange, d.Kind)
	assert.Equal(t, 1, s.CurrentLimit())
}

func TestScalerSetLimitClampsAboveMax(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 5, nil)

	s.SetLimit(20)
	assert.Equal(t, 10, s.CurrentLimit())
}

func TestScalerSetLimitClampsBelowMin(t *testing.T) {
	cfg := DefaultScalerConfig()
	s := NewScaler(cfg, nil, 5, nil)

	s.SetLimit(0)
	assert.Equal(t, 1, s.CurrentLimit())
}

func TestScalerBottleneckDetectedEventWhenWithinBand(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.UpThreshold = 0.1
	cfg.DownThreshold = 0.95
	s := NewScaler(cfg, nil, 5, nil)

	d := s.Tick(model.ResourceStats{MemoryRatio: 0.5, CPURatio: 0.5, Bottleneck: model.BottleneckMemory})
	assert.Equal(t, DecisionBottleneckDetected, d.Kind)
	assert.Equal(t, 5, s.CurrentLimit())
}
