package resource

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// DecisionKind is the event emitted on every scaler tick.
type DecisionKind string

const (
	DecisionScaleUp           DecisionKind = "scale_up"
	DecisionScaleDown         DecisionKind = "scale_down"
	DecisionNoChange          DecisionKind = "no_change"
	DecisionBottleneckDetected DecisionKind = "bottleneck_detected"
)

// Decision is one scaler tick's outcome.
type Decision struct {
	Kind       DecisionKind
	Stats      model.ResourceStats
	PrevLimit  int
	NewLimit   int
}

// Sampler is anything that can produce a ResourceStats sample; Monitor
// implements it, tests substitute a stub.
type Sampler interface {
	Sample() (model.ResourceStats, error)
}

// ScalerConfig carries the scaler's tunable thresholds (SPEC_FULL.md §4.2
// defaults: interval 10s, up=0.30, down=0.80, min=1, max=10).
type ScalerConfig struct {
	MonitorInterval time.Duration
	UpThreshold     float64
	DownThreshold   float64
	Min             int
	Max             int
}

// DefaultScalerConfig returns the spec's literal defaults.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		MonitorInterval: 10 * time.Second,
		UpThreshold:     0.30,
		DownThreshold:   0.80,
		Min:             1,
		Max:             10,
	}
}

// Scaler translates ResourceStats samples into a concurrency limit within
// [min,max], read concurrently by the DAG executor via an atomic load.
type Scaler struct {
	cfg          ScalerConfig
	sampler      Sampler
	currentLimit int64
	onDecision   func(Decision)
}

// NewScaler seeds current_limit at the given starting value (clamped to
// [min,max]) and stores the sampler used on each tick.
func NewScaler(cfg ScalerConfig, sampler Sampler, startLimit int, onDecision func(Decision)) *Scaler {
	if cfg.Min < 1 {
		cfg.Min = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	s := &Scaler{cfg: cfg, sampler: sampler, onDecision: onDecision}
	s.currentLimit = int64(clamp(startLimit, cfg.Min, cfg.Max))
	return s
}

// CurrentLimit is read concurrently by C6.
func (s *Scaler) CurrentLimit() int {
	return int(atomic.LoadInt64(&s.currentLimit))
}

// SetLimit manually overrides the limit, clamped to [min,max].
func (s *Scaler) SetLimit(n int) {
	atomic.StoreInt64(&s.currentLimit, int64(clamp(n, s.cfg.Min, s.cfg.Max)))
}

// Tick performs one scaler decision against a pre-sampled ResourceStats,
// applying the spec's exact decision algorithm. It is exported separately
// from Run so tests can drive it deterministically (S3, S4).
func (s *Scaler) Tick(stats model.ResourceStats) Decision {
	prev := s.CurrentLimit()
	next := prev
	kind := DecisionNoChange

	switch {
	case stats.MemoryRatio < s.cfg.UpThreshold && stats.CPURatio < s.cfg.UpThreshold && prev < s.cfg.Max:
		next = prev + 1
		kind = DecisionScaleUp
	case (stats.MemoryRatio > s.cfg.DownThreshold || stats.CPURatio > s.cfg.DownThreshold) && prev > s.cfg.Min:
		next = prev - 1
		kind = DecisionScaleDown
	}

	if stats.Bottleneck != model.BottleneckNone && kind == DecisionNoChange {
		kind = DecisionBottleneckDetected
	}

	atomic.StoreInt64(&s.currentLimit, int64(next))

	d := Decision{Kind: kind, Stats: stats, PrevLimit: prev, NewLimit: next}
	if s.onDecision != nil {
		s.onDecision(d)
	}
	return d
}

// Run samples at cfg.MonitorInterval until ctx is cancelled. Sample ticks
// are monotonic in time but not strictly periodic under load (SPEC_FULL.md
// §5): a slow sample simply delays the next tick rather than being skipped.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	everyErr := log.NewEvery(time.Minute)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.sampler.Sample()
			if err != nil {
				if everyErr.ShouldLog() && log.ErrorLog != nil {
					log.ErrorLog.Printf("resource sample failed: %v", err)
				}
				continue
			}
			s.Tick(stats)
		}
	}
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
