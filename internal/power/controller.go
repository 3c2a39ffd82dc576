// Package power adjusts the target frame-processing cadence from battery and
// thermal signals.
package power

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
)

// ThermalState classifies the device's thermal pressure.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalModerate
	ThermalSevere
)

// String returns the thermal state name for logging.
func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalModerate:
		return "moderate"
	case ThermalSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// Signals are the inputs to one rate evaluation. BatteryLevel is a fraction
// in [0, 1]; a negative value means unknown (e.g. mains powered).
type Signals struct {
	BatteryLevel float64
	Thermal      ThermalState
}

// Provider reads the current power signals.
type Provider interface {
	Read(ctx context.Context) (Signals, error)
}

// Controller recomputes the target processing rate on a fixed cadence. The
// rate only moves down within a single evaluation relative to throttling
// inputs, and recovers to the default on the next evaluation once inputs
// clear.
type Controller struct {
	settings *conf.Settings
	provider Provider
	metrics  *observability.Metrics
	log      *slog.Logger

	mu   sync.RWMutex
	rate float64
}

// NewController creates a controller starting at the default rate.
func NewController(settings *conf.Settings, provider Provider, metrics *observability.Metrics) *Controller {
	return &Controller{
		settings: settings,
		provider: provider,
		metrics:  metrics,
		log:      logging.ForService("power"),
		rate:     settings.Power.DefaultRate,
	}
}

// Run evaluates on the configured cadence until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.settings.Power.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evaluate(ctx)
		}
	}
}

// Evaluate reads the signals and recomputes the target rate. A provider
// failure keeps the previous rate.
func (c *Controller) Evaluate(ctx context.Context) {
	signals, err := c.provider.Read(ctx)
	if err != nil {
		c.log.Warn("power signal read failed, keeping rate", "error", err)
		return
	}

	p := c.settings.Power
	rate := p.DefaultRate

	if signals.Thermal == ThermalModerate ||
		(signals.BatteryLevel >= 0 && signals.BatteryLevel <= p.LowBattery) {
		rate = min(rate, p.ReducedRate)
	}
	if signals.Thermal == ThermalSevere ||
		(signals.BatteryLevel >= 0 && signals.BatteryLevel <= p.CriticalBattery) {
		rate = min(rate, p.MinimumRate)
	}
	if rate < p.MinimumRate {
		rate = p.MinimumRate
	}

	c.mu.Lock()
	changed := rate != c.rate
	c.rate = rate
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.TargetRate.Set(rate)
	}
	if changed {
		c.log.Info("target rate changed", "rate", rate,
			"battery", signals.BatteryLevel, "thermal", signals.Thermal.String())
	}
}

// Rate returns the current target rate in frames per second.
func (c *Controller) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// MinInterval returns the adaptive minimum inter-frame interval.
func (c *Controller) MinInterval() time.Duration {
	rate := c.Rate()
	if rate <= 0 {
		rate = c.settings.Power.MinimumRate
	}
	return time.Duration(float64(time.Second) / rate)
}
