// provider.go: system power signal provider backed by gopsutil sensors and
// the kernel battery interface.
package power

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Thermal classification thresholds in degrees Celsius. Sensor readings vary
// by platform; the highest reported temperature wins.
const (
	moderateTempC = 70.0
	severeTempC   = 85.0
)

const batteryCapacityPath = "/sys/class/power_supply/BAT0/capacity"

// SystemProvider reads battery level from the kernel power-supply interface
// and thermal state from host temperature sensors.
type SystemProvider struct {
	batteryPath string
}

// NewSystemProvider creates a provider using the default kernel paths.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{batteryPath: batteryCapacityPath}
}

// Read implements Provider.
func (p *SystemProvider) Read(ctx context.Context) (Signals, error) {
	signals := Signals{
		BatteryLevel: p.readBattery(),
		Thermal:      p.readThermal(ctx),
	}
	return signals, nil
}

// readBattery returns the battery fraction, or -1 when no battery is
// exposed (mains powered devices report no capacity file).
func (p *SystemProvider) readBattery() float64 {
	data, err := os.ReadFile(p.batteryPath)
	if err != nil {
		return -1
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pct < 0 || pct > 100 {
		return -1
	}
	return float64(pct) / 100.0
}

// readThermal classifies the hottest reported sensor. Missing sensors mean
// nominal; throttling on absent data would starve the pipeline for nothing.
func (p *SystemProvider) readThermal(ctx context.Context) ThermalState {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		return ThermalNominal
	}
	hottest := 0.0
	for _, t := range temps {
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
	}
	switch {
	case hottest >= severeTempC:
		return ThermalSevere
	case hottest >= moderateTempC:
		return ThermalModerate
	default:
		return ThermalNominal
	}
}
