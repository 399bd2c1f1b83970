package sensor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// ErrNoReading is returned when no plausible CPU sensor value was found.
var ErrNoReading = errors.New("no cpu temperature sensor found")

// Sensor name substrings used to identify CPU temperature sensors.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

const (
	minValidTemp = 0.0
	maxValidTemp = 150.0

	probeTimeout = 2 * time.Second
)

// HostTemperature reads the hottest CPU thermal sensor of the host.
type HostTemperature struct {
	sensors func(ctx context.Context) ([]host.TemperatureStat, error)
	logger  *zap.Logger
}

// NewHostTemperature creates a host thermal source. Pass nil for no logging.
func NewHostTemperature(logger *zap.Logger) *HostTemperature {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostTemperature{
		sensors: host.SensorsTemperaturesWithContext,
		logger:  logger,
	}
}

func (h *HostTemperature) Name() string { return KindHost }

// Read returns the maximum valid CPU sensor temperature.
func (h *HostTemperature) Read(ctx context.Context) (float64, error) {
	temps, err := h.sensors(ctx)
	if err != nil {
		// gopsutil reports partial failures alongside usable values.
		h.logger.Debug("Temperature sensors reported errors", zap.Error(err))
	}

	var hottest float64
	found := false
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		if !matchesSensor(strings.ToLower(t.SensorKey), cpuSensorKeys) {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest = t.Temperature
			found = true
		}
	}

	if !found {
		return 0, ErrNoReading
	}
	return hottest, nil
}

// IsAvailable probes the sensors once.
func (h *HostTemperature) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	_, err := h.Read(ctx)
	return err == nil
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
