// Package sensor provides the reading sources a sensor node samples from.
// The simulated source draws uniformly between the warning thresholds; the
// host source reads the hottest CPU thermal sensor via gopsutil.
package sensor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Source produces one temperature reading (°C) per call.
type Source interface {
	// Name returns the unique identifier for this source.
	Name() string

	// Read takes one reading.
	Read(ctx context.Context) (float64, error)

	// IsAvailable checks if this source can run on the current machine.
	IsAvailable() bool
}

const (
	KindSimulated = "simulated"
	KindHost      = "host"
)

// Select returns the source for kind. An unavailable host source falls
// back to the simulated one.
func Select(kind string, low, high float64, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch kind {
	case "", KindSimulated:
		return NewSimulated(low, high, nil), nil
	case KindHost:
		src := NewHostTemperature(logger)
		if src.IsAvailable() {
			logger.Info("Using source", zap.String("name", src.Name()))
			return src, nil
		}
		logger.Warn("Source not available, falling back", zap.String("name", src.Name()),
			zap.String("fallback", KindSimulated))
		return NewSimulated(low, high, nil), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", kind)
	}
}
