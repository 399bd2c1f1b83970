// Package sampler implements the sensor node: it takes one reading per
// interval, averages every CycleSize readings into the circular history,
// raises the alarm flag when an average leaves the warning band and hands
// each average to the protocol client for delivery. Delivery is driven from
// the same Poll call, at most one request in flight, and a failed delivery
// is dropped rather than retried.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/ssn1/internal/protocol"
	"github.com/Guliveer/ssn1/internal/sensor"
)

const (
	// CycleSize is the number of readings averaged per cycle.
	CycleSize = 60

	// DefaultDeviceID identifies the node in reports.
	DefaultDeviceID = "SSN1-UUID-12345"

	// DefaultInterval is the time between readings.
	DefaultInterval = time.Second
)

// ErrDisposed is returned when a disposed node is disposed again.
var ErrDisposed = errors.New("node disposed")

// Outcome is the result of one Poll.
type Outcome int

const (
	// OutcomeIdle means nothing was due.
	OutcomeIdle Outcome = iota
	// OutcomeSending means a delivery is outstanding and was driven.
	OutcomeSending
	// OutcomeReading means one reading was taken.
	OutcomeReading
	// OutcomeCycleComplete means an average was computed and logged.
	OutcomeCycleComplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeSending:
		return "sending"
	case OutcomeReading:
		return "reading"
	case OutcomeCycleComplete:
		return "cycle_complete"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Client delivers one report at a time. *protocol.Client implements it.
type Client interface {
	Submit(device string, ts time.Time, temperature float64, alarm bool) error
	Poll() (bool, error)
	OnResponse(fn protocol.ResponseFunc)
	Dispose() error
}

// Config holds the node's fixed settings.
type Config struct {
	DeviceID string
	Low      float64
	High     float64
	Interval time.Duration
}

// Option configures a Node.
type Option func(*Node)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		n.now = now
	}
}

// WithRecorder attaches an activity recorder.
func WithRecorder(r Recorder) Option {
	return func(n *Node) {
		if r != nil {
			n.recorder = r
		}
	}
}

// Node is a sampling and aggregation engine. It is not safe for
// concurrent use; a single caller polls it.
type Node struct {
	cfg      Config
	client   Client
	source   sensor.Source
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	reading float64
	sum     float64
	count   int
	history History
	alarm   bool

	sending      bool
	awaiting     bool
	lastResponse string

	lastSample time.Time
	cycleStart time.Time

	disposed bool
}

// New creates a node that owns client and registers for its responses.
func New(cfg Config, client Client, source sensor.Source, logger *zap.Logger, opts ...Option) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = DefaultDeviceID
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	n := &Node{
		cfg:      cfg,
		client:   client,
		source:   source,
		logger:   logger.Named("sampler"),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.cycleStart = n.now()
	n.lastSample = n.cycleStart
	client.OnResponse(n.handleResponse)
	return n
}

// Poll performs the highest-priority piece of due work: drive an
// outstanding delivery, close a full cycle, or take a reading.
func (n *Node) Poll(ctx context.Context) Outcome {
	if n.sending {
		n.pollDelivery()
		return OutcomeSending
	}

	now := n.now()

	if n.count >= CycleSize {
		n.completeCycle(now)
		return OutcomeCycleComplete
	}

	if now.Sub(n.lastSample) >= n.cfg.Interval {
		if n.sample(ctx, now) {
			return OutcomeReading
		}
	}

	return OutcomeIdle
}

func (n *Node) pollDelivery() {
	done, err := n.client.Poll()
	switch {
	case err != nil:
		n.logger.Warn("HTTP transaction failed", zap.Error(err))
		n.sending = false
		n.awaiting = false
		n.recorder.SendFailed()
	case done:
		n.logger.Info("HTTP transaction complete")
		n.sending = false
		n.recorder.SendCompleted()
	}
}

// completeCycle averages the cycle, logs it, evaluates the alarm and
// starts delivery. The cycle resets whether or not delivery started.
func (n *Node) completeCycle(now time.Time) {
	mean := n.sum / CycleSize
	n.history.Append(mean)
	n.alarm = mean < n.cfg.Low || mean > n.cfg.High

	n.logger.Info("Cycle average",
		zap.Float64("average_c", mean),
		zap.Int("history_index", n.history.Index()),
		zap.Bool("alarm", n.alarm))
	n.recorder.CycleCompleted(mean, n.alarm, n.history.Index())

	if err := n.client.Submit(n.cfg.DeviceID, n.lastSample, mean, n.alarm); err != nil {
		n.logger.Error("Failed to initiate HTTP send", zap.Error(err))
		n.recorder.SendFailed()
	} else {
		n.sending = true
		n.awaiting = true
		n.recorder.SendStarted()
	}

	n.sum = 0
	n.count = 0
	n.cycleStart = now
	n.lastSample = now
}

// sample takes one reading. A failed read is not counted.
func (n *Node) sample(ctx context.Context, now time.Time) bool {
	n.lastSample = now

	v, err := n.source.Read(ctx)
	if err != nil {
		n.logger.Warn("Reading failed", zap.String("source", n.source.Name()), zap.Error(err))
		return false
	}

	n.reading = v
	n.sum += v
	n.count++
	n.recorder.ReadingTaken(v)
	n.logger.Debug("Reading", zap.Int("n", n.count), zap.Float64("temp_c", v))
	return true
}

func (n *Node) handleResponse(resp string) {
	n.awaiting = false
	n.lastResponse = resp
	n.logger.Info("Server response", zap.String("response", resp))
}

// Dispose releases the protocol client and its connection.
func (n *Node) Dispose() error {
	if n.disposed {
		return ErrDisposed
	}
	n.disposed = true
	if err := n.client.Dispose(); err != nil {
		return fmt.Errorf("dispose client: %w", err)
	}
	n.logger.Info("Sensor disposed")
	return nil
}

// Alarm reports whether the latest cycle average was outside the band.
func (n *Node) Alarm() bool { return n.alarm }

// Sending reports whether a delivery is outstanding.
func (n *Node) Sending() bool { return n.sending }

// Awaiting reports whether the outstanding delivery has not yet produced a response.
func (n *Node) Awaiting() bool { return n.awaiting }

// Reading returns the most recent reading.
func (n *Node) Reading() float64 { return n.reading }

// CycleCount returns the number of readings in the current cycle.
func (n *Node) CycleCount() int { return n.count }

// LastResponse returns the most recent server response.
func (n *Node) LastResponse() string { return n.lastResponse }

// Thresholds returns the warning band.
func (n *Node) Thresholds() (low, high float64) { return n.cfg.Low, n.cfg.High }

// History returns a copy of the cycle average log.
func (n *Node) History() *History {
	h := n.history
	return &h
}

// CycleStart returns when the current cycle began.
func (n *Node) CycleStart() time.Time { return n.cycleStart }
