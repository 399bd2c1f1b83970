// Package scheduler drives the sensor node from a ticker. Every tick polls
// the node once; the node decides what work is due. The scheduler does NOT
// interpret readings itself, it invokes a callback when a cycle closes.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/ssn1/internal/sampler"
)

// DefaultPollInterval is used when New is given a non-positive interval.
const DefaultPollInterval = 10 * time.Millisecond

// Poller is the node being driven. *sampler.Node implements it.
type Poller interface {
	Poll(ctx context.Context) sampler.Outcome
}

// Scheduler polls a node at a fixed interval until its context ends.
type Scheduler struct {
	node     Poller
	interval time.Duration
	logger   *zap.Logger

	polls  uint64
	cycles uint64

	onCycleComplete func()
}

// New creates a Scheduler that polls node every interval.
func New(node Poller, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		node:     node,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// OnCycleComplete sets the callback invoked after each poll that closed a cycle.
func (s *Scheduler) OnCycleComplete(fn func()) {
	s.onCycleComplete = fn
}

// Start polls the node until ctx is cancelled. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Polling node", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped",
				zap.Uint64("polls", s.polls),
				zap.Uint64("cycles", s.cycles))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.polls++
	if s.node.Poll(ctx) != sampler.OutcomeCycleComplete {
		return
	}
	s.cycles++
	s.logger.Debug("Cycle closed", zap.Uint64("cycles", s.cycles))
	if s.onCycleComplete != nil {
		s.onCycleComplete()
	}
}

// Polls returns the number of polls performed so far.
func (s *Scheduler) Polls() uint64 { return s.polls }

// Cycles returns the number of cycles closed so far.
func (s *Scheduler) Cycles() uint64 { return s.cycles }
