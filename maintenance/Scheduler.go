// Package maintenance re-joins the overlay on a fixed schedule so a node recovers from
// partitions and routing-table decay without operator action.
package maintenance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/unpanicked"
	"github.com/benbjohnson/clock"
)

// Bootstrapper - The overlay operation the scheduler drives. Bootstrap must be safe to
// call while already bootstrapped.
type Bootstrapper interface {
	Bootstrap(entryAddr string) error
}

// SchedulerOptions - Inputs to NewScheduler.
type SchedulerOptions struct {
	Node         Bootstrapper
	EntryAddr    string
	InitialDelay time.Duration
	Interval     time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Scheduler - Runs Bootstrap once after InitialDelay and every Interval thereafter.
// Failures are logged and retried at the next tick.
type Scheduler struct {
	opts SchedulerOptions
	log  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		opts: opts,
		log:  logger.With("component", "maintenance"),
		stop: make(chan struct{}),
	}
}

// Start arms the first run and returns immediately.
func (s *Scheduler) Start() {
	timer := s.opts.Clock.Timer(s.opts.InitialDelay)
	s.log.Info("reconnect scheduled", "entry", s.opts.EntryAddr, "first_in", s.opts.InitialDelay, "every", s.opts.Interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer timer.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-timer.C:
				unpanicked.Run(s.log, "reconnect", s.reconnect)
				timer.Reset(s.opts.Interval)
			}
		}
	}()
}

func (s *Scheduler) reconnect() {
	start := s.opts.Clock.Now()
	if err := s.opts.Node.Bootstrap(s.opts.EntryAddr); err != nil {
		s.log.Warn("reconnect failed, retrying at next interval", "entry", s.opts.EntryAddr, "err", err)
		return
	}
	s.log.Info("reconnected", "entry", s.opts.EntryAddr, "took", s.opts.Clock.Since(start))
}

// Stop cancels future runs and waits for a run in progress. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
