package lock

import (
	"context"
	"sync"
	"time"

	"github.com/spike-events/spike-directory/pkg/service"
)

type SweeperOptions struct {
	// Interval between sweeps. Defaults to the TTL.
	Interval time.Duration
	Events   Publisher
	Metrics  *Metrics
	Logger   service.Logger
	Debug    bool
}

// Sweeper periodically deletes locks older than the TTL. A failed sweep is
// logged and retried on the next tick.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	events   Publisher
	metrics  *Metrics
	logger   service.Logger
	debug    bool

	m      sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store Store, ttl time.Duration, opts SweeperOptions) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, invalidArgument("sweeper requires a positive ttl, got %s", ttl)
	}
	if opts.Interval <= 0 {
		opts.Interval = ttl
	}
	if opts.Events == nil {
		opts.Events = NopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = service.DefaultLogger("sweeper: ")
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: opts.Interval,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		debug:    opts.Debug,
	}, nil
}

func (s *Sweeper) Name() string {
	return "lock-sweeper"
}

// Start runs the sweep loop in the background until ctx is done or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.m.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.m.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepSafely(ctx)
		}
	}
}

func (s *Sweeper) sweepSafely(ctx context.Context) {
	defer service.DeferRecover(s.logger)
	_, _ = s.Sweep(ctx)
}

// Sweep deletes expired locks once and reports how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.debug {
		s.logger.Printf("sweeper: deleting locks older than %s", s.ttl)
	}
	removed, err := s.store.DeleteExpired(ctx, s.ttl)
	s.metrics.observeSweep(removed, err)
	if err != nil {
		s.logger.Printf("sweeper: failed to delete expired locks: %v", err)
		return 0, err
	}
	s.logger.Printf("sweeper: deleted locks: %d", removed)
	if removed > 0 {
		e := newEvent(EventSwept, nil)
		e.Removed = removed
		if err = s.events.Publish(ctx, e); err != nil {
			s.logger.Printf("sweeper: failed to publish sweep event: %v", err)
		}
	}
	return removed, nil
}
