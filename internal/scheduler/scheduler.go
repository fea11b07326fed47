package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the oven checks accounts for due cycles.
const DefaultInterval = 5 * time.Second

// TickFunc runs once per tick. Its context is cancelled on Stop.
type TickFunc func(context.Context)

// Status is a point-in-time view of the loop, served by the control API.
type Status struct {
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"-"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	LastTick  time.Time     `json:"lastTick,omitzero"`
	Ticks     int64         `json:"ticks"`
	Panics    int64         `json:"panics"`
}

// Scheduler drives a TickFunc on a fixed interval. A panicking tick is
// recovered and the loop keeps going.
type Scheduler struct {
	interval time.Duration
	tick     TickFunc
	log      *slog.Logger
	now      func() time.Time

	running atomic.Bool
	ticks   atomic.Int64
	panics  atomic.Int64
	// unix nanos of the last tick start, 0 before the first tick
	lastTick atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(interval time.Duration, tick TickFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tick == nil {
		return nil, errors.New("tick func must not be nil")
	}
	s := &Scheduler{
		interval: interval,
		tick:     tick,
		log:      slog.Default(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the loop and ticks once immediately. It returns false when
// the loop is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = s.now()
	s.running.Store(true)

	go s.loop(ctx, s.done)
	return true
}

// Stop cancels the loop and waits for the current tick to return. Work the
// tick handed off to other goroutines is not waited for.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped", "ticks", s.ticks.Load())
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	st := Status{
		Running:  s.running.Load(),
		Interval: s.interval,
		Ticks:    s.ticks.Load(),
		Panics:   s.panics.Load(),
	}
	if st.Running {
		st.StartedAt = startedAt
	}
	if ns := s.lastTick.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "interval", s.interval.String())

	s.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
		s.lastTick.Store(start.UnixNano())
		s.ticks.Add(1)
	}()

	s.tick(ctx)
	s.log.Debug("scheduler tick completed", "duration_ms", s.now().Sub(start).Milliseconds())
}
