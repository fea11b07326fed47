package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/message-oven/internal/apperr"
)

var ErrCycleInFlight = errors.New("a cycle is already running for this account")

// CycleReport summarizes one batch cycle.
type CycleReport struct {
	AccountID string
	Started   time.Time
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
	Remaining int
	Duration  time.Duration
}

// Oven decides, per tick, which accounts are due and bakes them. It owns the
// per-account in-flight guard.
type Oven struct {
	registry   *Registry
	dispatcher *Dispatcher
	now        Clock
	log        *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

type OvenOption func(*Oven)

func WithOvenClock(c Clock) OvenOption {
	return func(o *Oven) { o.now = c }
}

func WithOvenLogger(l *slog.Logger) OvenOption {
	return func(o *Oven) { o.log = l }
}

func NewOven(reg *Registry, d *Dispatcher, opts ...OvenOption) *Oven {
	o := &Oven{
		registry:   reg,
		dispatcher: d,
		now:        time.Now,
		log:        slog.Default(),
		inflight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tick evaluates every registered account once, in registry order. Due
// accounts get a cycle started in the background; Tick does not wait for it.
// A failure evaluating one account is logged and the next one is evaluated.
func (o *Oven) Tick(ctx context.Context) {
	now := o.now()
	for _, acc := range o.registry.ListAll() {
		if ctx.Err() != nil {
			return
		}
		if err := o.evaluate(ctx, acc, now); err != nil {
			o.log.Error("oven account evaluation failed", "account_id", acc.ID(), "error", err)
		}
	}
}

func (o *Oven) evaluate(ctx context.Context, acc *Account, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.E(apperr.SchedulerIsolation, "evaluate account", fmt.Errorf("panic: %v", r))
		}
	}()

	if !acc.shouldBake(now) {
		return nil
	}

	id := acc.ID()
	if !o.acquire(id) {
		o.log.Debug("oven cycle still running, skipping", "account_id", id)
		return nil
	}

	// The cycle outlives the tick; cancelling the tick loop must not abort
	// provider calls already in flight.
	cycleCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(id)
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("oven cycle panic recovered", "account_id", id, "panic", r)
			}
		}()

		if _, err := o.bake(cycleCtx, acc, now); err != nil {
			o.log.Error("oven cycle failed", "account_id", id, "error", err)
		}
	}()
	return nil
}

// RunCycle runs one cycle for acc synchronously, regardless of dueness. It
// returns ErrCycleInFlight when a cycle for acc is already running. Wait
// covers cycles started here too.
func (o *Oven) RunCycle(ctx context.Context, acc *Account) (CycleReport, error) {
	id := acc.ID()
	if !o.acquire(id) {
		return CycleReport{AccountID: id}, ErrCycleInFlight
	}
	o.wg.Add(1)
	defer o.wg.Done()
	defer o.release(id)
	return o.bake(ctx, acc, o.now())
}

// Wait blocks until every cycle, scheduled or manual, has finished.
func (o *Oven) Wait() {
	o.wg.Wait()
}

func (o *Oven) InFlight(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[accountID]
	return ok
}

func (o *Oven) bake(ctx context.Context, acc *Account, start time.Time) (CycleReport, error) {
	batch, gen := acc.takeBatch()
	report := CycleReport{AccountID: acc.ID(), Started: start, Attempted: len(batch)}

	o.log.Info("oven cycle started", "account_id", report.AccountID, "batch", len(batch))

	var sent, failed, skipped atomic.Int64
	var g errgroup.Group
	for _, msg := range batch {
		g.Go(func() error {
			switch o.dispatcher.Send(ctx, acc, msg) {
			case Sent:
				sent.Add(1)
			case Failed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Sent = int(sent.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())

	remaining, err := acc.commitCycle(ctx, len(batch), gen, start)
	report.Remaining = remaining
	report.Duration = o.now().Sub(start)

	o.log.Info("oven cycle finished",
		"account_id", report.AccountID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"queue_after", report.Remaining,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, err
}

func (o *Oven) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[id]; ok {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Oven) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}
