package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/notify"
	"github.com/LeventeLantos/message-oven/internal/repo"
	"github.com/LeventeLantos/message-oven/internal/template"
)

var _ Provider = (*fakeProvider)(nil)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []template.WireForm

	// keyed by WireForm.To
	fail    map[string]error
	panicOn string

	// when non-nil every call blocks until it is closed
	block chan struct{}
}

func (p *fakeProvider) SendTemplate(ctx context.Context, creds model.Credentials, form template.WireForm) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, form)
	block := p.block
	err := p.fail[form.To]
	panicOn := p.panicOn
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if panicOn != "" && form.To == panicOn {
		panic("provider exploded")
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"messages":[{"id":"wamid.%s"}]}`, form.To)), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) recipients() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.calls))
	for _, c := range p.calls {
		out[c.To] = true
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *fakePublisher) last() notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// flakyRepo fails SaveFields while failSave is set.
type flakyRepo struct {
	*repo.MemoryAccountRepo

	mu       sync.Mutex
	failSave bool
}

func (r *flakyRepo) setFailSave(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSave = v
}

func (r *flakyRepo) SaveFields(ctx context.Context, a *model.Account, fields ...repo.Field) error {
	r.mu.Lock()
	fail := r.failSave
	r.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return r.MemoryAccountRepo.SaveFields(ctx, a, fields...)
}

type harness struct {
	store    *flakyRepo
	pub      *fakePublisher
	clock    *fakeClock
	provider *fakeProvider
	registry *Registry
	oven     *Oven
}

var t0 = time.UnixMilli(1_700_000_000_000)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    &flakyRepo{MemoryAccountRepo: repo.NewMemoryAccountRepo()},
		pub:      &fakePublisher{},
		clock:    &fakeClock{t: t0},
		provider: &fakeProvider{fail: map[string]error{}},
	}
	log := discardLogger()
	h.registry = NewRegistry(h.store, h.pub, WithRegistryClock(h.clock.Now), WithRegistryLogger(log))
	d := NewDispatcher(h.provider, template.NewBuilder("+55"), log)
	h.oven = NewOven(h.registry, d, WithOvenClock(h.clock.Now), WithOvenLogger(log))
	t.Cleanup(h.oven.Wait)
	return h
}

func (h *harness) newAccount(t *testing.T, tenant string) *Account {
	t.Helper()

	acc, err := h.registry.Create(context.Background(), CreateForm{
		TenantID:    tenant,
		Credentials: model.Credentials{Token: "tok", PhoneID: "phone", BusinessID: "biz", AppID: "app"},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return acc
}

// activeAccount returns a resumed account with the given batch size and
// queued messages.
func (h *harness) activeAccount(t *testing.T, batchSize int, msgs ...model.PendingMessage) *Account {
	t.Helper()
	ctx := context.Background()

	acc := h.newAccount(t, "tenant-1")
	if err := acc.UpdateSchedule(ctx, ScheduleUpdate{BatchSize: &batchSize}); err != nil {
		t.Fatalf("UpdateSchedule() error: %v", err)
	}
	if _, err := acc.EnqueueBatch(ctx, msgs); err != nil {
		t.Fatalf("EnqueueBatch() error: %v", err)
	}
	if err := acc.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	return acc
}

func msg(number string) model.PendingMessage {
	return model.PendingMessage{Number: number, Template: "promo", Language: "pt_BR"}
}

func numbers(q []model.PendingMessage) []string {
	out := make([]string, 0, len(q))
	for _, m := range q {
		out = append(out, m.Number)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// waitFor polls cond until it holds or fails the test after timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
