package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/notify"
)

func TestRegistry_Create_Defaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.newAccount(t, "tenant-1")
	s := acc.Snapshot()

	if s.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !s.Paused {
		t.Fatalf("new accounts must start paused")
	}
	if s.BatchSize != model.DefaultBatchSize || s.Frequency != model.DefaultFrequency {
		t.Fatalf("unexpected schedule: batch=%d freq=%v", s.BatchSize, s.Frequency)
	}
	if len(s.Queue) != 0 || len(s.SentLog) != 0 || len(s.FailedLog) != 0 || len(s.Suppression) != 0 {
		t.Fatalf("expected empty collections, got %+v", s)
	}
	if !s.LastDispatch.IsZero() {
		t.Fatalf("expected never dispatched, got %v", s.LastDispatch)
	}
	if !s.CreatedAt.Equal(t0) {
		t.Fatalf("CreatedAt=%v want %v", s.CreatedAt, t0)
	}

	stored, err := h.store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("store Get() error: %v", err)
	}
	if stored.TenantID != "tenant-1" {
		t.Fatalf("stored tenant=%q", stored.TenantID)
	}

	if h.pub.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.pub.count())
	}
	if ev := h.pub.last(); ev.Kind != notify.AccountUpdated || ev.Account.ID != s.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRegistry_Create_Validation(t *testing.T) {
	h := newHarness(t)

	cases := []CreateForm{
		{Credentials: model.Credentials{Token: "t", PhoneID: "p"}},
		{TenantID: "x", Credentials: model.Credentials{PhoneID: "p"}},
		{TenantID: "x", Credentials: model.Credentials{Token: "t"}},
	}
	for i, form := range cases {
		if _, err := h.registry.Create(context.Background(), form); !apperr.Is(err, apperr.Validation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if got := len(h.registry.ListAll()); got != 0 {
		t.Fatalf("expected no accounts registered, got %d", got)
	}
}

func TestRegistry_FindByID_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.registry.FindByID("missing")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound in chain, got %v", err)
	}
}

func TestRegistry_ListByTenant(t *testing.T) {
	h := newHarness(t)

	a := h.newAccount(t, "tenant-a")
	h.newAccount(t, "tenant-b")
	c := h.newAccount(t, "tenant-a")

	got := h.registry.ListByTenant("tenant-a")
	if len(got) != 2 || got[0] != a || got[1] != c {
		t.Fatalf("unexpected tenant listing: %v", got)
	}
	if len(h.registry.ListByTenant("nobody")) != 0 {
		t.Fatalf("expected empty listing for unknown tenant")
	}
}

func TestRegistry_Delete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.newAccount(t, "tenant-1")
	if _, err := acc.Enqueue(ctx, msg("11999990001")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	id := acc.ID()

	removed, err := h.registry.Delete(ctx, id)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if removed.ID != id || len(removed.Queue) != 1 {
		t.Fatalf("unexpected removed record %+v", removed)
	}
	if ev := h.pub.last(); ev.Kind != notify.AccountDeleted || ev.Account.ID != id {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := h.registry.FindByID(id); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if len(h.registry.ListAll()) != 0 {
		t.Fatalf("deleted account still listed")
	}
	if _, err := h.store.Get(ctx, id); err == nil {
		t.Fatalf("deleted account still stored")
	}
	if err := acc.Pause(ctx); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("mutating a deleted handle: expected not found, got %v", err)
	}
	if _, err := h.registry.Delete(ctx, id); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func TestRegistry_Load(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.newAccount(t, "tenant-1")
	if _, err := acc.Enqueue(ctx, msg("11999990001")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := acc.Suppress(ctx, "11999990002"); err != nil {
		t.Fatalf("Suppress() error: %v", err)
	}

	fresh := NewRegistry(h.store, nil, WithRegistryLogger(discardLogger()))
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got, err := fresh.FindByID(acc.ID())
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	s := got.Snapshot()
	if len(s.Queue) != 1 || !got.IsSuppressed("11999990002") {
		t.Fatalf("reloaded state mismatch: %+v", s)
	}
}

func TestAccount_EnqueuePreservesFIFO(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")

	if _, err := acc.Enqueue(ctx, msg("1")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	n, err := acc.EnqueueBatch(ctx, []model.PendingMessage{msg("2"), msg("3")})
	if err != nil {
		t.Fatalf("EnqueueBatch() error: %v", err)
	}
	if n != 3 {
		t.Fatalf("queue length=%d want 3", n)
	}
	if _, err := acc.Enqueue(ctx, msg("4")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	want := []string{"1", "2", "3", "4"}
	if got := numbers(acc.Snapshot().Queue); !equalStrings(got, want) {
		t.Fatalf("queue=%v want %v", got, want)
	}

	stored, err := h.store.Get(ctx, acc.ID())
	if err != nil {
		t.Fatalf("store Get() error: %v", err)
	}
	if got := numbers(stored.Queue); !equalStrings(got, want) {
		t.Fatalf("stored queue=%v want %v", got, want)
	}
}

func TestAccount_EnqueueBatch_RejectsInvalidAtomically(t *testing.T) {
	h := newHarness(t)
	acc := h.newAccount(t, "tenant-1")

	bad := model.PendingMessage{Number: "2", Language: "pt_BR"}
	_, err := acc.EnqueueBatch(context.Background(), []model.PendingMessage{msg("1"), bad})
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if q := acc.Snapshot().Queue; len(q) != 0 {
		t.Fatalf("expected nothing queued, got %v", numbers(q))
	}
}

func TestAccount_ClearQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")

	if _, err := acc.EnqueueBatch(ctx, []model.PendingMessage{msg("1"), msg("2")}); err != nil {
		t.Fatalf("EnqueueBatch() error: %v", err)
	}
	if err := acc.ClearQueue(ctx); err != nil {
		t.Fatalf("ClearQueue() error: %v", err)
	}
	if q := acc.Snapshot().Queue; len(q) != 0 {
		t.Fatalf("expected empty queue, got %v", numbers(q))
	}
}

func TestAccount_UpdateSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")

	zero := 0
	if err := acc.UpdateSchedule(ctx, ScheduleUpdate{BatchSize: &zero}); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("batchSize 0: expected validation error, got %v", err)
	}
	neg := -time.Second
	if err := acc.UpdateSchedule(ctx, ScheduleUpdate{Frequency: &neg}); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("negative frequency: expected validation error, got %v", err)
	}

	batch, freq := 5, 30*time.Second
	if err := acc.UpdateSchedule(ctx, ScheduleUpdate{BatchSize: &batch, Frequency: &freq}); err != nil {
		t.Fatalf("UpdateSchedule() error: %v", err)
	}
	stored, err := h.store.Get(ctx, acc.ID())
	if err != nil {
		t.Fatalf("store Get() error: %v", err)
	}
	if stored.BatchSize != 5 || stored.Frequency != 30*time.Second {
		t.Fatalf("stored schedule batch=%d freq=%v", stored.BatchSize, stored.Frequency)
	}
}

func TestAccount_UpdateCredentials_Partial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")

	if err := acc.UpdateCredentials(ctx, model.Credentials{}); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}

	later := t0.Add(time.Hour)
	h.clock.Set(later)
	if err := acc.UpdateCredentials(ctx, model.Credentials{Token: "rotated"}); err != nil {
		t.Fatalf("UpdateCredentials() error: %v", err)
	}

	s := acc.Snapshot()
	if s.Credentials.Token != "rotated" || s.Credentials.PhoneID != "phone" {
		t.Fatalf("unexpected credentials %+v", s.Credentials)
	}
	if !s.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt=%v want %v", s.UpdatedAt, later)
	}
}

func TestAccount_PauseResumePublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")
	before := h.pub.count()

	if err := acc.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if acc.Snapshot().Paused {
		t.Fatalf("expected resumed")
	}
	if err := acc.Pause(ctx); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if !acc.Snapshot().Paused {
		t.Fatalf("expected paused")
	}
	if got := h.pub.count() - before; got != 2 {
		t.Fatalf("expected 2 notifications, got %d", got)
	}
	if !h.pub.last().Account.Paused {
		t.Fatalf("last notification should carry paused state")
	}
}

func TestAccount_SuppressIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")
	before := h.pub.count()

	for i := 0; i < 2; i++ {
		if err := acc.Suppress(ctx, "+55 (11) 99999-0001"); err != nil {
			t.Fatalf("Suppress() error: %v", err)
		}
	}
	s := acc.Snapshot()
	if len(s.Suppression) != 1 {
		t.Fatalf("expected a single suppression key, got %v", s.Suppression)
	}
	if got := h.pub.count() - before; got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}
	if !acc.IsSuppressed("5511999990001") {
		t.Fatalf("expected equivalent spelling to be suppressed")
	}

	if err := acc.Unsuppress(ctx, "5511999990001"); err != nil {
		t.Fatalf("Unsuppress() error: %v", err)
	}
	if err := acc.Unsuppress(ctx, "5511999990001"); err != nil {
		t.Fatalf("second Unsuppress() error: %v", err)
	}
	if acc.IsSuppressed("5511999990001") {
		t.Fatalf("expected number to be removed")
	}
	if got := h.pub.count() - before; got != 2 {
		t.Fatalf("expected two notifications in total, got %d", got)
	}
}

func TestAccount_ReceiveInbound_StopPhraseSuppresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")

	in, err := acc.ReceiveInbound(ctx, InboundForm{Sender: "5511999990001", Text: "PARAR PROMOÇÕES", Name: "Ana"})
	if err != nil {
		t.Fatalf("ReceiveInbound() error: %v", err)
	}
	if in.ID == 0 || in.AccountID != acc.ID() || !in.Timestamp.Equal(t0) {
		t.Fatalf("unexpected inbound record %+v", in)
	}
	if !acc.IsSuppressed("5511999990001") {
		t.Fatalf("expected sender to be suppressed")
	}

	if _, err := acc.ReceiveInbound(ctx, InboundForm{Sender: "5511999990002", Text: "oi"}); err != nil {
		t.Fatalf("ReceiveInbound() error: %v", err)
	}
	if acc.IsSuppressed("5511999990002") {
		t.Fatalf("ordinary text must not suppress")
	}

	msgs, err := acc.Inbound(ctx)
	if err != nil {
		t.Fatalf("Inbound() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 inbound messages, got %d", len(msgs))
	}

	var sawInbound bool
	for _, ev := range h.pub.events {
		if ev.Kind == notify.InboundReceived && ev.Inbound != nil && ev.Inbound.Text == "oi" {
			sawInbound = true
		}
	}
	if !sawInbound {
		t.Fatalf("expected an inbound notification")
	}
}

func TestAccount_ReceiveInbound_RequiresSender(t *testing.T) {
	h := newHarness(t)
	acc := h.newAccount(t, "tenant-1")

	if _, err := acc.ReceiveInbound(context.Background(), InboundForm{Text: "oi"}); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAccount_PersistenceErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.newAccount(t, "tenant-1")
	before := h.pub.count()

	h.store.setFailSave(true)
	err := acc.Resume(ctx)
	if !apperr.Is(err, apperr.Persistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	if acc.Snapshot().Paused {
		t.Fatalf("in-memory state should keep the change")
	}
	if got := h.pub.count() - before; got != 1 {
		t.Fatalf("expected the change to be published, got %d notifications", got)
	}

	stored, gerr := h.store.Get(ctx, acc.ID())
	if gerr != nil {
		t.Fatalf("store Get() error: %v", gerr)
	}
	if !stored.Paused {
		t.Fatalf("store should still hold the old state")
	}
}
