package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/notify"
	"github.com/LeventeLantos/message-oven/internal/repo"
)

// Account is the live handle of one integration. Every mutation holds the
// account lock across the in-memory change and its persistence write, so
// writes for one account never interleave.
type Account struct {
	reg *Registry

	mu      sync.Mutex
	state   model.Account
	deleted bool
	// queueGen changes whenever the queue is replaced wholesale, so a cycle
	// can tell its dispatched prefix is no longer at the head.
	queueGen uint64
}

type ScheduleUpdate struct {
	BatchSize *int
	Frequency *time.Duration
}

type InboundForm struct {
	Sender    string
	Text      string
	Name      string
	Timestamp time.Time
}

func (a *Account) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.ID
}

func (a *Account) TenantID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.TenantID
}

func (a *Account) Credentials() model.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Credentials
}

// Snapshot returns a deep copy of the current state.
func (a *Account) Snapshot() model.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

func (a *Account) IsSuppressed(number string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Suppression.Contains(number)
}

// UpdateCredentials replaces the non-empty fields of creds.
func (a *Account) UpdateCredentials(ctx context.Context, creds model.Credentials) error {
	const op = "update credentials"
	if creds == (model.Credentials{}) {
		return apperr.E(apperr.Validation, op, errors.New("no credential fields provided"))
	}
	return a.mutate(ctx, op, func(s *model.Account) (bool, error) {
		if creds.Token != "" {
			s.Credentials.Token = creds.Token
		}
		if creds.AppID != "" {
			s.Credentials.AppID = creds.AppID
		}
		if creds.BusinessID != "" {
			s.Credentials.BusinessID = creds.BusinessID
		}
		if creds.PhoneID != "" {
			s.Credentials.PhoneID = creds.PhoneID
		}
		s.UpdatedAt = a.reg.now()
		return true, nil
	}, repo.FieldCredentials)
}

func (a *Account) UpdateSchedule(ctx context.Context, u ScheduleUpdate) error {
	const op = "update schedule"
	if u.BatchSize != nil && *u.BatchSize < 1 {
		return apperr.E(apperr.Validation, op, errors.New("batchSize must be >= 1"))
	}
	if u.Frequency != nil && *u.Frequency < 0 {
		return apperr.E(apperr.Validation, op, errors.New("frequency must be >= 0"))
	}
	return a.mutate(ctx, op, func(s *model.Account) (bool, error) {
		if u.BatchSize != nil {
			s.BatchSize = *u.BatchSize
		}
		if u.Frequency != nil {
			s.Frequency = *u.Frequency
		}
		return true, nil
	}, repo.FieldSchedule)
}

// Pause stops future cycles; a cycle already running is not interrupted.
func (a *Account) Pause(ctx context.Context) error {
	return a.setPaused(ctx, true)
}

func (a *Account) Resume(ctx context.Context) error {
	return a.setPaused(ctx, false)
}

func (a *Account) setPaused(ctx context.Context, paused bool) error {
	return a.mutate(ctx, "set paused", func(s *model.Account) (bool, error) {
		s.Paused = paused
		return true, nil
	}, repo.FieldPaused)
}

func (a *Account) ClearQueue(ctx context.Context) error {
	return a.mutate(ctx, "clear queue", func(s *model.Account) (bool, error) {
		s.Queue = nil
		a.queueGen++
		return true, nil
	}, repo.FieldQueue)
}

// Enqueue appends msg to the queue and returns the new queue length.
func (a *Account) Enqueue(ctx context.Context, msg model.PendingMessage) (int, error) {
	return a.EnqueueBatch(ctx, []model.PendingMessage{msg})
}

// EnqueueBatch appends msgs in order. Nothing is queued unless every message
// is valid.
func (a *Account) EnqueueBatch(ctx context.Context, msgs []model.PendingMessage) (int, error) {
	const op = "enqueue"
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return 0, apperr.E(apperr.Validation, op, fmt.Errorf("message %d: %w", i, err))
		}
	}

	var n int
	err := a.mutate(ctx, op, func(s *model.Account) (bool, error) {
		s.Queue = append(s.Queue, msgs...)
		n = len(s.Queue)
		return len(msgs) > 0, nil
	}, repo.FieldQueue)
	return n, err
}

// Suppress adds number to the suppression list. Adding a present number is a
// no-op and publishes nothing.
func (a *Account) Suppress(ctx context.Context, number string) error {
	return a.mutate(ctx, "suppress", func(s *model.Account) (bool, error) {
		changed := s.Suppression.Add(number)
		if changed {
			a.reg.log.Info("number suppressed", "account_id", s.ID, "number", number)
		}
		return changed, nil
	}, repo.FieldSuppression)
}

func (a *Account) Unsuppress(ctx context.Context, number string) error {
	return a.mutate(ctx, "unsuppress", func(s *model.Account) (bool, error) {
		changed := s.Suppression.Remove(number)
		if changed {
			a.reg.log.Info("number unsuppressed", "account_id", s.ID, "number", number)
		}
		return changed, nil
	}, repo.FieldSuppression)
}

// ReceiveInbound records an inbound message. A text equal to the stop phrase
// (ignoring case) suppresses the sender.
func (a *Account) ReceiveInbound(ctx context.Context, in InboundForm) (model.InboundMessage, error) {
	const op = "receive inbound"
	if in.Sender == "" {
		return model.InboundMessage{}, apperr.E(apperr.Validation, op, errors.New("sender is required"))
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = a.reg.now()
	}

	msg := model.InboundMessage{
		AccountID: a.ID(),
		Sender:    in.Sender,
		Text:      in.Text,
		Name:      in.Name,
		Timestamp: in.Timestamp,
	}
	if err := a.reg.repo.AppendInbound(ctx, &msg); err != nil {
		return model.InboundMessage{}, apperr.E(apperr.Persistence, op, err)
	}
	a.publish(ctx, notify.InboundReceived, a.Snapshot(), &msg)

	if a.reg.stopPhrase != "" && strings.EqualFold(in.Text, a.reg.stopPhrase) {
		if err := a.Suppress(ctx, in.Sender); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

func (a *Account) Inbound(ctx context.Context) ([]model.InboundMessage, error) {
	msgs, err := a.reg.repo.ListInbound(ctx, a.ID())
	if err != nil {
		return nil, apperr.E(apperr.Persistence, "list inbound", err)
	}
	return msgs, nil
}

func (a *Account) shouldBake(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.deleted && a.state.ShouldBake(now)
}

// takeBatch copies the queue prefix the next cycle dispatches along with the
// queue generation it was taken from. The queue itself is only trimmed by
// commitCycle.
func (a *Account) takeBatch() ([]model.PendingMessage, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.PendingMessage(nil), a.state.Queue[:a.state.BatchLen()]...), a.queueGen
}

// commitCycle drops the dispatched prefix and stamps the cycle start. Both
// are persisted in a single write. If the queue was cleared since gen the
// prefix is already gone and the current queue is left alone.
func (a *Account) commitCycle(ctx context.Context, dispatched int, gen uint64, start time.Time) (int, error) {
	var remaining int
	err := a.mutate(ctx, "commit cycle", func(s *model.Account) (bool, error) {
		if a.queueGen == gen {
			s.Queue = s.Queue[min(dispatched, len(s.Queue)):]
		}
		if len(s.Queue) == 0 {
			s.Queue = nil
		}
		s.LastDispatch = start
		remaining = len(s.Queue)
		return true, nil
	}, repo.FieldQueue, repo.FieldLastDispatch)
	return remaining, err
}

func (a *Account) recordSent(ctx context.Context, data json.RawMessage) error {
	return a.appendLog(ctx, "record sent", func(s *model.Account) {
		s.SentLog = append(s.SentLog, model.DeliveryRecord{Timestamp: a.reg.now(), Data: data})
	}, repo.FieldSentLog)
}

func (a *Account) recordFailed(ctx context.Context, data json.RawMessage, number string) error {
	return a.appendLog(ctx, "record failed", func(s *model.Account) {
		s.FailedLog = append(s.FailedLog, model.FailureRecord{Timestamp: a.reg.now(), Data: data, Number: number})
	}, repo.FieldFailedLog)
}

// appendLog writes an audit entry without publishing; the cycle publishes
// once when it commits.
func (a *Account) appendLog(ctx context.Context, op string, fn func(s *model.Account), field repo.Field) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
	return a.save(ctx, op, field)
}

func (a *Account) mutate(ctx context.Context, op string, fn func(s *model.Account) (bool, error), fields ...repo.Field) error {
	a.mu.Lock()
	if a.deleted {
		id := a.state.ID
		a.mu.Unlock()
		return apperr.E(apperr.NotFound, op, fmt.Errorf("%w: %s", ErrAccountNotFound, id))
	}
	changed, err := fn(&a.state)
	if err != nil || !changed {
		a.mu.Unlock()
		return err
	}
	err = a.save(ctx, op, fields...)
	snap := a.state.Clone()
	a.mu.Unlock()

	// Published even when the write failed so consumers see the in-memory
	// state that is now ahead of the store.
	a.publish(ctx, notify.AccountUpdated, snap, nil)
	return err
}

// save must be called with a.mu held. Writes for a deleted account are
// dropped.
func (a *Account) save(ctx context.Context, op string, fields ...repo.Field) error {
	if a.deleted {
		return nil
	}
	if err := a.reg.repo.SaveFields(ctx, &a.state, fields...); err != nil {
		a.reg.log.Error("account write failed", "account_id", a.state.ID, "op", op, "error", err)
		return apperr.E(apperr.Persistence, op, err)
	}
	return nil
}

func (a *Account) publish(ctx context.Context, kind notify.EventKind, snap model.Account, inbound *model.InboundMessage) {
	if err := a.reg.pub.Publish(ctx, notify.Event{Kind: kind, Account: snap, Inbound: inbound}); err != nil {
		a.reg.log.Warn("state notification failed", "account_id", snap.ID, "event", string(kind), "error", err)
	}
}
