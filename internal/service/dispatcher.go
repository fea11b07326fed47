package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/message-oven/internal/client"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/suppression"
	"github.com/LeventeLantos/message-oven/internal/template"
)

// Provider sends a template message and returns the raw provider response.
type Provider interface {
	SendTemplate(ctx context.Context, creds model.Credentials, form template.WireForm) (json.RawMessage, error)
}

type Outcome int

const (
	Skipped Outcome = iota
	Sent
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Dispatcher sends one queued message. It never retries: a failure is
// recorded and the message is gone.
type Dispatcher struct {
	provider Provider
	builder  *template.Builder
	log      *slog.Logger
}

func NewDispatcher(p Provider, b *template.Builder, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{provider: p, builder: b, log: log}
}

// Send dispatches msg for acc. Suppressed recipients are dropped silently,
// with no provider call and no log entry.
func (d *Dispatcher) Send(ctx context.Context, acc *Account, msg model.PendingMessage) (outcome Outcome) {
	accountID := acc.ID()
	number := suppression.Digits(msg.Number)

	if acc.IsSuppressed(msg.Number) {
		d.log.Debug("oven message dispatched", "account_id", accountID, "outcome", Skipped.String(), "recipient", number)
		return Skipped
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("oven dispatch panic recovered", "account_id", accountID, "panic", r)
			d.fail(ctx, acc, fmt.Errorf("dispatch panic: %v", r), number)
			outcome = Failed
		}
	}()

	raw, err := d.provider.SendTemplate(ctx, acc.Credentials(), d.builder.Build(msg))
	if err != nil {
		d.fail(ctx, acc, err, number)
		return Failed
	}

	if err := acc.recordSent(ctx, raw); err != nil {
		d.log.Error("oven sent log write failed", "account_id", accountID, "error", err)
	}
	d.log.Info("oven message dispatched", "account_id", accountID, "outcome", Sent.String(), "recipient", number)
	return Sent
}

func (d *Dispatcher) fail(ctx context.Context, acc *Account, err error, number string) {
	accountID := acc.ID()
	if werr := acc.recordFailed(ctx, client.ErrorPayload(err), number); werr != nil {
		d.log.Error("oven failed log write failed", "account_id", accountID, "error", werr)
	}
	d.log.Warn("oven message dispatched", "account_id", accountID, "outcome", Failed.String(), "recipient", number, "error", err)
}
