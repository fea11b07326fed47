// Package notify fans account state changes out to external consumers.
package notify

import (
	"context"

	"github.com/LeventeLantos/message-oven/internal/model"
)

type EventKind string

const (
	AccountUpdated  EventKind = "account:update"
	AccountDeleted  EventKind = "account:delete"
	InboundReceived EventKind = "account:message"
)

// Event carries the full account snapshot after a change. Inbound is set for
// InboundReceived.
type Event struct {
	Kind    EventKind             `json:"event"`
	Account model.Account         `json:"account"`
	Inbound *model.InboundMessage `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
