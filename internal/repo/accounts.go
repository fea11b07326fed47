package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/message-oven/internal/model"
)

var ErrNotFound = errors.New("account not found")

// Field names a group of account columns that are written together.
type Field string

const (
	FieldCredentials  Field = "credentials"
	FieldSchedule     Field = "schedule"
	FieldPaused       Field = "paused"
	FieldQueue        Field = "queue"
	FieldLastDispatch Field = "last_dispatch"
	FieldSuppression  Field = "suppression"
	FieldSentLog      Field = "sent_log"
	FieldFailedLog    Field = "failed_log"
)

// AccountRepository persists accounts keyed by id. The queue, suppression
// list and logs are opaque encoded blobs to the store.
type AccountRepository interface {
	Insert(ctx context.Context, a *model.Account) error
	Get(ctx context.Context, id string) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Account, error)
	Delete(ctx context.Context, id string) (*model.Account, error)

	// SaveFields writes only the named field groups of a, in one statement.
	SaveFields(ctx context.Context, a *model.Account, fields ...Field) error

	AppendInbound(ctx context.Context, msg *model.InboundMessage) error
	ListInbound(ctx context.Context, accountID string) ([]model.InboundMessage, error)
}
