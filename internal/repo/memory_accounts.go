package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/LeventeLantos/message-oven/internal/model"
)

// MemoryAccountRepo keeps accounts in process memory. Records are copied on
// the way in and out so callers never share state with the store.
type MemoryAccountRepo struct {
	mu       sync.Mutex
	order    []string
	accounts map[string]model.Account
	inbound  []model.InboundMessage
	nextID   int64
}

func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{accounts: make(map[string]model.Account)}
}

func (r *MemoryAccountRepo) Insert(ctx context.Context, a *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	r.accounts[a.ID] = a.Clone()
	r.order = append(r.order, a.ID)
	return nil
}

func (r *MemoryAccountRepo) Get(ctx context.Context, id string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := a.Clone()
	return &c, nil
}

func (r *MemoryAccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	return r.filter(ctx, func(*model.Account) bool { return true })
}

func (r *MemoryAccountRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Account, error) {
	return r.filter(ctx, func(a *model.Account) bool { return a.TenantID == tenantID })
}

func (r *MemoryAccountRepo) Delete(ctx context.Context, id string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.accounts, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	kept := r.inbound[:0]
	for _, m := range r.inbound {
		if m.AccountID != id {
			kept = append(kept, m)
		}
	}
	r.inbound = kept
	return &a, nil
}

func (r *MemoryAccountRepo) SaveFields(ctx context.Context, a *model.Account, fields ...Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	src := a.Clone()
	for _, f := range fields {
		switch f {
		case FieldCredentials:
			cur.Credentials = src.Credentials
			cur.UpdatedAt = src.UpdatedAt
		case FieldSchedule:
			cur.BatchSize = src.BatchSize
			cur.Frequency = src.Frequency
		case FieldPaused:
			cur.Paused = src.Paused
		case FieldLastDispatch:
			cur.LastDispatch = src.LastDispatch
		case FieldQueue:
			cur.Queue = src.Queue
		case FieldSuppression:
			cur.Suppression = src.Suppression
		case FieldSentLog:
			cur.SentLog = src.SentLog
		case FieldFailedLog:
			cur.FailedLog = src.FailedLog
		default:
			return fmt.Errorf("unknown field %q", f)
		}
	}
	r.accounts[a.ID] = cur
	return nil
}

func (r *MemoryAccountRepo) AppendInbound(ctx context.Context, msg *model.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	msg.ID = r.nextID
	r.inbound = append(r.inbound, *msg)
	return nil
}

func (r *MemoryAccountRepo) ListInbound(ctx context.Context, accountID string) ([]model.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.InboundMessage
	for _, m := range r.inbound {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryAccountRepo) filter(ctx context.Context, keep func(*model.Account) bool) ([]*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Account
	for _, id := range r.order {
		a := r.accounts[id]
		if keep(&a) {
			c := a.Clone()
			out = append(out, &c)
		}
	}
	return out, nil
}
