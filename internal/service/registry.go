package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/notify"
	"github.com/LeventeLantos/message-oven/internal/repo"
)

var ErrAccountNotFound = errors.New("account not found")

// DefaultStopPhrase is the inbound text that opts a sender out of promotions.
const DefaultStopPhrase = "parar promoções"

type Clock func() time.Time

type CreateForm struct {
	TenantID    string
	Credentials model.Credentials
}

// Registry owns every live Account. It is the only source of accounts for
// the oven.
type Registry struct {
	repo       repo.AccountRepository
	pub        notify.Publisher
	log        *slog.Logger
	now        Clock
	stopPhrase string

	mu    sync.RWMutex
	order []*Account
	byID  map[string]*Account
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

func WithRegistryClock(c Clock) RegistryOption {
	return func(r *Registry) { r.now = c }
}

func WithStopPhrase(phrase string) RegistryOption {
	return func(r *Registry) { r.stopPhrase = phrase }
}

func NewRegistry(store repo.AccountRepository, pub notify.Publisher, opts ...RegistryOption) *Registry {
	if pub == nil {
		pub = notify.Nop{}
	}
	r := &Registry{
		repo:       store,
		pub:        pub,
		log:        slog.Default(),
		now:        time.Now,
		stopPhrase: DefaultStopPhrase,
		byID:       make(map[string]*Account),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the registry contents with every stored account.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return apperr.E(apperr.Persistence, "load accounts", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = make([]*Account, 0, len(stored))
	r.byID = make(map[string]*Account, len(stored))
	for _, s := range stored {
		a := &Account{reg: r, state: *s}
		r.order = append(r.order, a)
		r.byID[s.ID] = a
	}
	r.log.Info("accounts loaded", "count", len(stored))
	return nil
}

// Create registers a new account: paused, empty queue and logs, never
// dispatched.
func (r *Registry) Create(ctx context.Context, form CreateForm) (*Account, error) {
	const op = "create account"
	switch {
	case form.TenantID == "":
		return nil, apperr.E(apperr.Validation, op, errors.New("tenant id is required"))
	case form.Credentials.Token == "":
		return nil, apperr.E(apperr.Validation, op, errors.New("token is required"))
	case form.Credentials.PhoneID == "":
		return nil, apperr.E(apperr.Validation, op, errors.New("phone id is required"))
	}

	now := r.now()
	state := model.Account{
		ID:          uuid.NewString(),
		TenantID:    form.TenantID,
		Credentials: form.Credentials,
		BatchSize:   model.DefaultBatchSize,
		Frequency:   model.DefaultFrequency,
		Paused:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.repo.Insert(ctx, &state); err != nil {
		return nil, apperr.E(apperr.Persistence, op, err)
	}

	a := &Account{reg: r, state: state}
	r.mu.Lock()
	r.order = append(r.order, a)
	r.byID[state.ID] = a
	r.mu.Unlock()

	r.log.Info("account created", "account_id", state.ID, "tenant_id", state.TenantID)
	a.publish(ctx, notify.AccountUpdated, a.Snapshot(), nil)
	return a, nil
}

func (r *Registry) FindByID(id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "find account", fmt.Errorf("%w: %s", ErrAccountNotFound, id))
	}
	return a, nil
}

func (r *Registry) ListByTenant(tenantID string) []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Account
	for _, a := range r.order {
		if a.TenantID() == tenantID {
			out = append(out, a)
		}
	}
	return out
}

// ListAll returns accounts in registration order.
func (r *Registry) ListAll() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Account(nil), r.order...)
}

// Delete removes the account from the store and the registry and returns the
// removed record. The oven stops considering it from the next tick on.
func (r *Registry) Delete(ctx context.Context, id string) (model.Account, error) {
	const op = "delete account"

	a, err := r.FindByID(id)
	if err != nil {
		return model.Account{}, err
	}

	a.mu.Lock()
	removed, err := r.repo.Delete(ctx, id)
	if err != nil {
		a.mu.Unlock()
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.E(apperr.NotFound, op, fmt.Errorf("%w: %s", ErrAccountNotFound, id))
		}
		return model.Account{}, apperr.E(apperr.Persistence, op, err)
	}
	a.deleted = true
	snap := a.state.Clone()
	a.mu.Unlock()

	r.mu.Lock()
	delete(r.byID, id)
	for i, v := range r.order {
		if v == a {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Info("account deleted", "account_id", id)
	a.publish(ctx, notify.AccountDeleted, snap, nil)
	return *removed, nil
}
