package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/suppression"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	token            TEXT NOT NULL DEFAULT '',
	app_id           TEXT NOT NULL DEFAULT '',
	business_id      TEXT NOT NULL DEFAULT '',
	phone_id         TEXT NOT NULL DEFAULT '',
	batch_size       INTEGER NOT NULL,
	frequency_ms     BIGINT NOT NULL,
	paused           BOOLEAN NOT NULL,
	last_dispatch_ms BIGINT NOT NULL DEFAULT 0,
	created_ms       BIGINT NOT NULL,
	updated_ms       BIGINT NOT NULL,
	queue            TEXT NOT NULL,
	suppression      TEXT NOT NULL,
	sent_log         TEXT NOT NULL,
	failed_log       TEXT NOT NULL
)`

const accountsTenantIndex = `CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id)`

const inboundSchemaPostgres = `
CREATE TABLE IF NOT EXISTS inbound_messages (
	id          BIGSERIAL PRIMARY KEY,
	account_id  TEXT NOT NULL,
	sender      TEXT NOT NULL,
	text        TEXT NOT NULL,
	name        TEXT NOT NULL,
	received_ms BIGINT NOT NULL
)`

const inboundSchemaSQLite = `
CREATE TABLE IF NOT EXISTS inbound_messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  TEXT NOT NULL,
	sender      TEXT NOT NULL,
	text        TEXT NOT NULL,
	name        TEXT NOT NULL,
	received_ms BIGINT NOT NULL
)`

const inboundAccountIndex = `CREATE INDEX IF NOT EXISTS idx_inbound_account ON inbound_messages(account_id)`

const accountColumns = `id, tenant_id, token, app_id, business_id, phone_id,
	batch_size, frequency_ms, paused, last_dispatch_ms, created_ms, updated_ms,
	queue, suppression, sent_log, failed_log`

// OpenPostgres opens a Postgres pool through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

type SQLAccountRepo struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAccountRepo(db *sql.DB, dialect Dialect) *SQLAccountRepo {
	return &SQLAccountRepo{db: db, dialect: dialect}
}

// Migrate creates the tables if they do not exist.
func (r *SQLAccountRepo) Migrate(ctx context.Context) error {
	inbound := inboundSchemaSQLite
	if r.dialect == Postgres {
		inbound = inboundSchemaPostgres
	}
	for _, stmt := range []string{accountsSchema, accountsTenantIndex, inbound, inboundAccountIndex} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLAccountRepo) Insert(ctx context.Context, a *model.Account) error {
	queue, err := encodeBlob(a.Queue)
	if err != nil {
		return err
	}
	supp, err := encodeBlob([]string(a.Suppression))
	if err != nil {
		return err
	}
	sent, err := encodeBlob(a.SentLog)
	if err != nil {
		return err
	}
	failed, err := encodeBlob(a.FailedLog)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		a.ID, a.TenantID,
		a.Credentials.Token, a.Credentials.AppID, a.Credentials.BusinessID, a.Credentials.PhoneID,
		a.BatchSize, a.Frequency.Milliseconds(), a.Paused, toMillis(a.LastDispatch),
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
		queue, supp, sent, failed,
	)
	return err
}

func (r *SQLAccountRepo) Get(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *SQLAccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_ms ASC, id ASC`)
}

func (r *SQLAccountRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? ORDER BY created_ms ASC, id ASC`, tenantID)
}

func (r *SQLAccountRepo) Delete(ctx context.Context, id string) (*model.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAccount(tx.QueryRowContext(ctx, r.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM inbound_messages WHERE account_id = ?`), id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM accounts WHERE id = ?`), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *SQLAccountRepo) SaveFields(ctx context.Context, a *model.Account, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	for _, f := range fields {
		switch f {
		case FieldCredentials:
			set("token", a.Credentials.Token)
			set("app_id", a.Credentials.AppID)
			set("business_id", a.Credentials.BusinessID)
			set("phone_id", a.Credentials.PhoneID)
			set("updated_ms", toMillis(a.UpdatedAt))
		case FieldSchedule:
			set("batch_size", a.BatchSize)
			set("frequency_ms", a.Frequency.Milliseconds())
		case FieldPaused:
			set("paused", a.Paused)
		case FieldLastDispatch:
			set("last_dispatch_ms", toMillis(a.LastDispatch))
		case FieldQueue:
			v, err := encodeBlob(a.Queue)
			if err != nil {
				return err
			}
			set("queue", v)
		case FieldSuppression:
			v, err := encodeBlob([]string(a.Suppression))
			if err != nil {
				return err
			}
			set("suppression", v)
		case FieldSentLog:
			v, err := encodeBlob(a.SentLog)
			if err != nil {
				return err
			}
			set("sent_log", v)
		case FieldFailedLog:
			v, err := encodeBlob(a.FailedLog)
			if err != nil {
				return err
			}
			set("failed_log", v)
		default:
			return fmt.Errorf("unknown field %q", f)
		}
	}

	args = append(args, a.ID)
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLAccountRepo) AppendInbound(ctx context.Context, msg *model.InboundMessage) error {
	return r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO inbound_messages (account_id, sender, text, name, received_ms)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), msg.AccountID, msg.Sender, msg.Text, msg.Name, toMillis(msg.Timestamp)).Scan(&msg.ID)
}

func (r *SQLAccountRepo) ListInbound(ctx context.Context, accountID string) ([]model.InboundMessage, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, account_id, sender, text, name, received_ms
		FROM inbound_messages
		WHERE account_id = ?
		ORDER BY id ASC
	`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InboundMessage
	for rows.Next() {
		var m model.InboundMessage
		var received int64
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Sender, &m.Text, &m.Name, &received); err != nil {
			return nil, err
		}
		m.Timestamp = fromMillis(received)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLAccountRepo) query(ctx context.Context, q string, args ...any) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *SQLAccountRepo) rebind(q string) string {
	if r.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	var (
		a                               model.Account
		frequencyMS, lastMS             int64
		createdMS, updatedMS            int64
		queue, supp, sentLog, failedLog string
	)
	if err := s.Scan(
		&a.ID, &a.TenantID,
		&a.Credentials.Token, &a.Credentials.AppID, &a.Credentials.BusinessID, &a.Credentials.PhoneID,
		&a.BatchSize, &frequencyMS, &a.Paused, &lastMS, &createdMS, &updatedMS,
		&queue, &supp, &sentLog, &failedLog,
	); err != nil {
		return nil, err
	}

	a.Frequency = time.Duration(frequencyMS) * time.Millisecond
	a.LastDispatch = fromMillis(lastMS)
	a.CreatedAt = fromMillis(createdMS)
	a.UpdatedAt = fromMillis(updatedMS)

	var err error
	if a.Queue, err = decodeBlob[model.PendingMessage](queue); err != nil {
		return nil, fmt.Errorf("account %s queue: %w", a.ID, err)
	}
	keys, err := decodeBlob[string](supp)
	if err != nil {
		return nil, fmt.Errorf("account %s suppression: %w", a.ID, err)
	}
	a.Suppression = suppression.List(keys)
	if a.SentLog, err = decodeBlob[model.DeliveryRecord](sentLog); err != nil {
		return nil, fmt.Errorf("account %s sent log: %w", a.ID, err)
	}
	if a.FailedLog, err = decodeBlob[model.FailureRecord](failedLog); err != nil {
		return nil, fmt.Errorf("account %s failed log: %w", a.ID, err)
	}
	return &a, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
