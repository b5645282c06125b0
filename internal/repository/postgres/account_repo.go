package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NordCoder/authd/internal/domain/account"
	"github.com/NordCoder/authd/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ account.Store = (*AccountRepo)(nil)

type AccountRepo struct {
	db     *DB
	tx     Transactor
	outbox *OutboxRepo
}

func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// WithOutbox makes Insert enqueue an account.registered message in the same
// transaction as the account row.
func (r *AccountRepo) WithOutbox(tx Transactor, o *OutboxRepo) *AccountRepo {
	cp := *r
	cp.tx = tx
	cp.outbox = o
	return &cp
}

const (
	qAccountInsert = `
INSERT INTO accounts (id, email, password_hash)
VALUES ($1, $2, $3)
RETURNING id, email, password_hash, created_at;`

	qAccountByID = `
SELECT id, email, password_hash, created_at
FROM accounts
WHERE id = $1;`

	qAccountByEmail = `
SELECT id, email, password_hash, created_at
FROM accounts
WHERE email = $1;`
)

func (r *AccountRepo) Insert(ctx context.Context, email, passwordHash string) (*account.Account, error) {
	id := uuid.New()

	if r.outbox == nil || r.tx == nil {
		return r.insert(ctx, id, email, passwordHash)
	}

	var out *account.Account
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := r.insert(ctx, id, email, passwordHash)
		if err != nil {
			return err
		}
		data, err := json.Marshal(outbox.AccountRegisteredPayload{
			AccountID: a.ID,
			Email:     a.Email,
			CreatedAt: a.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal account.registered: %w", err)
		}
		if err := r.outbox.Enqueue(ctx, outbox.KeyAccountRegistered(a.ID), outbox.KindAccountRegistered, data); err != nil {
			return fmt.Errorf("enqueue account.registered: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AccountRepo) insert(ctx context.Context, id uuid.UUID, email, passwordHash string) (*account.Account, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var a account.Account
	if err := scanAccount(r.db.execQueryer(ctx).QueryRow(ctx, qAccountInsert, id, email, passwordHash), &a); err != nil {
		if isUniqueViolation(err) {
			return nil, account.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("account insert: %w", err)
	}
	return &a, nil
}

func (r *AccountRepo) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var a account.Account
	if err := scanAccount(r.db.execQueryer(ctx).QueryRow(ctx, qAccountByID, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var a account.Account
	if err := scanAccount(r.db.execQueryer(ctx).QueryRow(ctx, qAccountByEmail, email), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAccount(row pgx.Row, out *account.Account) error {
	if err := row.Scan(&out.ID, &out.Email, &out.PasswordHash, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.ErrNotFound
		}
		return fmt.Errorf("scan account: %w", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return nil
}
