// Package store owns the Postgres persistence for accounts, users, grants and
// transactions. Visibility scoping (which rows an identity may list) lives in
// the queries here; per-object authorization is the authz engine's job.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/investops/internal/domain"
)

type Store struct {
	db *pgxpool.Pool
}

func New(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// GetUser resolves a principal id to its persisted user, including the admin
// flag the identity middleware needs.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		"SELECT id, username, is_admin FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.IsAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user record. Used by the seeder; the service itself
// never registers users.
func (s *Store) CreateUser(ctx context.Context, username string, isAdmin bool) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		"INSERT INTO users (username, is_admin) VALUES ($1, $2) RETURNING id",
		username, isAdmin,
	).Scan(&id)
	return id, err
}

// GetTier returns the tier the user holds on the account, or ok=false when no
// grant exists. This is the authz engine's GrantSource.
func (s *Store) GetTier(ctx context.Context, userID, accountID int64) (domain.Tier, bool, error) {
	var raw string
	err := s.db.QueryRow(ctx,
		"SELECT tier FROM permission_grants WHERE user_id = $1 AND account_id = $2",
		userID, accountID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	tier, err := domain.ParseTier(raw)
	if err != nil {
		return 0, false, err
	}
	return tier, true, nil
}

// UpsertGrant creates the grant or replaces its tier. The (user, account)
// uniqueness is the table's primary key.
func (s *Store) UpsertGrant(ctx context.Context, g domain.PermissionGrant) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO permission_grants (user_id, account_id, tier) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, account_id) DO UPDATE SET tier = EXCLUDED.tier`,
		g.UserID, g.AccountID, g.Tier.String(),
	)
	return err
}

// RevokeGrant deletes the grant for (user, account).
func (s *Store) RevokeGrant(ctx context.Context, userID, accountID int64) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM permission_grants WHERE user_id = $1 AND account_id = $2",
		userID, accountID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGrantNotFound
	}
	return nil
}

// CreateAccount inserts the account and gives the creator a CRUD grant on it,
// atomically.
func (s *Store) CreateAccount(ctx context.Context, name string, creatorID int64) (*domain.Account, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var acc domain.Account
	acc.Name = name
	err = tx.QueryRow(ctx,
		"INSERT INTO accounts (name) VALUES ($1) RETURNING id, created_at", name,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO permission_grants (user_id, account_id, tier) VALUES ($1, $2, $3)",
		creatorID, acc.ID, domain.TierCRUD.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("creator grant failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, name, created_at FROM accounts WHERE id = $1", id,
	).Scan(&acc.ID, &acc.Name, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id int64, name string) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx,
		"UPDATE accounts SET name = $1 WHERE id = $2 RETURNING id, name, created_at",
		name, id,
	).Scan(&acc.ID, &acc.Name, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// DeleteAccount removes the account. Its transactions and grants go with it
// via the schema's ON DELETE CASCADE, so readers see either the full account
// or nothing.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListAccountsVisibleTo returns every account for admins, otherwise the
// accounts the identity holds any grant on. Ordered by id so repeated queries
// are stable.
func (s *Store) ListAccountsVisibleTo(ctx context.Context, identity domain.Identity) ([]domain.Account, error) {
	var rows pgx.Rows
	var err error
	if identity.Privileged {
		rows, err = s.db.Query(ctx, "SELECT id, name, created_at FROM accounts ORDER BY id")
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT a.id, a.name, a.created_at
			 FROM accounts a
			 JOIN permission_grants g ON g.account_id = a.id
			 WHERE g.user_id = $1
			 ORDER BY a.id`, identity.UserID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListTransactionsVisibleTo returns transactions on any account the identity
// holds a grant for, regardless of tier. The per-object retrieve check is a
// separate gate; list scoping only asks "has some grant".
func (s *Store) ListTransactionsVisibleTo(ctx context.Context, identity domain.Identity) ([]domain.Transaction, error) {
	var rows pgx.Rows
	var err error
	if identity.Privileged {
		rows, err = s.db.Query(ctx,
			"SELECT id, account_id, user_id, amount, created_at FROM transactions ORDER BY id")
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT t.id, t.account_id, t.user_id, t.amount, t.created_at
			 FROM transactions t
			 JOIN permission_grants g ON g.account_id = t.account_id
			 WHERE g.user_id = $1
			 ORDER BY t.id`, identity.UserID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// CreateTransaction inserts a posting. createdAt may be zero, in which case
// the row defaults to now.
func (s *Store) CreateTransaction(ctx context.Context, accountID, userID int64, amount decimal.Decimal, createdAt time.Time) (*domain.Transaction, error) {
	var t domain.Transaction
	var err error
	if createdAt.IsZero() {
		err = s.db.QueryRow(ctx,
			`INSERT INTO transactions (account_id, user_id, amount)
			 VALUES ($1, $2, $3) RETURNING id, account_id, user_id, amount, created_at`,
			accountID, userID, amount,
		).Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.CreatedAt)
	} else {
		err = s.db.QueryRow(ctx,
			`INSERT INTO transactions (account_id, user_id, amount, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id, account_id, user_id, amount, created_at`,
			accountID, userID, amount, createdAt,
		).Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.CreatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.QueryRow(ctx,
		"SELECT id, account_id, user_id, amount, created_at FROM transactions WHERE id = $1", id,
	).Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TransactionsForAccount returns every transaction on the account, for the
// aggregation service to filter. Errors with ErrAccountNotFound when the
// account does not exist, so callers can distinguish "empty" from "missing".
func (s *Store) TransactionsForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := s.db.Query(ctx,
		"SELECT id, account_id, user_id, amount, created_at FROM transactions WHERE account_id = $1 ORDER BY id",
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
