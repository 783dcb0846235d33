package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a shared investment account. Access is always mediated by a
// PermissionGrant; the account itself carries no owner.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the persisted side of an identity. Authentication happens upstream;
// the store only resolves a principal id to its admin flag.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Identity is the resolved caller, threaded explicitly into every core call.
// The zero Identity is unauthenticated.
type Identity struct {
	UserID        int64
	Privileged    bool
	Authenticated bool
}

// PermissionGrant ties one user to one account with exactly one tier.
// At most one grant exists per (user, account) pair.
type PermissionGrant struct {
	UserID    int64 `json:"user_id"`
	AccountID int64 `json:"account_id"`
	Tier      Tier  `json:"tier"`
}

// Transaction is an immutable posting against an account. UserID records the
// creator and is kept even after that user's grant is revoked.
type Transaction struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountRequest is the DTO for account create/update calls. On create, the
// Account field names the account the caller exercises its tier against.
type AccountRequest struct {
	Name    string `json:"name"`
	Account string `json:"account,omitempty"`
}

// TransactionRequest is the DTO for posting a transaction. CreatedAt is only
// honored for privileged callers (backfill).
type TransactionRequest struct {
	Account   string     `json:"account"`
	Amount    string     `json:"amount"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// GrantRequest is the admin DTO for granting or replacing a tier.
type GrantRequest struct {
	UserID int64  `json:"user_id"`
	Tier   string `json:"tier"`
}

// AggregateResult is the aggregation payload: the filtered transactions plus
// their exact decimal sum, rendered with two decimal places.
type AggregateResult struct {
	Transactions []Transaction `json:"transactions"`
	TotalBalance string        `json:"total_balance"`
}
