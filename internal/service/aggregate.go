// Package service implements the privileged aggregation path: filtered
// transaction pulls with exact decimal balance sums. Only admins reach this
// code; the caller enforces that, not the authz engine.
package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/investops/internal/domain"
)

const dateLayout = "2006-01-02"

// TransactionSource supplies an account's full transaction history, erroring
// with domain.ErrAccountNotFound for unknown accounts.
type TransactionSource interface {
	TransactionsForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error)
}

// Filters are the raw, all-optional aggregation query parameters. They
// combine with logical AND. A filter that fails to parse is skipped, never an
// error; the remaining filters still apply.
type Filters struct {
	UserID    string
	StartDate string
	EndDate   string
}

type Aggregator struct {
	store TransactionSource
	loc   *time.Location
}

// NewAggregator builds an aggregator whose date-range boundaries are
// interpreted in loc. A nil loc means UTC.
func NewAggregator(store TransactionSource, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc}
}

// Aggregate returns the account's transactions narrowed by the filters, plus
// their sum as a fixed-point decimal string with exactly two places. An empty
// result sums to "0.00".
//
// The date filter only applies when both dates parse as calendar dates; the
// range covers [start of StartDate, end of EndDate] inclusive in the
// aggregator's time zone.
func (a *Aggregator) Aggregate(ctx context.Context, accountID int64, f Filters) (*domain.AggregateResult, error) {
	txns, err := a.store.TransactionsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	filtered := make([]domain.Transaction, 0, len(txns))
	keep := a.buildPredicate(f)
	for _, t := range txns {
		if keep(t) {
			filtered = append(filtered, t)
		}
	}

	total := decimal.Zero
	for _, t := range filtered {
		total = total.Add(t.Amount)
	}

	return &domain.AggregateResult{
		Transactions: filtered,
		TotalBalance: total.StringFixed(2),
	}, nil
}

func (a *Aggregator) buildPredicate(f Filters) func(domain.Transaction) bool {
	preds := []func(domain.Transaction) bool{}

	if f.UserID != "" {
		if userID, err := strconv.ParseInt(f.UserID, 10, 64); err == nil {
			preds = append(preds, func(t domain.Transaction) bool { return t.UserID == userID })
		} else {
			slog.Debug("skipping malformed user filter", "user_id", f.UserID)
		}
	}

	// Both bounds must be present and parse as dates; otherwise no date
	// filtering at all.
	if f.StartDate != "" && f.EndDate != "" {
		start, errStart := time.ParseInLocation(dateLayout, f.StartDate, a.loc)
		end, errEnd := time.ParseInLocation(dateLayout, f.EndDate, a.loc)
		if errStart == nil && errEnd == nil {
			lastInstant := end.AddDate(0, 0, 1).Add(-time.Nanosecond)
			preds = append(preds, func(t domain.Transaction) bool {
				return !t.CreatedAt.Before(start) && !t.CreatedAt.After(lastInstant)
			})
		} else {
			slog.Debug("skipping malformed date filter",
				"start_date", f.StartDate, "end_date", f.EndDate)
		}
	}

	return func(t domain.Transaction) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}
		return true
	}
}
