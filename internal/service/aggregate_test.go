package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/investops/internal/domain"
)

// memSource serves one account's transactions from memory.
type memSource struct {
	accountID int64
	txns      []domain.Transaction
}

func (m *memSource) TransactionsForAccount(_ context.Context, accountID int64) ([]domain.Transaction, error) {
	if accountID != m.accountID {
		return nil, domain.ErrAccountNotFound
	}
	return m.txns, nil
}

func txn(id, accountID, userID int64, amount string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		AccountID: accountID,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: at,
	}
}

func mustAggregate(t *testing.T, a *Aggregator, accountID int64, f Filters) *domain.AggregateResult {
	t.Helper()
	res, err := a.Aggregate(context.Background(), accountID, f)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	return res
}

func TestAggregateTotalIsExactDecimal(t *testing.T) {
	now := time.Now()
	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "200.00", now),
		txn(2, 2, 1, "50.00", now.Add(-5*24*time.Hour)),
	}}
	agg := NewAggregator(src, time.UTC)

	res := mustAggregate(t, agg, 2, Filters{})
	if len(res.Transactions) != 2 {
		t.Fatalf("transactions = %d want 2", len(res.Transactions))
	}
	if res.TotalBalance != "250.00" {
		t.Fatalf("total = %q want 250.00", res.TotalBalance)
	}
}

func TestAggregateEmptySetIsZero(t *testing.T) {
	agg := NewAggregator(&memSource{accountID: 2}, time.UTC)

	res := mustAggregate(t, agg, 2, Filters{})
	if len(res.Transactions) != 0 {
		t.Fatalf("transactions = %d want 0", len(res.Transactions))
	}
	if res.TotalBalance != "0.00" {
		t.Fatalf("total = %q want 0.00", res.TotalBalance)
	}
}

func TestAggregateUnknownAccount(t *testing.T) {
	agg := NewAggregator(&memSource{accountID: 2}, time.UTC)

	_, err := agg.Aggregate(context.Background(), 99, Filters{})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestAggregateUserFilter(t *testing.T) {
	now := time.Now()
	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "200.00", now),
		txn(2, 2, 1, "50.00", now),
		txn(3, 2, 9, "1000.00", now),
	}}
	agg := NewAggregator(src, time.UTC)

	res := mustAggregate(t, agg, 2, Filters{UserID: "1"})
	if len(res.Transactions) != 2 {
		t.Fatalf("transactions = %d want 2", len(res.Transactions))
	}
	for _, tx := range res.Transactions {
		if tx.UserID != 1 {
			t.Fatalf("unexpected user %d in result", tx.UserID)
		}
	}
	if res.TotalBalance != "250.00" {
		t.Fatalf("total = %q want 250.00", res.TotalBalance)
	}
}

func TestAggregateDateRangeInclusive(t *testing.T) {
	loc := time.UTC
	// Last instant of the end date stays in range; the next day falls out.
	edge := time.Date(2024, 3, 10, 23, 59, 59, 0, loc)
	dayAfter := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)

	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "10.00", first),
		txn(2, 2, 1, "20.00", edge),
		txn(3, 2, 1, "40.00", dayAfter),
	}}
	agg := NewAggregator(src, loc)

	res := mustAggregate(t, agg, 2, Filters{StartDate: "2024-03-01", EndDate: "2024-03-10"})
	if len(res.Transactions) != 2 {
		t.Fatalf("transactions = %d want 2", len(res.Transactions))
	}
	if res.TotalBalance != "30.00" {
		t.Fatalf("total = %q want 30.00", res.TotalBalance)
	}
}

func TestAggregateMalformedDatesSkipFilter(t *testing.T) {
	now := time.Now()
	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "10.00", now.AddDate(-1, 0, 0)),
		txn(2, 2, 9, "20.00", now),
	}}
	agg := NewAggregator(src, time.UTC)

	// Unparseable dates: the date filter drops out, the user filter holds.
	res := mustAggregate(t, agg, 2, Filters{UserID: "1", StartDate: "not-a-date", EndDate: "2024-03-10"})
	if len(res.Transactions) != 1 || res.Transactions[0].ID != 1 {
		t.Fatalf("want only user 1's transaction, got %+v", res.Transactions)
	}
	if res.TotalBalance != "10.00" {
		t.Fatalf("total = %q want 10.00", res.TotalBalance)
	}
}

func TestAggregateSingleDateBoundIgnored(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "10.00", old),
	}}
	agg := NewAggregator(src, time.UTC)

	// Only one bound present: no date filtering at all.
	res := mustAggregate(t, agg, 2, Filters{StartDate: "2024-03-01"})
	if len(res.Transactions) != 1 {
		t.Fatalf("transactions = %d want 1", len(res.Transactions))
	}
}

func TestAggregateNegativeAmounts(t *testing.T) {
	now := time.Now()
	src := &memSource{accountID: 2, txns: []domain.Transaction{
		txn(1, 2, 1, "100.00", now),
		txn(2, 2, 1, "-40.50", now),
	}}
	agg := NewAggregator(src, time.UTC)

	res := mustAggregate(t, agg, 2, Filters{})
	if res.TotalBalance != "59.50" {
		t.Fatalf("total = %q want 59.50", res.TotalBalance)
	}
}
