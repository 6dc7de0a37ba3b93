package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestNewRepositoryMigrates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// The schema is usable right after open.
	user, err := repo.Queries().CreateUser(ctx, "tester", "USD")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := repo.Queries().GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "tester" || got.DefaultCurrency != "USD" {
		t.Errorf("GetUser = %+v", got)
	}
}

func TestOwnerScoping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	alice, _ := repo.Queries().CreateUser(ctx, "alice", "USD")
	bob, _ := repo.Queries().CreateUser(ctx, "bob", "USD")

	c, err := repo.Queries().CreateCategory(ctx, core.BudgetCategory{
		UserID: alice.ID, Name: "Groceries", Type: core.CategoryExpense,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	// Another user's rows read as missing, not as forbidden.
	if _, err := repo.Queries().GetCategory(ctx, bob.ID, c.ID); !core.IsNotFound(err) {
		t.Errorf("cross-owner category read should be not found, got %v", err)
	}

	tx, err := repo.Queries().CreateTransaction(ctx, core.Transaction{
		UserID: alice.ID, Amount: decimal.RequireFromString("10"),
		Description: "Milk", Type: core.TypeExpense,
		Account: "checking", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if _, err := repo.Queries().GetTransaction(ctx, bob.ID, tx.ID); !core.IsNotFound(err) {
		t.Errorf("cross-owner transaction read should be not found, got %v", err)
	}
	if err := repo.Queries().DeleteTransaction(ctx, bob.ID, tx.ID); !core.IsNotFound(err) {
		t.Errorf("cross-owner delete should be not found, got %v", err)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, _ := repo.Queries().CreateUser(ctx, "tester", "USD")

	boom := errors.New("boom")
	err := repo.RunInTx(ctx, func(q *Queries) error {
		if _, err := q.CreateCategory(ctx, core.BudgetCategory{
			UserID: user.ID, Name: "Doomed", Type: core.CategoryExpense,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx should surface the inner error, got %v", err)
	}

	if _, err := repo.Queries().CategoryByName(ctx, user.ID, "Doomed"); !core.IsNotFound(err) {
		t.Errorf("rolled-back category should not exist, got %v", err)
	}
}

func TestSumCategoryExpensesWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, _ := repo.Queries().CreateUser(ctx, "tester", "USD")
	c, err := repo.Queries().CreateCategory(ctx, core.BudgetCategory{
		UserID: user.ID, Name: "Groceries", Type: core.CategoryExpense,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	add := func(amount string, date time.Time, txType core.TransactionType) {
		t.Helper()
		_, err := repo.Queries().CreateTransaction(ctx, core.Transaction{
			UserID: user.ID, CategoryID: &c.ID,
			Amount: decimal.RequireFromString(amount), Description: "x",
			Type: txType, Account: "checking", Date: date,
		})
		if err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}
	add("100", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), core.TypeExpense)
	add("40", time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), core.TypeExpense)
	add("999", time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), core.TypeIncome)

	total, err := repo.Queries().SumCategoryExpenses(ctx, c.ID, nil, nil)
	if err != nil {
		t.Fatalf("SumCategoryExpenses: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("140")) {
		t.Errorf("unbounded sum = %s, want 140 (income excluded)", total)
	}

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	total, err = repo.Queries().SumCategoryExpenses(ctx, c.ID, &from, &to)
	if err != nil {
		t.Fatalf("SumCategoryExpenses (window): %v", err)
	}
	if !total.Equal(decimal.RequireFromString("40")) {
		t.Errorf("windowed sum = %s, want 40", total)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, _ := repo.Queries().CreateUser(ctx, "tester", "USD")
	rate := decimal.RequireFromString("1.0865")
	tx, err := repo.Queries().CreateTransaction(ctx, core.Transaction{
		UserID: user.ID, Amount: decimal.RequireFromString("123.45"),
		Currency: "EUR", ExchangeRate: &rate,
		Description: "Hotel", Type: core.TypeExpense,
		Account: "credit", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	got, err := repo.Queries().GetTransaction(ctx, user.ID, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("amount round-trip = %s", got.Amount)
	}
	if got.ExchangeRate == nil || !got.ExchangeRate.Equal(rate) {
		t.Errorf("exchange rate round-trip = %v", got.ExchangeRate)
	}
}
