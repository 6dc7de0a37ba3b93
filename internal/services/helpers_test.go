package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
	"homebudget/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestUser(t *testing.T, repo *storage.Repository) core.User {
	t.Helper()
	user, err := repo.Queries().CreateUser(context.Background(), "tester", "USD")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func newTestCategory(t *testing.T, budget *BudgetService, userID int64, name, allocated string) core.BudgetCategory {
	t.Helper()
	c, err := budget.CreateCategory(context.Background(), core.BudgetCategory{
		UserID:    userID,
		Name:      name,
		Type:      core.CategoryExpense,
		Allocated: dec(allocated),
	})
	if err != nil {
		t.Fatalf("CreateCategory(%s): %v", name, err)
	}
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func wantAmount(t *testing.T, label string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", label, got, want)
	}
}
