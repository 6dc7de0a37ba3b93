package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
	"homebudget/internal/storage"
)

// BalancePolicy selects the window over which a category's spend is
// summed when recomputing its available amount. One policy per service
// instance; the two are never mixed.
type BalancePolicy string

const (
	// SpendAllTime counts every expense ever linked to the category.
	SpendAllTime BalancePolicy = "all_time"
	// SpendCurrentMonth counts only the current calendar month.
	SpendCurrentMonth BalancePolicy = "current_month"
)

func ParseBalancePolicy(s string) (BalancePolicy, error) {
	switch BalancePolicy(s) {
	case SpendAllTime, SpendCurrentMonth:
		return BalancePolicy(s), nil
	}
	return "", core.Invalid("balance_window", "must be all_time or current_month")
}

// BudgetService owns category balances: recompute, reallocation and
// transfers between categories.
type BudgetService struct {
	repo   *storage.Repository
	policy BalancePolicy
	now    func() time.Time
}

func NewBudgetService(repo *storage.Repository, policy BalancePolicy) *BudgetService {
	if policy == "" {
		policy = SpendAllTime
	}
	return &BudgetService{
		repo:   repo,
		policy: policy,
		now:    time.Now,
	}
}

// WithClock substitutes the time source; test seam.
func (s *BudgetService) WithClock(now func() time.Time) *BudgetService {
	s.now = now
	return s
}

// spendWindow returns the date bounds the policy puts on spend sums.
// Nil bounds mean unbounded.
func (s *BudgetService) spendWindow() (from, to *time.Time) {
	if s.policy != SpendCurrentMonth {
		return nil, nil
	}
	today := core.Day(s.now())
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return &first, &last
}

// recomputeInTx derives available = allocated - spent for one category
// and persists it. Idempotent: same transaction set, same result.
func (s *BudgetService) recomputeInTx(ctx context.Context, q *storage.Queries, c core.BudgetCategory) (core.BudgetCategory, error) {
	from, to := s.spendWindow()
	spent, err := q.SumCategoryExpenses(ctx, c.ID, from, to)
	if err != nil {
		return c, err
	}
	c.Available = c.Allocated.Sub(spent)
	if err := q.UpdateCategoryAmounts(ctx, c.ID, c.Allocated, c.Available); err != nil {
		return c, err
	}
	return c, nil
}

// Recompute recalculates a category's available amount from its linked
// expense transactions and returns the fresh value.
func (s *BudgetService) Recompute(ctx context.Context, userID, categoryID int64) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, userID, categoryID)
		if err != nil {
			return err
		}
		c, err = s.recomputeInTx(ctx, q, c)
		if err != nil {
			return err
		}
		available = c.Available
		return nil
	})
	return available, err
}

// RecomputeAll refreshes every category for a user and reports how many
// balances actually changed.
func (s *BudgetService) RecomputeAll(ctx context.Context, userID int64) (int, error) {
	changed := 0
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		categories, err := q.ListCategories(ctx, userID)
		if err != nil {
			return err
		}
		for _, c := range categories {
			old := c.Available
			c, err = s.recomputeInTx(ctx, q, c)
			if err != nil {
				return err
			}
			if !c.Available.Equal(old) {
				changed++
			}
		}
		return nil
	})
	return changed, err
}

// SetAllocated changes a category's allocation, preserving accumulated
// spend: available shifts by the delta, it is not recomputed.
func (s *BudgetService) SetAllocated(ctx context.Context, userID, categoryID int64, amount decimal.Decimal) (core.BudgetCategory, error) {
	if amount.IsNegative() {
		return core.BudgetCategory{}, core.Invalid("allocated_amount", "allocation amount cannot be negative")
	}

	var out core.BudgetCategory
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, userID, categoryID)
		if err != nil {
			return err
		}

		delta := amount.Sub(c.Allocated)
		c.Allocated = amount
		c.Available = c.Available.Add(delta)

		if err := q.UpdateCategoryAmounts(ctx, c.ID, c.Allocated, c.Available); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return core.BudgetCategory{}, err
	}

	slog.InfoContext(ctx, "Allocated budget to category",
		"category_id", categoryID, "user_id", userID, "amount", amount.String())
	return out, nil
}

// Transfer moves allocation between two categories of the same user.
// Total allocated across the pair is conserved; insufficient available
// funds in the source is a conflict. Both balances are recomputed fresh
// before the check.
func (s *BudgetService) Transfer(ctx context.Context, userID, fromID, toID int64, amount decimal.Decimal) (from, to core.BudgetCategory, err error) {
	if fromID == toID {
		return from, to, core.Invalid("to_category_id", "cannot transfer to the same category")
	}
	if !amount.IsPositive() {
		return from, to, core.Invalid("amount", "transfer amount must be positive")
	}

	err = s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		var err error
		if from, err = q.GetCategory(ctx, userID, fromID); err != nil {
			return err
		}
		if to, err = q.GetCategory(ctx, userID, toID); err != nil {
			return err
		}

		if from, err = s.recomputeInTx(ctx, q, from); err != nil {
			return err
		}
		if to, err = s.recomputeInTx(ctx, q, to); err != nil {
			return err
		}

		if from.Available.LessThan(amount) {
			return core.Conflict("insufficient budget in %s: available %s", from.Name, from.Available.String())
		}

		from.Available = from.Available.Sub(amount)
		from.Allocated = from.Allocated.Sub(amount)
		to.Available = to.Available.Add(amount)
		to.Allocated = to.Allocated.Add(amount)

		if err := q.UpdateCategoryAmounts(ctx, from.ID, from.Allocated, from.Available); err != nil {
			return err
		}
		return q.UpdateCategoryAmounts(ctx, to.ID, to.Allocated, to.Available)
	})
	if err != nil {
		return core.BudgetCategory{}, core.BudgetCategory{}, err
	}

	slog.InfoContext(ctx, "Transferred budget between categories",
		"user_id", userID, "from", from.Name, "to", to.Name, "amount", amount.String())
	return from, to, nil
}

// CreateCategory creates a category with available initialized to the
// allocation. Duplicate names per user are a conflict.
func (s *BudgetService) CreateCategory(ctx context.Context, c core.BudgetCategory) (core.BudgetCategory, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Color == "" {
		c.Color = core.DefaultColor
	}
	if c.Type == "" {
		c.Type = core.CategoryExpense
	}
	if err := c.Validate(); err != nil {
		return core.BudgetCategory{}, err
	}

	// Name check and insert share a transaction so a racing create
	// surfaces as a conflict, not a raw constraint error.
	var created core.BudgetCategory
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		if _, err := q.CategoryByName(ctx, c.UserID, c.Name); err == nil {
			return core.Conflict("category with this name already exists")
		} else if !core.IsNotFound(err) {
			return err
		}

		c.Available = c.Allocated
		var err error
		created, err = q.CreateCategory(ctx, c)
		if err != nil {
			return fmt.Errorf("create category: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.BudgetCategory{}, err
	}

	slog.InfoContext(ctx, "Created budget category",
		"user_id", c.UserID, "name", c.Name, "type", string(c.Type))
	return created, nil
}

// CategoryPatch holds the mutable category fields; nil means unchanged.
type CategoryPatch struct {
	Name      *string
	Allocated *decimal.Decimal
	Type      *core.CategoryType
	Color     *string
}

// UpdateCategory applies a patch. Reallocation goes through the delta
// rule so in-flight spend is preserved.
func (s *BudgetService) UpdateCategory(ctx context.Context, userID, categoryID int64, patch CategoryPatch) (core.BudgetCategory, error) {
	var out core.BudgetCategory
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, userID, categoryID)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return core.Invalid("name", "category name cannot be empty")
			}
			if name != c.Name {
				if existing, err := q.CategoryByName(ctx, userID, name); err == nil && existing.ID != c.ID {
					return core.Conflict("category with this name already exists")
				} else if err != nil && !core.IsNotFound(err) {
					return err
				}
			}
			c.Name = name
		}

		if patch.Allocated != nil {
			if patch.Allocated.IsNegative() {
				return core.Invalid("allocated_amount", "allocated amount cannot be negative")
			}
			delta := patch.Allocated.Sub(c.Allocated)
			c.Allocated = *patch.Allocated
			c.Available = c.Available.Add(delta)
		}

		if patch.Type != nil {
			if !patch.Type.Valid() {
				return core.Invalid("category_type", "must be income, expense or saving")
			}
			c.Type = *patch.Type
		}

		if patch.Color != nil {
			color := *patch.Color
			if color == "" {
				color = core.DefaultColor
			} else if !core.ValidColor(color) {
				return core.Invalid("color", "must be a #rrggbb value")
			}
			c.Color = color
		}

		if err := q.UpdateCategory(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// DeleteCategory removes a category that has no linked transactions.
func (s *BudgetService) DeleteCategory(ctx context.Context, userID, categoryID int64) error {
	return s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, userID, categoryID)
		if err != nil {
			return err
		}
		n, err := q.CountCategoryTransactions(ctx, c.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return core.Conflict("cannot delete category with %d associated transactions", n)
		}
		return q.DeleteCategory(ctx, userID, categoryID)
	})
}

type defaultCategory struct {
	name  string
	ctype core.CategoryType
	color string
}

var defaultCategories = []defaultCategory{
	{"Housing", core.CategoryExpense, "#dc3545"},
	{"Groceries", core.CategoryExpense, "#28a745"},
	{"Transportation", core.CategoryExpense, "#17a2b8"},
	{"Utilities", core.CategoryExpense, "#ffc107"},
	{"Insurance", core.CategoryExpense, "#6f42c1"},
	{"Dining Out", core.CategoryExpense, "#fd7e14"},
	{"Entertainment", core.CategoryExpense, "#e83e8c"},
	{"Shopping", core.CategoryExpense, "#20c997"},
	{"Health & Medical", core.CategoryExpense, "#6c757d"},
	{"Emergency Fund", core.CategorySaving, "#007bff"},
	{"Vacation Fund", core.CategorySaving, "#198754"},
	{"Salary", core.CategoryIncome, "#20c997"},
}

// SeedDefaultCategories creates the starter category set for a user,
// skipping names that already exist. Safe to run repeatedly.
func (s *BudgetService) SeedDefaultCategories(ctx context.Context, userID int64) ([]core.BudgetCategory, error) {
	var created []core.BudgetCategory
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		for _, dc := range defaultCategories {
			_, err := q.CategoryByName(ctx, userID, dc.name)
			if err == nil {
				continue
			}
			if !core.IsNotFound(err) {
				return err
			}

			c, err := q.CreateCategory(ctx, core.BudgetCategory{
				UserID: userID,
				Name:   dc.name,
				Type:   dc.ctype,
				Color:  dc.color,
			})
			if err != nil {
				return fmt.Errorf("seed category %s: %w", dc.name, err)
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Seeded default categories", "user_id", userID, "created", len(created))
	return created, nil
}

// Alert flags an expense category approaching or past its budget.
type Alert struct {
	Level      string // info, warning, danger
	Category   string
	Message    string
	Percentage float64
}

// SpendingAlerts recomputes every expense category and reports the ones
// at 75%, 90% and 100% utilization.
func (s *BudgetService) SpendingAlerts(ctx context.Context, userID int64) ([]Alert, error) {
	var alerts []Alert
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		categories, err := q.ListCategories(ctx, userID)
		if err != nil {
			return err
		}

		for _, c := range categories {
			if c.Type != core.CategoryExpense || !c.Allocated.IsPositive() {
				continue
			}
			c, err = s.recomputeInTx(ctx, q, c)
			if err != nil {
				return err
			}

			spent := c.Allocated.Sub(c.Available)
			pct, _ := spent.Div(c.Allocated).Mul(decimal.NewFromInt(100)).Float64()

			switch {
			case pct >= 100:
				alerts = append(alerts, Alert{
					Level:      "danger",
					Category:   c.Name,
					Message:    fmt.Sprintf("%s budget exceeded by %s", c.Name, c.Available.Neg().String()),
					Percentage: pct,
				})
			case pct >= 90:
				alerts = append(alerts, Alert{
					Level:      "warning",
					Category:   c.Name,
					Message:    fmt.Sprintf("%s budget nearly exhausted (%.1f%% used)", c.Name, pct),
					Percentage: pct,
				})
			case pct >= 75:
				alerts = append(alerts, Alert{
					Level:      "info",
					Category:   c.Name,
					Message:    fmt.Sprintf("%.1f%% of %s budget used", pct, c.Name),
					Percentage: pct,
				})
			}
		}
		return nil
	})
	return alerts, err
}
