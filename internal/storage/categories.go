package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
)

const categoryColumns = `id, user_id, name, category_type, allocated_amount, available_amount, color, created_at`

func scanCategory(row interface{ Scan(...any) error }) (core.BudgetCategory, error) {
	var (
		c                    core.BudgetCategory
		allocated, available string
		ctype                string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &ctype, &allocated, &available, &c.Color, &c.CreatedAt)
	if err != nil {
		return core.BudgetCategory{}, err
	}
	c.Type = core.CategoryType(ctype)
	if c.Allocated, err = scanDecimal(allocated); err != nil {
		return core.BudgetCategory{}, err
	}
	if c.Available, err = scanDecimal(available); err != nil {
		return core.BudgetCategory{}, err
	}
	return c, nil
}

func (q *Queries) CreateCategory(ctx context.Context, c core.BudgetCategory) (core.BudgetCategory, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO budget_categories (user_id, name, category_type, allocated_amount, available_amount, color)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Name, string(c.Type), c.Allocated.String(), c.Available.String(), c.Color)
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("category id: %w", err)
	}
	c.CreatedAt = time.Now().UTC()
	return c, nil
}

// GetCategory loads a category scoped by owner. A category owned by a
// different user is reported as not found.
func (q *Queries) GetCategory(ctx context.Context, userID, id int64) (core.BudgetCategory, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM budget_categories WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetCategory{}, core.NotFound("category")
	}
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// CategoryByName finds a user's category by exact name, or NotFound.
func (q *Queries) CategoryByName(ctx context.Context, userID int64, name string) (core.BudgetCategory, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM budget_categories WHERE user_id = ? AND name = ?`, userID, name)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetCategory{}, core.NotFound("category")
	}
	if err != nil {
		return core.BudgetCategory{}, fmt.Errorf("category by name: %w", err)
	}
	return c, nil
}

func (q *Queries) ListCategories(ctx context.Context, userID int64) ([]core.BudgetCategory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM budget_categories
		WHERE user_id = ? ORDER BY category_type, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateCategory(ctx context.Context, c core.BudgetCategory) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE budget_categories
		SET name = ?, category_type = ?, allocated_amount = ?, available_amount = ?, color = ?
		WHERE id = ? AND user_id = ?`,
		c.Name, string(c.Type), c.Allocated.String(), c.Available.String(), c.Color, c.ID, c.UserID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

// UpdateCategoryAmounts writes only the two balance columns.
func (q *Queries) UpdateCategoryAmounts(ctx context.Context, id int64, allocated, available decimal.Decimal) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE budget_categories SET allocated_amount = ?, available_amount = ? WHERE id = ?`,
		allocated.String(), available.String(), id)
	if err != nil {
		return fmt.Errorf("update category amounts: %w", err)
	}
	return nil
}

func (q *Queries) DeleteCategory(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM budget_categories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("category")
	}
	return nil
}

func (q *Queries) CountCategoryTransactions(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE category_id = ?`, categoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count category transactions: %w", err)
	}
	return n, nil
}

// SumCategoryExpenses totals expense transactions linked to a category,
// optionally restricted to a closed date window.
func (q *Queries) SumCategoryExpenses(ctx context.Context, categoryID int64, from, to *time.Time) (decimal.Decimal, error) {
	query := `
		SELECT amount FROM transactions
		WHERE category_id = ? AND transaction_type = 'expense'`
	args := []any{categoryID}
	if from != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, core.Day(*from))
	}
	if to != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, core.Day(*to))
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum category expenses: %w", err)
	}
	defer rows.Close()

	// Summed in Go so amounts stay exact decimals instead of SQLite reals.
	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, fmt.Errorf("scan expense amount: %w", err)
		}
		d, err := scanDecimal(s)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}
