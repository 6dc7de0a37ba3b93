package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homebudget/internal/core"
)

const transactionColumns = `id, user_id, category_id, amount, currency, exchange_rate, description,
	transaction_type, transaction_date, payee, account, tags, recurring, recurring_period, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t          core.Transaction
		categoryID sql.NullInt64
		amount     string
		rate       sql.NullString
		ttype      string
		period     string
		recurring  int64
	)
	err := row.Scan(&t.ID, &t.UserID, &categoryID, &amount, &t.Currency, &rate, &t.Description,
		&ttype, &t.Date, &t.Payee, &t.Account, &t.Tags, &recurring, &period, &t.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	if categoryID.Valid {
		t.CategoryID = &categoryID.Int64
	}
	if t.Amount, err = scanDecimal(amount); err != nil {
		return core.Transaction{}, err
	}
	if rate.Valid {
		r, err := scanDecimal(rate.String)
		if err != nil {
			return core.Transaction{}, err
		}
		t.ExchangeRate = &r
	}
	t.Type = core.TransactionType(ttype)
	t.Recurring = recurring != 0
	t.RecurringPeriod = core.RecurringPeriod(period)
	t.Date = core.Day(t.Date)
	return t, nil
}

func (q *Queries) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, category_id, amount, currency, exchange_rate, description,
			transaction_type, transaction_date, payee, account, tags, recurring, recurring_period)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, nullID(t.CategoryID), t.Amount.String(), t.Currency, nullDecimal(t.ExchangeRate),
		t.Description, string(t.Type), core.Day(t.Date), t.Payee, t.Account, t.Tags,
		boolInt(t.Recurring), string(t.RecurringPeriod))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	t.CreatedAt = time.Now().UTC()
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction")
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction rewrites every mutable column. The historical
// exchange_rate is deliberately not in the column list.
func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, amount = ?, currency = ?, description = ?, transaction_type = ?,
			transaction_date = ?, payee = ?, account = ?, tags = ?, recurring = ?, recurring_period = ?
		WHERE id = ? AND user_id = ?`,
		nullID(t.CategoryID), t.Amount.String(), t.Currency, t.Description, string(t.Type),
		core.Day(t.Date), t.Payee, t.Account, t.Tags, boolInt(t.Recurring), string(t.RecurringPeriod),
		t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

func (q *Queries) DeleteTransaction(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("transaction")
	}
	return nil
}

// AdvanceTemplateDate moves a recurring template's anchor from one date
// to the next. Compare-and-set against the anchor the caller read: if
// another catch-up pass advanced the template first, zero rows match and
// the caller must abandon its occurrence.
func (q *Queries) AdvanceTemplateDate(ctx context.Context, id int64, from, to time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET transaction_date = ?
		WHERE id = ? AND recurring = 1 AND transaction_date = ?`,
		core.Day(to), id, core.Day(from))
	if err != nil {
		return fmt.Errorf("advance template date: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Conflict("recurring template %d advanced concurrently", id)
	}
	return nil
}

// ClearRecurring freezes a template into an ordinary transaction.
func (q *Queries) ClearRecurring(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET recurring = 0, recurring_period = '' WHERE id = ? AND user_id = ?`,
		id, userID)
	if err != nil {
		return fmt.Errorf("clear recurring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("transaction")
	}
	return nil
}

// ListRecurringTemplates returns every active template, all users.
func (q *Queries) ListRecurringTemplates(ctx context.Context) ([]core.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE recurring = 1 ORDER BY id`)
}

// ListUserRecurringTemplates returns one user's active templates.
func (q *Queries) ListUserRecurringTemplates(ctx context.Context, userID int64) ([]core.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE recurring = 1 AND user_id = ? ORDER BY id`, userID)
}

// ListAccountTransactionsThrough returns a user's transactions for one
// account dated on or before cutoff; the reconciliation snapshot source.
func (q *Queries) ListAccountTransactionsThrough(ctx context.Context, userID int64, account string, cutoff time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND account = ? AND transaction_date <= ?
		ORDER BY transaction_date, id`, userID, account, core.Day(cutoff))
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
