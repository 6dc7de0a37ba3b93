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

const reconciliationColumns = `id, user_id, account, statement_date, statement_balance,
	book_balance, difference, reconciled, reconciled_at, notes, created_at`

// ItemWithTransaction joins a reconciliation item with the candidate
// transaction it snapshots, enough for recalculation and display.
type ItemWithTransaction struct {
	Item            core.ReconciliationItem
	Description     string
	Amount          decimal.Decimal
	TransactionType core.TransactionType
	TransactionDate time.Time
	Payee           string
}

func scanReconciliation(row interface{ Scan(...any) error }) (core.Reconciliation, error) {
	var (
		r                     core.Reconciliation
		statement, book, diff string
		reconciled            int64
		reconciledAt          sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Account, &r.StatementDate, &statement,
		&book, &diff, &reconciled, &reconciledAt, &r.Notes, &r.CreatedAt)
	if err != nil {
		return core.Reconciliation{}, err
	}
	if r.StatementBalance, err = scanDecimal(statement); err != nil {
		return core.Reconciliation{}, err
	}
	if r.BookBalance, err = scanDecimal(book); err != nil {
		return core.Reconciliation{}, err
	}
	if r.Difference, err = scanDecimal(diff); err != nil {
		return core.Reconciliation{}, err
	}
	r.Reconciled = reconciled != 0
	if reconciledAt.Valid {
		t := reconciledAt.Time.UTC()
		r.ReconciledAt = &t
	}
	r.StatementDate = core.Day(r.StatementDate)
	return r, nil
}

func (q *Queries) CreateReconciliation(ctx context.Context, r core.Reconciliation) (core.Reconciliation, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO reconciliations (user_id, account, statement_date, statement_balance,
			book_balance, difference, reconciled, notes)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		r.UserID, r.Account, core.Day(r.StatementDate), r.StatementBalance.String(),
		r.BookBalance.String(), r.Difference.String(), r.Notes)
	if err != nil {
		return core.Reconciliation{}, fmt.Errorf("insert reconciliation: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return core.Reconciliation{}, fmt.Errorf("reconciliation id: %w", err)
	}
	r.CreatedAt = time.Now().UTC()
	return r, nil
}

func (q *Queries) GetReconciliation(ctx context.Context, userID, id int64) (core.Reconciliation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+reconciliationColumns+` FROM reconciliations WHERE id = ? AND user_id = ?`, id, userID)
	r, err := scanReconciliation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Reconciliation{}, core.NotFound("reconciliation")
	}
	if err != nil {
		return core.Reconciliation{}, fmt.Errorf("get reconciliation: %w", err)
	}
	return r, nil
}

func (q *Queries) ListReconciliations(ctx context.Context, userID int64, account string) ([]core.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE user_id = ?`
	args := []any{userID}
	if account != "" {
		query += ` AND account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY statement_date DESC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []core.Reconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReconciliationBalances writes the recomputed balances and the
// closed flag in one statement.
func (q *Queries) UpdateReconciliationBalances(ctx context.Context, id int64, book, diff decimal.Decimal, reconciled bool, reconciledAt *time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE reconciliations
		SET book_balance = ?, difference = ?, reconciled = ?, reconciled_at = ?
		WHERE id = ?`,
		book.String(), diff.String(), boolInt(reconciled), nullTime(reconciledAt), id)
	if err != nil {
		return fmt.Errorf("update reconciliation balances: %w", err)
	}
	return nil
}

func (q *Queries) DeleteReconciliation(ctx context.Context, userID, id int64) error {
	// Items go first; the FK cascade is not relied on.
	if _, err := q.db.ExecContext(ctx, `
		DELETE FROM reconciliation_items WHERE reconciliation_id = ?`, id); err != nil {
		return fmt.Errorf("delete reconciliation items: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM reconciliations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete reconciliation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("reconciliation")
	}
	return nil
}

func (q *Queries) CreateReconciliationItem(ctx context.Context, item core.ReconciliationItem) (core.ReconciliationItem, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO reconciliation_items (reconciliation_id, transaction_id, cleared, notes)
		VALUES (?, ?, ?, ?)`,
		item.ReconciliationID, item.TransactionID, boolInt(item.Cleared), item.Notes)
	if err != nil {
		return core.ReconciliationItem{}, fmt.Errorf("insert reconciliation item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return core.ReconciliationItem{}, fmt.Errorf("reconciliation item id: %w", err)
	}
	return item, nil
}

func (q *Queries) GetReconciliationItem(ctx context.Context, reconciliationID, itemID int64) (core.ReconciliationItem, error) {
	var (
		item    core.ReconciliationItem
		cleared int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, reconciliation_id, transaction_id, cleared, notes
		FROM reconciliation_items WHERE id = ? AND reconciliation_id = ?`,
		itemID, reconciliationID).
		Scan(&item.ID, &item.ReconciliationID, &item.TransactionID, &cleared, &item.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ReconciliationItem{}, core.NotFound("reconciliation item")
	}
	if err != nil {
		return core.ReconciliationItem{}, fmt.Errorf("get reconciliation item: %w", err)
	}
	item.Cleared = cleared != 0
	return item, nil
}

func (q *Queries) SetItemCleared(ctx context.Context, itemID int64, cleared bool) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE reconciliation_items SET cleared = ? WHERE id = ?`, boolInt(cleared), itemID)
	if err != nil {
		return fmt.Errorf("set item cleared: %w", err)
	}
	return nil
}

// ListReconciliationItems returns a reconciliation's items joined with
// their transactions, in snapshot order.
func (q *Queries) ListReconciliationItems(ctx context.Context, reconciliationID int64) ([]ItemWithTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT i.id, i.reconciliation_id, i.transaction_id, i.cleared, i.notes,
			t.description, t.amount, t.transaction_type, t.transaction_date, t.payee
		FROM reconciliation_items i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE i.reconciliation_id = ?
		ORDER BY t.transaction_date, i.id`, reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation items: %w", err)
	}
	defer rows.Close()

	var out []ItemWithTransaction
	for rows.Next() {
		var (
			it      ItemWithTransaction
			cleared int64
			amount  string
			ttype   string
		)
		err := rows.Scan(&it.Item.ID, &it.Item.ReconciliationID, &it.Item.TransactionID, &cleared,
			&it.Item.Notes, &it.Description, &amount, &ttype, &it.TransactionDate, &it.Payee)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation item: %w", err)
		}
		it.Item.Cleared = cleared != 0
		if it.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		it.TransactionType = core.TransactionType(ttype)
		it.TransactionDate = core.Day(it.TransactionDate)
		out = append(out, it)
	}
	return out, rows.Err()
}
