package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
	"homebudget/internal/storage"
)

// ReconciliationService matches the ledger against account statements.
// Each reconciliation moves one way, open to closed; once closed it is
// immutable apart from deletion.
type ReconciliationService struct {
	repo *storage.Repository
	now  func() time.Time
}

func NewReconciliationService(repo *storage.Repository) *ReconciliationService {
	return &ReconciliationService{repo: repo, now: time.Now}
}

// WithClock substitutes the time source; test seam.
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// Create opens a reconciliation for an account, snapshotting every
// transaction dated on or before the statement date as an uncleared
// item. Book balance starts at zero, so the initial difference equals
// the statement balance.
func (s *ReconciliationService) Create(ctx context.Context, userID int64, account string, statementDate time.Time, statementBalance decimal.Decimal, notes string) (core.Reconciliation, error) {
	if !core.ValidAccount(account) {
		return core.Reconciliation{}, core.Invalid("account", "unknown account")
	}

	var created core.Reconciliation
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		statementDate = core.Day(statementDate)

		transactions, err := q.ListAccountTransactionsThrough(ctx, userID, account, statementDate)
		if err != nil {
			return err
		}

		created, err = q.CreateReconciliation(ctx, core.Reconciliation{
			UserID:           userID,
			Account:          account,
			StatementDate:    statementDate,
			StatementBalance: statementBalance,
			BookBalance:      decimal.Zero,
			Difference:       statementBalance,
			Notes:            notes,
		})
		if err != nil {
			return err
		}

		for _, t := range transactions {
			_, err := q.CreateReconciliationItem(ctx, core.ReconciliationItem{
				ReconciliationID: created.ID,
				TransactionID:    t.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Reconciliation{}, err
	}

	slog.InfoContext(ctx, "Started reconciliation",
		"reconciliation_id", created.ID, "user_id", userID, "account", account,
		"statement_balance", statementBalance.String())
	return created, nil
}

// bookBalance is the signed sum over cleared items: income adds,
// expense subtracts, transfers are neutral.
func bookBalance(items []storage.ItemWithTransaction) decimal.Decimal {
	book := decimal.Zero
	for _, it := range items {
		if !it.Item.Cleared {
			continue
		}
		switch it.TransactionType {
		case core.TypeIncome:
			book = book.Add(it.Amount)
		case core.TypeExpense:
			book = book.Sub(it.Amount)
		}
	}
	return book
}

// recalculateInTx refreshes book balance and difference. A difference
// of exactly zero closes the reconciliation; this is the only
// automatic state transition.
func (s *ReconciliationService) recalculateInTx(ctx context.Context, q *storage.Queries, r core.Reconciliation) (core.Reconciliation, error) {
	items, err := q.ListReconciliationItems(ctx, r.ID)
	if err != nil {
		return r, err
	}

	r.BookBalance = bookBalance(items)
	r.Difference = r.StatementBalance.Sub(r.BookBalance)

	if r.Difference.IsZero() && !r.Reconciled {
		now := s.now().UTC()
		r.Reconciled = true
		r.ReconciledAt = &now
		slog.InfoContext(ctx, "Reconciliation balanced, closing",
			"reconciliation_id", r.ID, "book_balance", r.BookBalance.String())
	}

	err = q.UpdateReconciliationBalances(ctx, r.ID, r.BookBalance, r.Difference, r.Reconciled, r.ReconciledAt)
	return r, err
}

// ToggleItem flips an item's cleared state and recalculates. Rejected
// once the reconciliation is closed.
func (s *ReconciliationService) ToggleItem(ctx context.Context, userID, reconciliationID, itemID int64) (core.Reconciliation, error) {
	var out core.Reconciliation
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		r, err := q.GetReconciliation(ctx, userID, reconciliationID)
		if err != nil {
			return err
		}
		if r.Reconciled {
			return core.StateConflict("reconciliation %d is closed", r.ID)
		}

		item, err := q.GetReconciliationItem(ctx, r.ID, itemID)
		if err != nil {
			return err
		}
		if err := q.SetItemCleared(ctx, item.ID, !item.Cleared); err != nil {
			return err
		}

		out, err = s.recalculateInTx(ctx, q, r)
		return err
	})
	return out, err
}

// Recalculate refreshes an open reconciliation's balances from its
// current item states.
func (s *ReconciliationService) Recalculate(ctx context.Context, userID, reconciliationID int64) (core.Reconciliation, error) {
	var out core.Reconciliation
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		r, err := q.GetReconciliation(ctx, userID, reconciliationID)
		if err != nil {
			return err
		}
		if r.Reconciled {
			out = r
			return nil
		}
		out, err = s.recalculateInTx(ctx, q, r)
		return err
	})
	return out, err
}

// Complete closes a reconciliation whose difference is already zero.
// A nonzero difference is reported back as a conflict.
func (s *ReconciliationService) Complete(ctx context.Context, userID, reconciliationID int64) (core.Reconciliation, error) {
	var out core.Reconciliation
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		r, err := q.GetReconciliation(ctx, userID, reconciliationID)
		if err != nil {
			return err
		}
		if r.Reconciled {
			return core.StateConflict("reconciliation %d is already closed", r.ID)
		}

		r, err = s.recalculateInTx(ctx, q, r)
		if err != nil {
			return err
		}
		if !r.Reconciled {
			return core.Conflict("reconciliation is off by %s", r.Difference.String())
		}
		out = r
		return nil
	})
	return out, err
}

// Delete removes a reconciliation and its items in any state.
func (s *ReconciliationService) Delete(ctx context.Context, userID, reconciliationID int64) error {
	if err := s.repo.Queries().DeleteReconciliation(ctx, userID, reconciliationID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Deleted reconciliation", "reconciliation_id", reconciliationID, "user_id", userID)
	return nil
}

// Get returns a reconciliation with its items.
func (s *ReconciliationService) Get(ctx context.Context, userID, reconciliationID int64) (core.Reconciliation, []storage.ItemWithTransaction, error) {
	r, err := s.repo.Queries().GetReconciliation(ctx, userID, reconciliationID)
	if err != nil {
		return core.Reconciliation{}, nil, err
	}
	items, err := s.repo.Queries().ListReconciliationItems(ctx, r.ID)
	if err != nil {
		return core.Reconciliation{}, nil, err
	}
	return r, items, nil
}

// List returns a user's reconciliations, newest statement first,
// optionally filtered by account.
func (s *ReconciliationService) List(ctx context.Context, userID int64, account string) ([]core.Reconciliation, error) {
	return s.repo.Queries().ListReconciliations(ctx, userID, account)
}
