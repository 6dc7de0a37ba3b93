package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/amqp"
	"homebudget/internal/core"
	"homebudget/internal/rates"
	"homebudget/internal/storage"
)

// MaxBulkSize bounds a single bulkCreate batch.
const MaxBulkSize = 100

// OccurrenceSuffix marks transactions materialized from a recurring
// template.
const OccurrenceSuffix = " (Auto-generated)"

// EventPublisher notifies downstream consumers about committed ledger
// changes. Publishing is best effort; a nil publisher disables it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, kind string, userID, transactionID int64) error
}

// LedgerService owns the transaction ledger and the effect each
// transaction has on its category's available balance.
type LedgerService struct {
	repo      *storage.Repository
	rates     rates.Source
	publisher EventPublisher
}

func NewLedgerService(repo *storage.Repository, rateSource rates.Source, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		repo:      repo,
		rates:     rateSource,
		publisher: publisher,
	}
}

// applyEffect mutates the category balance for a transaction. Only
// expenses with a category touch budgets; sign +1 applies the spend,
// sign -1 reverses it.
func applyEffect(ctx context.Context, q *storage.Queries, t core.Transaction, sign int) error {
	if t.Type != core.TypeExpense || t.CategoryID == nil {
		return nil
	}
	c, err := q.GetCategory(ctx, t.UserID, *t.CategoryID)
	if err != nil {
		return err
	}
	delta := t.Amount
	if sign < 0 {
		delta = delta.Neg()
	}
	return q.UpdateCategoryAmounts(ctx, c.ID, c.Allocated, c.Available.Sub(delta))
}

// captureRate fetches the historical rate to the user's default
// currency. Rate lookup failure is never fatal; the transaction is
// simply stored without one.
func (s *LedgerService) captureRate(ctx context.Context, t *core.Transaction) {
	if s.rates == nil || t.Currency == "" {
		return
	}
	user, err := s.repo.Queries().GetUser(ctx, t.UserID)
	if err != nil || t.Currency == user.DefaultCurrency {
		return
	}
	rate, err := s.rates.Rate(ctx, t.Currency, user.DefaultCurrency)
	if err != nil {
		slog.WarnContext(ctx, "Could not capture exchange rate",
			"from", t.Currency, "to", user.DefaultCurrency, "error", err)
		return
	}
	t.ExchangeRate = &rate
}

// publish emits a ledger event, absorbing broker failures.
func (s *LedgerService) publish(ctx context.Context, kind string, userID, transactionID int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, kind, userID, transactionID); err != nil {
		slog.WarnContext(ctx, "Failed to publish ledger event",
			"kind", kind, "transaction_id", transactionID, "error", err)
	}
}

// validateCategory checks that a referenced category exists and belongs
// to the transaction's user.
func validateCategory(ctx context.Context, q *storage.Queries, userID int64, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	_, err := q.GetCategory(ctx, userID, *categoryID)
	return err
}

// Create validates and records a transaction, applies its category
// effect atomically and notifies the broker.
func (s *LedgerService) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.Description = strings.TrimSpace(t.Description)
	if t.Account == "" {
		t.Account = core.DefaultAccount
	}
	if t.Date.IsZero() {
		t.Date = core.Day(time.Now())
	} else {
		t.Date = core.Day(t.Date)
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	s.captureRate(ctx, &t)

	var created core.Transaction
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		if err := validateCategory(ctx, q, t.UserID, t.CategoryID); err != nil {
			return err
		}
		var err error
		created, err = q.CreateTransaction(ctx, t)
		if err != nil {
			return err
		}
		return applyEffect(ctx, q, created, 1)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, amqp.EventTransactionCreated, created.UserID, created.ID)
	slog.InfoContext(ctx, "Created transaction",
		"transaction_id", created.ID, "user_id", created.UserID,
		"type", string(created.Type), "amount", created.Amount.String())
	return created, nil
}

// TransactionPatch carries the mutable fields of an update; nil means
// unchanged. CategorySet distinguishes "leave category alone" from
// "set category to nil".
type TransactionPatch struct {
	Description *string
	Amount      *decimal.Decimal
	Date        *time.Time
	Type        *core.TransactionType
	Account     *string
	Payee       *string
	Currency    *string
	Tags        *string
	CategorySet bool
	CategoryID  *int64
}

func (p TransactionPatch) apply(t core.Transaction) core.Transaction {
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = core.Day(*p.Date)
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Account != nil {
		t.Account = *p.Account
	}
	if p.Payee != nil {
		t.Payee = *p.Payee
	}
	if p.Currency != nil {
		t.Currency = *p.Currency
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.CategorySet {
		t.CategoryID = p.CategoryID
	}
	return t
}

// Update patches a transaction. The original effect is reversed against
// the pre-patch category before the new effect is applied against the
// post-patch one; both halves and the row update commit together.
func (s *LedgerService) Update(ctx context.Context, userID, transactionID int64, patch TransactionPatch) (core.Transaction, error) {
	var updated core.Transaction
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		original, err := q.GetTransaction(ctx, userID, transactionID)
		if err != nil {
			return err
		}

		updated = patch.apply(original)
		if err := updated.Validate(); err != nil {
			return err
		}
		if patch.CategorySet {
			if err := validateCategory(ctx, q, userID, updated.CategoryID); err != nil {
				return err
			}
		}

		if err := applyEffect(ctx, q, original, -1); err != nil {
			return err
		}
		if err := applyEffect(ctx, q, updated, 1); err != nil {
			return err
		}
		return q.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Updated transaction", "transaction_id", transactionID, "user_id", userID)
	return updated, nil
}

// Delete reverses a transaction's category effect and removes the row.
func (s *LedgerService) Delete(ctx context.Context, userID, transactionID int64) error {
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if err := applyEffect(ctx, q, t, -1); err != nil {
			return err
		}
		return q.DeleteTransaction(ctx, userID, transactionID)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, amqp.EventTransactionDeleted, userID, transactionID)
	slog.InfoContext(ctx, "Deleted transaction", "transaction_id", transactionID, "user_id", userID)
	return nil
}

// BulkError records why one batch item was rejected.
type BulkError struct {
	Index int
	Err   error
}

func (e BulkError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// BulkResult reports per-item outcomes of a batch create.
type BulkResult struct {
	Created []core.Transaction
	Errors  []BulkError
}

// BulkCreate applies create semantics to up to MaxBulkSize items.
// Items fail independently; a batch where every item fails is rejected
// wholesale.
func (s *LedgerService) BulkCreate(ctx context.Context, items []core.Transaction) (BulkResult, error) {
	if len(items) == 0 {
		return BulkResult{}, core.Invalid("transactions", "batch is empty")
	}
	if len(items) > MaxBulkSize {
		return BulkResult{}, core.Invalid("transactions", fmt.Sprintf("batch exceeds %d items", MaxBulkSize))
	}

	var result BulkResult
	for i, item := range items {
		created, err := s.Create(ctx, item)
		if err != nil {
			result.Errors = append(result.Errors, BulkError{Index: i, Err: err})
			continue
		}
		result.Created = append(result.Created, created)
	}

	if len(result.Created) == 0 {
		return result, core.Invalid("transactions", "no valid transactions in batch")
	}

	slog.InfoContext(ctx, "Bulk created transactions",
		"created", len(result.Created), "failed", len(result.Errors))
	return result, nil
}

// MaterializeOccurrence records one occurrence of a recurring template
// dated at occurrenceDate and advances the template's anchor to that
// date. Insert, category effect and anchor advance commit as one unit.
// The anchor advance is a compare-and-set against template.Date, so a
// concurrent run that already advanced the template makes the whole
// transaction roll back with a conflict instead of inserting the same
// occurrence twice.
func (s *LedgerService) MaterializeOccurrence(ctx context.Context, template core.Transaction, occurrenceDate time.Time) (core.Transaction, error) {
	occurrence := template
	occurrence.ID = 0
	occurrence.Recurring = false
	occurrence.RecurringPeriod = ""
	occurrence.Date = core.Day(occurrenceDate)
	if !strings.HasSuffix(occurrence.Description, OccurrenceSuffix) {
		occurrence.Description += OccurrenceSuffix
	}

	var created core.Transaction
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		var err error
		created, err = q.CreateTransaction(ctx, occurrence)
		if err != nil {
			return err
		}
		if err := applyEffect(ctx, q, created, 1); err != nil {
			return err
		}
		return q.AdvanceTemplateDate(ctx, template.ID, template.Date, occurrence.Date)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, amqp.EventOccurrenceCreated, created.UserID, created.ID)
	return created, nil
}

// Get returns a transaction scoped to its owner.
func (s *LedgerService) Get(ctx context.Context, userID, transactionID int64) (core.Transaction, error) {
	return s.repo.Queries().GetTransaction(ctx, userID, transactionID)
}
