package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"homebudget/internal/core"
	"homebudget/internal/storage"
)

// maxOccurrencesPerRun caps how many occurrences a single template can
// generate in one pass, bounding the backlog of a long-idle template.
const maxOccurrencesPerRun = 365

// RecurringService materializes occurrences from recurring templates.
type RecurringService struct {
	repo        *storage.Repository
	ledger      *LedgerService
	parallelism int
	now         func() time.Time
}

func NewRecurringService(repo *storage.Repository, ledger *LedgerService, parallelism int) *RecurringService {
	if parallelism < 1 {
		parallelism = 1
	}
	return &RecurringService{
		repo:        repo,
		ledger:      ledger,
		parallelism: parallelism,
		now:         time.Now,
	}
}

// WithClock substitutes the time source; test seam.
func (s *RecurringService) WithClock(now func() time.Time) *RecurringService {
	s.now = now
	return s
}

// addMonths advances by whole calendar months, clamping the day when
// the target month is shorter (Jan 31 + 1 month = Feb 29 in a leap
// year, never Mar 2).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, time.UTC)
}

// NextDate returns the occurrence date one period after anchor.
func NextDate(anchor time.Time, period core.RecurringPeriod) time.Time {
	anchor = core.Day(anchor)
	switch period {
	case core.Daily:
		return anchor.AddDate(0, 0, 1)
	case core.Weekly:
		return anchor.AddDate(0, 0, 7)
	case core.Biweekly:
		return anchor.AddDate(0, 0, 14)
	case core.Monthly:
		return addMonths(anchor, 1)
	case core.Quarterly:
		return addMonths(anchor, 3)
	case core.Yearly:
		return addMonths(anchor, 12)
	}
	return anchor
}

// DueForOccurrence reports whether a template anchored at anchor owes
// an occurrence as of asOf.
func DueForOccurrence(anchor time.Time, period core.RecurringPeriod, asOf time.Time) bool {
	if !period.Valid() {
		return false
	}
	return !NextDate(anchor, period).After(core.Day(asOf))
}

// PlannedOccurrence describes one occurrence a dry run would create.
type PlannedOccurrence struct {
	TemplateID  int64
	UserID      int64
	Description string
	Amount      decimal.Decimal
	Type        core.TransactionType
	Date        time.Time
}

// TemplateError records a template whose catch-up failed.
type TemplateError struct {
	TemplateID int64
	Err        error
}

// ProcessReport summarizes one scheduler pass.
type ProcessReport struct {
	Templates int
	Created   int
	Planned   []PlannedOccurrence
	Capped    int
	Errors    []TemplateError
}

// ProcessAll catches up every recurring template through asOf. Each
// elapsed period yields one occurrence; the anchor advances with every
// materialized occurrence, so an immediate re-run with the same asOf
// creates nothing. In dryRun mode the same dates are computed and
// reported without touching the ledger or the anchors.
func (s *RecurringService) ProcessAll(ctx context.Context, asOf time.Time, dryRun bool) (ProcessReport, error) {
	templates, err := s.repo.Queries().ListRecurringTemplates(ctx)
	if err != nil {
		return ProcessReport{}, err
	}

	asOf = core.Day(asOf)
	report := ProcessReport{Templates: len(templates)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, template := range templates {
		template := template
		g.Go(func() error {
			created, planned, capped, err := s.processTemplate(ctx, template, asOf, dryRun)

			mu.Lock()
			report.Created += created
			report.Planned = append(report.Planned, planned...)
			if capped {
				report.Capped++
			}
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				// One broken template must not starve the rest.
				report.Errors = append(report.Errors, TemplateError{TemplateID: template.ID, Err: err})
				slog.ErrorContext(ctx, "Recurring template processing failed",
					"template_id", template.ID, "error", err)
				err = nil
			}
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Planned, func(i, j int) bool {
		return report.Planned[i].Date.Before(report.Planned[j].Date)
	})

	slog.InfoContext(ctx, "Processed recurring templates",
		"templates", report.Templates, "created", report.Created,
		"dry_run", dryRun, "as_of", asOf.Format("2006-01-02"))
	return report, nil
}

func (s *RecurringService) processTemplate(ctx context.Context, template core.Transaction, asOf time.Time, dryRun bool) (created int, planned []PlannedOccurrence, capped bool, err error) {
	cursor := core.Day(template.Date)

	for i := 0; i < maxOccurrencesPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return created, planned, capped, err
		}
		if !DueForOccurrence(cursor, template.RecurringPeriod, asOf) {
			return created, planned, capped, nil
		}
		next := NextDate(cursor, template.RecurringPeriod)

		if dryRun {
			planned = append(planned, PlannedOccurrence{
				TemplateID:  template.ID,
				UserID:      template.UserID,
				Description: template.Description,
				Amount:      template.Amount,
				Type:        template.Type,
				Date:        next,
			})
			cursor = next
			continue
		}

		// The anchor advance compares against cursor; a conflict means
		// another pass already materialized this period, so this one
		// leaves the template to it.
		template.Date = cursor
		if _, err := s.ledger.MaterializeOccurrence(ctx, template, next); err != nil {
			if core.IsConflict(err) {
				return created, planned, capped, nil
			}
			return created, planned, capped, err
		}
		cursor = next
		created++
	}

	slog.WarnContext(ctx, "Recurring template hit occurrence cap",
		"template_id", template.ID, "cap", maxOccurrencesPerRun)
	return created, planned, true, nil
}

// Stop clears the recurring flag, freezing the template as an ordinary
// historical transaction.
func (s *RecurringService) Stop(ctx context.Context, userID, transactionID int64) error {
	t, err := s.repo.Queries().GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return err
	}
	if !t.Recurring {
		return core.StateConflict("transaction %d is not recurring", transactionID)
	}
	if err := s.repo.Queries().ClearRecurring(ctx, userID, transactionID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Stopped recurring template", "transaction_id", transactionID, "user_id", userID)
	return nil
}

// Summary reports a user's active templates and their estimated
// monthly cash flow impact.
type Summary struct {
	ActiveTemplates int
	MonthlyExpense  decimal.Decimal
	MonthlyIncome   decimal.Decimal
}

// monthlyFactor approximates occurrences per month for a period.
var monthlyFactor = map[core.RecurringPeriod]decimal.Decimal{
	core.Daily:     decimal.NewFromFloat(30.44),
	core.Weekly:    decimal.NewFromFloat(4.35),
	core.Biweekly:  decimal.NewFromFloat(2.17),
	core.Monthly:   decimal.NewFromInt(1),
	core.Quarterly: decimal.NewFromInt(1).Div(decimal.NewFromInt(3)),
	core.Yearly:    decimal.NewFromInt(1).Div(decimal.NewFromInt(12)),
}

// Summarize estimates the monthly impact of a user's templates.
func (s *RecurringService) Summarize(ctx context.Context, userID int64) (Summary, error) {
	templates, err := s.repo.Queries().ListUserRecurringTemplates(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{ActiveTemplates: len(templates)}
	for _, t := range templates {
		monthly := t.Amount.Mul(monthlyFactor[t.RecurringPeriod]).Round(2)
		switch t.Type {
		case core.TypeExpense:
			out.MonthlyExpense = out.MonthlyExpense.Add(monthly)
		case core.TypeIncome:
			out.MonthlyIncome = out.MonthlyIncome.Add(monthly)
		}
	}
	return out, nil
}

// Upcoming lists occurrences a user's templates will generate within
// the next days, ordered by date.
func (s *RecurringService) Upcoming(ctx context.Context, userID int64, days int) ([]PlannedOccurrence, error) {
	templates, err := s.repo.Queries().ListUserRecurringTemplates(ctx, userID)
	if err != nil {
		return nil, err
	}

	horizon := core.Day(s.now()).AddDate(0, 0, days)
	var upcoming []PlannedOccurrence
	for _, t := range templates {
		cursor := core.Day(t.Date)
		for i := 0; i < maxOccurrencesPerRun; i++ {
			cursor = NextDate(cursor, t.RecurringPeriod)
			if cursor.After(horizon) {
				break
			}
			upcoming = append(upcoming, PlannedOccurrence{
				TemplateID:  t.ID,
				UserID:      t.UserID,
				Description: t.Description,
				Amount:      t.Amount,
				Type:        t.Type,
				Date:        cursor,
			})
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].Date.Before(upcoming[j].Date)
	})
	return upcoming, nil
}
