package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"homebudget/internal/amqp"
	"homebudget/internal/core"
	"homebudget/internal/rates"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishLedgerEvent(ctx context.Context, kind string, userID, transactionID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind)
	return nil
}

func TestCreateExpenseReducesCategory(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	c := newTestCategory(t, budget, user.ID, "Groceries", "500")

	_, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &c.ID, Amount: dec("120"),
		Description: "Weekly shop", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fresh, err := repo.Queries().GetCategory(ctx, user.ID, c.ID)
	if err != nil {
		t.Fatalf("GetCategory: %v", err)
	}
	wantAmount(t, "available", fresh.Available, dec("380"))
}

func TestUpdateReversesThenApplies(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	c := newTestCategory(t, budget, user.ID, "Groceries", "500")
	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &c.ID, Amount: dec("120"),
		Description: "Weekly shop", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newAmount := dec("50")
	_, err = ledger.Update(ctx, user.ID, created.ID, TransactionPatch{Amount: &newAmount})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fresh, _ := repo.Queries().GetCategory(ctx, user.ID, c.ID)
	wantAmount(t, "available after amount change", fresh.Available, dec("450"))

	if err := ledger.Delete(ctx, user.ID, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	fresh, _ = repo.Queries().GetCategory(ctx, user.ID, c.ID)
	wantAmount(t, "available after delete", fresh.Available, dec("500"))
}

func TestUpdateMovesCategoryEffect(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	a := newTestCategory(t, budget, user.ID, "Groceries", "300")
	b := newTestCategory(t, budget, user.ID, "Dining Out", "300")

	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &a.ID, Amount: dec("100"),
		Description: "Takeaway", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Reversal must hit the original category, application the new one.
	_, err = ledger.Update(ctx, user.ID, created.ID, TransactionPatch{
		CategorySet: true, CategoryID: &b.ID,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	freshA, _ := repo.Queries().GetCategory(ctx, user.ID, a.ID)
	freshB, _ := repo.Queries().GetCategory(ctx, user.ID, b.ID)
	wantAmount(t, "original category restored", freshA.Available, dec("300"))
	wantAmount(t, "new category charged", freshB.Available, dec("200"))
}

func TestUpdateTypeChangeReleasesBudget(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	c := newTestCategory(t, budget, user.ID, "Groceries", "300")
	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &c.ID, Amount: dec("100"),
		Description: "Refunded purchase", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newType := core.TypeIncome
	_, err = ledger.Update(ctx, user.ID, created.ID, TransactionPatch{Type: &newType})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fresh, _ := repo.Queries().GetCategory(ctx, user.ID, c.ID)
	wantAmount(t, "available after expense became income", fresh.Available, dec("300"))
}

func TestCreateRejectsForeignCategory(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	other, err := repo.Queries().CreateUser(ctx, "other", "USD")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	foreign := newTestCategory(t, budget, other.ID, "Their Groceries", "100")

	_, err = ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &foreign.ID, Amount: dec("10"),
		Description: "Sneaky", Type: core.TypeExpense,
	})
	if !core.IsNotFound(err) {
		t.Fatalf("foreign category should read as not found, got %v", err)
	}

	// Nothing was written and the foreign balance is untouched.
	fresh, _ := repo.Queries().GetCategory(ctx, other.ID, foreign.ID)
	wantAmount(t, "foreign available", fresh.Available, dec("100"))
}

func TestBulkCreatePartialFailure(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	items := []core.Transaction{
		{UserID: user.ID, Amount: dec("10"), Description: "Coffee", Type: core.TypeExpense},
		{UserID: user.ID, Amount: dec("0"), Description: "Broken", Type: core.TypeExpense},
		{UserID: user.ID, Amount: dec("20"), Description: "Lunch", Type: core.TypeExpense},
	}

	result, err := ledger.BulkCreate(ctx, items)
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	if len(result.Created) != 2 {
		t.Errorf("created %d, want 2", len(result.Created))
	}
	if len(result.Errors) != 1 || result.Errors[0].Index != 1 {
		t.Errorf("errors = %+v, want one error at index 1", result.Errors)
	}
}

func TestBulkCreateAllInvalid(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	items := []core.Transaction{
		{UserID: user.ID, Amount: dec("0"), Description: "Broken", Type: core.TypeExpense},
		{UserID: user.ID, Amount: dec("10"), Description: "", Type: core.TypeExpense},
	}

	if _, err := ledger.BulkCreate(ctx, items); !core.IsValidation(err) {
		t.Fatalf("all-invalid batch should be rejected, got %v", err)
	}

	oversized := make([]core.Transaction, MaxBulkSize+1)
	if _, err := ledger.BulkCreate(ctx, oversized); !core.IsValidation(err) {
		t.Fatalf("oversized batch should be rejected, got %v", err)
	}
}

func TestCreateCapturesExchangeRate(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo) // default currency USD
	ctx := context.Background()

	source := rates.SourceFunc(func(ctx context.Context, from, to string) (decimal.Decimal, error) {
		if from != "EUR" || to != "USD" {
			t.Errorf("rate lookup %s/%s, want EUR/USD", from, to)
		}
		return dec("1.09"), nil
	})
	ledger := NewLedgerService(repo, source, nil)

	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, Amount: dec("100"), Currency: "EUR",
		Description: "Hotel", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ExchangeRate == nil {
		t.Fatal("exchange rate should be captured for a foreign currency")
	}
	wantAmount(t, "exchange rate", *created.ExchangeRate, dec("1.09"))

	// Same currency: no lookup result is stored.
	created, err = ledger.Create(ctx, core.Transaction{
		UserID: user.ID, Amount: dec("50"), Currency: "USD",
		Description: "Local", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ExchangeRate != nil {
		t.Error("no rate should be captured for the default currency")
	}
}

func TestCreateSurvivesRateFailure(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	ctx := context.Background()

	source := rates.SourceFunc(func(ctx context.Context, from, to string) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("rate API down")
	})
	ledger := NewLedgerService(repo, source, nil)

	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, Amount: dec("100"), Currency: "EUR",
		Description: "Hotel", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create should succeed without a rate: %v", err)
	}
	if created.ExchangeRate != nil {
		t.Error("failed lookup should leave the rate unset")
	}
}

func TestLedgerEventsPublished(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	pub := &recordingPublisher{}
	ledger := NewLedgerService(repo, nil, pub)
	ctx := context.Background()

	created, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, Amount: dec("10"), Description: "Coffee", Type: core.TypeExpense,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledger.Delete(ctx, user.ID, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{amqp.EventTransactionCreated, amqp.EventTransactionDeleted}
	if len(pub.events) != len(want) {
		t.Fatalf("published %v, want %v", pub.events, want)
	}
	for i := range want {
		if pub.events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, pub.events[i], want[i])
		}
	}
}

func TestMaterializeOccurrence(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	budget := NewBudgetService(repo, SpendAllTime)
	pub := &recordingPublisher{}
	ledger := NewLedgerService(repo, nil, pub)
	ctx := context.Background()

	c := newTestCategory(t, budget, user.ID, "Subscriptions", "100")
	template, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, CategoryID: &c.ID, Amount: dec("15"),
		Description: "Streaming", Type: core.TypeExpense,
		Date:      day(2024, 1, 1),
		Recurring: true, RecurringPeriod: core.Monthly,
	})
	if err != nil {
		t.Fatalf("Create template: %v", err)
	}

	occurrence, err := ledger.MaterializeOccurrence(ctx, template, day(2024, 2, 1))
	if err != nil {
		t.Fatalf("MaterializeOccurrence: %v", err)
	}

	if occurrence.Recurring {
		t.Error("occurrence should not itself be recurring")
	}
	if !strings.HasSuffix(occurrence.Description, OccurrenceSuffix) {
		t.Errorf("occurrence description %q missing suffix", occurrence.Description)
	}
	if !occurrence.Date.Equal(day(2024, 2, 1)) {
		t.Errorf("occurrence date = %v, want 2024-02-01", occurrence.Date)
	}

	// Anchor advanced to the occurrence date.
	fresh, err := repo.Queries().GetTransaction(ctx, user.ID, template.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !fresh.Date.Equal(day(2024, 2, 1)) {
		t.Errorf("anchor = %v, want 2024-02-01", fresh.Date)
	}

	// Template creation spent 15, the occurrence another 15.
	freshCat, _ := repo.Queries().GetCategory(ctx, user.ID, c.ID)
	wantAmount(t, "available", freshCat.Available, dec("70"))

	if len(pub.events) != 2 || pub.events[1] != amqp.EventOccurrenceCreated {
		t.Errorf("events = %v, want create followed by occurrence", pub.events)
	}
}

func TestMaterializeOccurrenceStaleAnchor(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	ledger := NewLedgerService(repo, nil, nil)
	ctx := context.Background()

	template, err := ledger.Create(ctx, core.Transaction{
		UserID: user.ID, Amount: dec("100"),
		Description: "Rent", Type: core.TypeExpense,
		Date: day(2024, 1, 15), Recurring: true, RecurringPeriod: core.Monthly,
	})
	if err != nil {
		t.Fatalf("Create template: %v", err)
	}

	// Two catch-up passes that both loaded the template before either
	// committed: each tries to materialize the same period from the
	// same anchor snapshot. Exactly one may win.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.MaterializeOccurrence(ctx, template, day(2024, 2, 15))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case core.IsConflict(err):
			conflicted++
		default:
			t.Fatalf("MaterializeOccurrence: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly one of each", succeeded, conflicted)
	}

	// The losing pass rolled back: one occurrence row, anchor advanced
	// exactly one period.
	all, err := repo.Queries().ListAccountTransactionsThrough(ctx, user.ID, core.DefaultAccount, day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ListAccountTransactionsThrough: %v", err)
	}
	occurrences := 0
	for _, tx := range all {
		if !tx.Recurring && tx.Date.Equal(day(2024, 2, 15)) {
			occurrences++
		}
	}
	if occurrences != 1 {
		t.Errorf("found %d occurrence rows for the period, want 1", occurrences)
	}

	fresh, err := repo.Queries().GetTransaction(ctx, user.ID, template.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !fresh.Date.Equal(day(2024, 2, 15)) {
		t.Errorf("anchor = %v, want 2024-02-15", fresh.Date.Format("2006-01-02"))
	}
}
