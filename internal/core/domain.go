package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryIncome  CategoryType = "income"
	CategoryExpense CategoryType = "expense"
	CategorySaving  CategoryType = "saving"
)

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

const (
	Daily     RecurringPeriod = "daily"
	Weekly    RecurringPeriod = "weekly"
	Biweekly  RecurringPeriod = "biweekly"
	Monthly   RecurringPeriod = "monthly"
	Quarterly RecurringPeriod = "quarterly"
	Yearly    RecurringPeriod = "yearly"
)

// Accounts a transaction or reconciliation can belong to.
var ValidAccounts = []string{"checking", "savings", "credit", "cash"}

const (
	DefaultAccount = "checking"
	DefaultColor   = "#007bff"

	maxDescriptionLen = 255
	maxNameLen        = 100
)

type (
	CategoryType    string
	TransactionType string
	RecurringPeriod string

	User struct {
		ID              int64
		Username        string
		DefaultCurrency string
		MonthlyIncome   decimal.Decimal
		CreatedAt       time.Time
	}

	BudgetCategory struct {
		ID        int64
		UserID    int64
		Name      string
		Type      CategoryType
		Allocated decimal.Decimal
		Available decimal.Decimal
		Color     string
		CreatedAt time.Time
	}

	Transaction struct {
		ID         int64
		UserID     int64
		CategoryID *int64
		Amount     decimal.Decimal
		Currency   string
		// ExchangeRate is the historical rate to the user's default
		// currency captured at creation time. Never updated afterward.
		ExchangeRate    *decimal.Decimal
		Description     string
		Type            TransactionType
		Date            time.Time
		Payee           string
		Account         string
		Tags            string
		Recurring       bool
		RecurringPeriod RecurringPeriod
		CreatedAt       time.Time
	}

	Reconciliation struct {
		ID               int64
		UserID           int64
		Account          string
		StatementDate    time.Time
		StatementBalance decimal.Decimal
		BookBalance      decimal.Decimal
		Difference       decimal.Decimal
		Reconciled       bool
		ReconciledAt     *time.Time
		Notes            string
		CreatedAt        time.Time
	}

	ReconciliationItem struct {
		ID               int64
		ReconciliationID int64
		TransactionID    int64
		Cleared          bool
		Notes            string
	}

	Milestone struct {
		ID            int64
		UserID        int64
		Name          string
		Description   string
		TargetAmount  decimal.Decimal
		CurrentAmount decimal.Decimal
		TargetDate    *time.Time
		Completed     bool
		CompletedDate *time.Time
		Category      string
		CreatedAt     time.Time
	}
)

func (t CategoryType) Valid() bool {
	switch t {
	case CategoryIncome, CategoryExpense, CategorySaving:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

func (p RecurringPeriod) Valid() bool {
	switch p {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

func ValidAccount(account string) bool {
	for _, a := range ValidAccounts {
		if account == a {
			return true
		}
	}
	return false
}

// ValidColor reports whether s is a #rrggbb color tag.
func ValidColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Day returns t truncated to a calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (c BudgetCategory) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Invalid("name", "category name is required")
	}
	if len(name) > maxNameLen {
		return Invalid("name", "category name too long (max 100 characters)")
	}
	if !c.Type.Valid() {
		return Invalid("category_type", "must be income, expense or saving")
	}
	if c.Allocated.IsNegative() {
		return Invalid("allocated_amount", "allocated amount cannot be negative")
	}
	if c.Color != "" && !ValidColor(c.Color) {
		return Invalid("color", "must be a #rrggbb value")
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return Invalid("amount", "amount must be positive")
	}
	if strings.TrimSpace(t.Description) == "" {
		return Invalid("description", "description is required")
	}
	if len(t.Description) > maxDescriptionLen {
		return Invalid("description", "description too long (max 255 characters)")
	}
	if !t.Type.Valid() {
		return Invalid("transaction_type", "must be income, expense or transfer")
	}
	if t.Recurring && t.RecurringPeriod == "" {
		return Invalid("recurring_period", "recurring period is required for recurring transactions")
	}
	if t.RecurringPeriod != "" && !t.RecurringPeriod.Valid() {
		return Invalid("recurring_period", "must be daily, weekly, biweekly, monthly, quarterly or yearly")
	}
	if t.Account != "" && !ValidAccount(t.Account) {
		return Invalid("account", "must be checking, savings, credit or cash")
	}
	return nil
}

func (m Milestone) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return Invalid("name", "milestone name is required")
	}
	if !m.TargetAmount.IsPositive() {
		return Invalid("target_amount", "target amount must be positive")
	}
	return nil
}

// ProgressPercentage returns completion as 0-100, capped at 100.
func (m Milestone) ProgressPercentage() float64 {
	if !m.TargetAmount.IsPositive() {
		return 0
	}
	pct, _ := m.CurrentAmount.Div(m.TargetAmount).Mul(decimal.NewFromInt(100)).Float64()
	if pct > 100 {
		return 100
	}
	return pct
}

// IsOverdue reports whether the target date has passed without completion.
func (m Milestone) IsOverdue(today time.Time) bool {
	return m.TargetDate != nil && m.TargetDate.Before(Day(today)) && !m.Completed
}
