// Package rates resolves exchange rates between currency pairs.
//
// The ledger only consults it once, at transaction creation, to capture
// a historical rate. Lookups are cached for an hour, fetched over HTTP
// with a hard timeout, and fall back to a static table so a dead API
// never blocks a create.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/cache"
	"homebudget/internal/core"
)

// Source resolves the rate from one currency to another.
type Source interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, from, to string) (decimal.Decimal, error)

func (f SourceFunc) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return f(ctx, from, to)
}

const (
	cacheTTL     = time.Hour
	cacheEntries = 128
)

// Service fetches rates from exchangerate-api.com (v6) with caching and
// a static fallback.
type Service struct {
	apiKey string
	client *http.Client
	cache  *cache.LRUCache[decimal.Decimal]
}

func NewService(apiKey string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		cache:  cache.NewLRUCache[decimal.Decimal](cacheEntries, cacheTTL),
	}
}

// Rate returns the rate from one currency to another. Identical
// currencies are 1. API failures degrade to the static fallback table;
// a pair absent there too is a DependencyError.
func (s *Service) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := from + "/" + to
	if rate, ok := s.cache.Get(key); ok {
		return rate, nil
	}

	rate, err := s.fetch(ctx, from, to)
	if err != nil {
		if fallback, ok := defaultRates[key]; ok {
			return fallback, nil
		}
		if inverse, ok := defaultRates[to+"/"+from]; ok && inverse.IsPositive() {
			return decimal.NewFromInt(1).Div(inverse).Round(6), nil
		}
		return decimal.Zero, core.DependencyFailed("exchange rate lookup", err)
	}

	s.cache.Set(key, rate)
	return rate, nil
}

// Convert translates amount from one currency to another.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, err := s.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}

type apiResponse struct {
	Result          string                 `json:"result"`
	ErrorType       string                 `json:"error-type"`
	ConversionRates map[string]json.Number `json:"conversion_rates"`
}

func (s *Service) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if s.apiKey == "" {
		return decimal.Zero, fmt.Errorf("exchange rate API key not configured")
	}

	url := fmt.Sprintf("https://v6.exchangerate-api.com/v6/%s/latest/%s", s.apiKey, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate API status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}
	if body.Result == "error" {
		return decimal.Zero, fmt.Errorf("rate API error: %s", body.ErrorType)
	}

	raw, ok := body.ConversionRates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate for %s not in response", to)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed rate %q: %w", raw.String(), err)
	}
	return rate, nil
}

// Approximate fallback rates used when the API is unreachable.
var defaultRates = map[string]decimal.Decimal{
	"USD/EUR": decimal.RequireFromString("0.92"),
	"USD/GBP": decimal.RequireFromString("0.79"),
	"USD/KES": decimal.RequireFromString("150.0"),
	"USD/CAD": decimal.RequireFromString("1.35"),
	"USD/JPY": decimal.RequireFromString("148.0"),
	"USD/INR": decimal.RequireFromString("83.0"),
	"USD/CHF": decimal.RequireFromString("0.88"),
	"EUR/USD": decimal.RequireFromString("1.09"),
	"EUR/GBP": decimal.RequireFromString("0.86"),
	"EUR/KES": decimal.RequireFromString("163.0"),
	"GBP/USD": decimal.RequireFromString("1.27"),
	"GBP/EUR": decimal.RequireFromString("1.16"),
	"KES/USD": decimal.RequireFromString("0.0067"),
	"KES/EUR": decimal.RequireFromString("0.0061"),
}
