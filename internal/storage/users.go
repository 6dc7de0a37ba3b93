package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homebudget/internal/core"
)

func (q *Queries) CreateUser(ctx context.Context, username, defaultCurrency string) (core.User, error) {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (username, default_currency) VALUES (?, ?)`, username, defaultCurrency)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	return core.User{
		ID:              id,
		Username:        username,
		DefaultCurrency: defaultCurrency,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (core.User, error) {
	var (
		u      core.User
		income string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, username, default_currency, monthly_income, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.DefaultCurrency, &income, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("user")
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.MonthlyIncome, err = scanDecimal(income); err != nil {
		return core.User{}, err
	}
	return u, nil
}
