package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homebudget/internal/core"
)

const milestoneColumns = `id, user_id, name, description, target_amount, current_amount,
	target_date, completed, completed_date, category, created_at`

func scanMilestone(row interface{ Scan(...any) error }) (core.Milestone, error) {
	var (
		m               core.Milestone
		target, current string
		targetDate      sql.NullTime
		completed       int64
		completedDate   sql.NullTime
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Description, &target, &current,
		&targetDate, &completed, &completedDate, &m.Category, &m.CreatedAt)
	if err != nil {
		return core.Milestone{}, err
	}
	if m.TargetAmount, err = scanDecimal(target); err != nil {
		return core.Milestone{}, err
	}
	if m.CurrentAmount, err = scanDecimal(current); err != nil {
		return core.Milestone{}, err
	}
	if targetDate.Valid {
		d := core.Day(targetDate.Time)
		m.TargetDate = &d
	}
	m.Completed = completed != 0
	if completedDate.Valid {
		d := core.Day(completedDate.Time)
		m.CompletedDate = &d
	}
	return m, nil
}

func (q *Queries) CreateMilestone(ctx context.Context, m core.Milestone) (core.Milestone, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO milestones (user_id, name, description, target_amount, current_amount,
			target_date, completed, category)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		m.UserID, m.Name, m.Description, m.TargetAmount.String(), m.CurrentAmount.String(),
		nullTime(m.TargetDate), m.Category)
	if err != nil {
		return core.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return core.Milestone{}, fmt.Errorf("milestone id: %w", err)
	}
	m.CreatedAt = time.Now().UTC()
	return m, nil
}

func (q *Queries) GetMilestone(ctx context.Context, userID, id int64) (core.Milestone, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE id = ? AND user_id = ?`, id, userID)
	m, err := scanMilestone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Milestone{}, core.NotFound("milestone")
	}
	if err != nil {
		return core.Milestone{}, fmt.Errorf("get milestone: %w", err)
	}
	return m, nil
}

func (q *Queries) MilestoneByName(ctx context.Context, userID int64, name string) (core.Milestone, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE user_id = ? AND name = ?`, userID, name)
	m, err := scanMilestone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Milestone{}, core.NotFound("milestone")
	}
	if err != nil {
		return core.Milestone{}, fmt.Errorf("milestone by name: %w", err)
	}
	return m, nil
}

func (q *Queries) ListMilestones(ctx context.Context, userID int64) ([]core.Milestone, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var out []core.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateMilestone(ctx context.Context, m core.Milestone) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE milestones
		SET name = ?, description = ?, target_amount = ?, current_amount = ?,
			target_date = ?, completed = ?, completed_date = ?, category = ?
		WHERE id = ? AND user_id = ?`,
		m.Name, m.Description, m.TargetAmount.String(), m.CurrentAmount.String(),
		nullTime(m.TargetDate), boolInt(m.Completed), nullTime(m.CompletedDate), m.Category,
		m.ID, m.UserID)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	return nil
}

func (q *Queries) DeleteMilestone(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM milestones WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("milestone")
	}
	return nil
}
