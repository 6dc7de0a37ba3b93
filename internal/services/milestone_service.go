package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebudget/internal/core"
	"homebudget/internal/storage"
)

// MilestoneService tracks savings goals.
type MilestoneService struct {
	repo *storage.Repository
	now  func() time.Time
}

func NewMilestoneService(repo *storage.Repository) *MilestoneService {
	return &MilestoneService{repo: repo, now: time.Now}
}

// WithClock substitutes the time source; test seam.
func (s *MilestoneService) WithClock(now func() time.Time) *MilestoneService {
	s.now = now
	return s
}

// Create records a milestone. Names are unique per user.
func (s *MilestoneService) Create(ctx context.Context, m core.Milestone) (core.Milestone, error) {
	m.Name = strings.TrimSpace(m.Name)
	if err := m.Validate(); err != nil {
		return core.Milestone{}, err
	}

	// Name check and insert share a transaction so a racing create
	// surfaces as a conflict, not a raw constraint error.
	var created core.Milestone
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		if _, err := q.MilestoneByName(ctx, m.UserID, m.Name); err == nil {
			return core.Conflict("milestone with this name already exists")
		} else if !core.IsNotFound(err) {
			return err
		}

		var err error
		created, err = q.CreateMilestone(ctx, m)
		return err
	})
	if err != nil {
		return core.Milestone{}, err
	}

	slog.InfoContext(ctx, "Created milestone",
		"milestone_id", created.ID, "user_id", m.UserID,
		"name", m.Name, "target", m.TargetAmount.String())
	return created, nil
}

// AddProgress adds to the current amount. Overshooting the target is a
// conflict; reaching it exactly completes the milestone.
func (s *MilestoneService) AddProgress(ctx context.Context, userID, milestoneID int64, amount decimal.Decimal) (core.Milestone, error) {
	if !amount.IsPositive() {
		return core.Milestone{}, core.Invalid("amount", "progress amount must be positive")
	}

	var out core.Milestone
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		m, err := q.GetMilestone(ctx, userID, milestoneID)
		if err != nil {
			return err
		}
		if m.Completed {
			return core.StateConflict("milestone %d is already completed", m.ID)
		}

		next := m.CurrentAmount.Add(amount)
		if next.GreaterThan(m.TargetAmount) {
			return core.Conflict("progress would exceed target by %s", next.Sub(m.TargetAmount).String())
		}

		m.CurrentAmount = next
		if m.CurrentAmount.GreaterThanOrEqual(m.TargetAmount) {
			now := s.now().UTC()
			m.Completed = true
			m.CompletedDate = &now
		}

		if err := q.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return core.Milestone{}, err
	}

	if out.Completed {
		slog.InfoContext(ctx, "Milestone reached",
			"milestone_id", out.ID, "user_id", userID, "name", out.Name)
	}
	return out, nil
}

// Complete marks a milestone done regardless of progress.
func (s *MilestoneService) Complete(ctx context.Context, userID, milestoneID int64) (core.Milestone, error) {
	var out core.Milestone
	err := s.repo.RunInTx(ctx, func(q *storage.Queries) error {
		m, err := q.GetMilestone(ctx, userID, milestoneID)
		if err != nil {
			return err
		}
		if m.Completed {
			return core.StateConflict("milestone %d is already completed", m.ID)
		}

		now := s.now().UTC()
		m.Completed = true
		m.CompletedDate = &now
		if err := q.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// List returns a user's milestones.
func (s *MilestoneService) List(ctx context.Context, userID int64) ([]core.Milestone, error) {
	return s.repo.Queries().ListMilestones(ctx, userID)
}

// Delete removes a milestone.
func (s *MilestoneService) Delete(ctx context.Context, userID, milestoneID int64) error {
	return s.repo.Queries().DeleteMilestone(ctx, userID, milestoneID)
}
