package services

import (
	"context"
	"testing"
	"time"

	"homebudget/internal/core"
)

func TestMilestoneCreateDuplicateName(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	svc := NewMilestoneService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, core.Milestone{
		UserID: user.ID, Name: "Emergency Fund", TargetAmount: dec("5000"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.Create(ctx, core.Milestone{
		UserID: user.ID, Name: "Emergency Fund", TargetAmount: dec("1000"),
	})
	if !core.IsConflict(err) {
		t.Fatalf("duplicate name should be a conflict, got %v", err)
	}
}

func TestMilestoneAddProgressCompletesAtTarget(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	now := day(2024, 6, 1)
	svc := NewMilestoneService(repo).WithClock(func() time.Time { return now })
	ctx := context.Background()

	m, err := svc.Create(ctx, core.Milestone{
		UserID: user.ID, Name: "Vacation", TargetAmount: dec("1000"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, err = svc.AddProgress(ctx, user.ID, m.ID, dec("400"))
	if err != nil {
		t.Fatalf("AddProgress: %v", err)
	}
	wantAmount(t, "current", m.CurrentAmount, dec("400"))
	if m.Completed {
		t.Error("milestone completed before reaching the target")
	}

	// Overshooting the target is refused outright.
	if _, err := svc.AddProgress(ctx, user.ID, m.ID, dec("700")); !core.IsConflict(err) {
		t.Fatalf("overshooting progress should be a conflict, got %v", err)
	}

	// Landing exactly on the target completes the milestone.
	m, err = svc.AddProgress(ctx, user.ID, m.ID, dec("600"))
	if err != nil {
		t.Fatalf("AddProgress: %v", err)
	}
	wantAmount(t, "current at target", m.CurrentAmount, dec("1000"))
	if !m.Completed {
		t.Fatal("reaching the target should complete the milestone")
	}
	if m.CompletedDate == nil || !m.CompletedDate.Equal(now) {
		t.Errorf("completed_date = %v, want %v", m.CompletedDate, now)
	}

	if _, err := svc.AddProgress(ctx, user.ID, m.ID, dec("1")); !core.IsStateError(err) {
		t.Errorf("progress on a completed milestone should be a state error, got %v", err)
	}
}

func TestMilestoneAddProgressValidation(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	svc := NewMilestoneService(repo)
	ctx := context.Background()

	m, err := svc.Create(ctx, core.Milestone{
		UserID: user.ID, Name: "Vacation", TargetAmount: dec("1000"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.AddProgress(ctx, user.ID, m.ID, dec("0")); !core.IsValidation(err) {
		t.Errorf("zero progress should be a validation error, got %v", err)
	}
	if _, err := svc.AddProgress(ctx, user.ID, m.ID, dec("-5")); !core.IsValidation(err) {
		t.Errorf("negative progress should be a validation error, got %v", err)
	}
}

func TestMilestoneForceComplete(t *testing.T) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	svc := NewMilestoneService(repo)
	ctx := context.Background()

	m, err := svc.Create(ctx, core.Milestone{
		UserID: user.ID, Name: "Old Goal", TargetAmount: dec("1000"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, err = svc.Complete(ctx, user.ID, m.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !m.Completed || m.CompletedDate == nil {
		t.Error("Complete should mark the milestone done with a date")
	}

	if _, err := svc.Complete(ctx, user.ID, m.ID); !core.IsStateError(err) {
		t.Errorf("completing twice should be a state error, got %v", err)
	}
}
