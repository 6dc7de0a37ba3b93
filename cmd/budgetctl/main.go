package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"homebudget/internal/config"
	"homebudget/internal/rates"
	"homebudget/internal/services"
	"homebudget/internal/storage"
)

const usage = `usage: budgetctl <command> [flags]

commands:
  seed      -user <id>                      create the default category set
  catchup   [-as-of YYYY-MM-DD] [-dry-run]  materialize due recurring occurrences
  recompute -user <id>                      refresh all category balances
`

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	var cmdErr error
	switch os.Args[1] {
	case "seed":
		cmdErr = runSeed(ctx, cfg, repo, os.Args[2:])
	case "catchup":
		cmdErr = runCatchup(ctx, cfg, repo, os.Args[2:])
	case "recompute":
		cmdErr = runRecompute(ctx, cfg, repo, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "error:", cmdErr)
		os.Exit(1)
	}
}

func runSeed(ctx context.Context, cfg *config.Config, repo *storage.Repository, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id to seed categories for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return fmt.Errorf("seed: -user is required")
	}

	policy, err := services.ParseBalancePolicy(cfg.BalanceWindow)
	if err != nil {
		return err
	}
	budget := services.NewBudgetService(repo, policy)

	created, err := budget.SeedDefaultCategories(ctx, *userID)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d categories for user %d\n", len(created), *userID)
	return nil
}

func runCatchup(ctx context.Context, cfg *config.Config, repo *storage.Repository, args []string) error {
	fs := flag.NewFlagSet("catchup", flag.ExitOnError)
	asOfFlag := fs.String("as-of", "", "process occurrences due through this date (default today)")
	dryRun := fs.Bool("dry-run", false, "report what would be created without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	asOf := time.Now()
	if *asOfFlag != "" {
		var err error
		asOf, err = time.Parse("2006-01-02", *asOfFlag)
		if err != nil {
			return fmt.Errorf("catchup: bad -as-of date: %w", err)
		}
	}

	rateSource := rates.NewService(cfg.ExchangeAPIKey, cfg.ExchangeTimeout)
	ledger := services.NewLedgerService(repo, rateSource, nil)
	processor := services.NewRecurringService(repo, ledger, cfg.RecurringParallelism)

	report, err := processor.ProcessAll(ctx, asOf, *dryRun)
	if err != nil {
		return err
	}

	if *dryRun {
		fmt.Printf("dry run: %d occurrences due across %d templates\n", len(report.Planned), report.Templates)
		for _, p := range report.Planned {
			fmt.Printf("  %s  %-10s %8s  %s\n",
				p.Date.Format("2006-01-02"), p.Type, p.Amount.String(), p.Description)
		}
		return nil
	}

	fmt.Printf("created %d occurrences across %d templates\n", report.Created, report.Templates)
	if report.Capped > 0 {
		fmt.Printf("warning: %d templates hit the per-run occurrence cap\n", report.Capped)
	}
	return nil
}

func runRecompute(ctx context.Context, cfg *config.Config, repo *storage.Repository, args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id to recompute balances for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return fmt.Errorf("recompute: -user is required")
	}

	policy, err := services.ParseBalancePolicy(cfg.BalanceWindow)
	if err != nil {
		return err
	}
	budget := services.NewBudgetService(repo, policy)

	changed, err := budget.RecomputeAll(ctx, *userID)
	if err != nil {
		return err
	}
	fmt.Printf("recomputed balances for user %d: %d changed\n", *userID, changed)
	return nil
}
