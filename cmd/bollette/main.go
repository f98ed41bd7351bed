package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bollette/internal/cli"
	"bollette/internal/core"
	"bollette/internal/dedupe"
	"bollette/internal/feed"
	"bollette/internal/institution"
	"bollette/internal/log"
	"bollette/internal/services"
	"bollette/internal/similarity"
	"bollette/internal/storage"
)

const usage = `Usage: bollette <command> [flags]

Commands:
  dedupe       report duplicate bill instances (exact or fuzzy mode)
  reconcile    run one reconciliation pass against the transaction feed
  generate     create instances for patterns whose due date has arrived
  list         show every pattern with its status and next due date
  unmark       revert a mistaken payment on a bill
  pause        toggle a pattern between active and paused
  end          retire a pattern and remove its unpaid instances
  institution  resolve a raw institution name against known accounts
`

func main() {
	cli.LoadEnvFile()
	slogger := cli.SetupLogger()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(slogger)
	store, closeStore := cli.InitStore(slogger, cfg)
	defer closeStore()

	ctx := context.Background()
	logger := log.New(log.Config{Component: log.ComponentApp})
	engine := similarity.NewEngine()

	var err error
	switch os.Args[1] {
	case "dedupe":
		err = runDedupe(ctx, store, engine, os.Args[2:])
	case "reconcile":
		err = runReconcile(ctx, store, engine, logger, cfg.FeedPath, cfg.FeedWindowDays, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, store, engine, logger)
	case "list":
		err = runList(ctx, store, logger)
	case "unmark":
		err = runUnmark(ctx, store, logger, os.Args[2:])
	case "pause":
		err = runPause(ctx, store, logger, os.Args[2:])
	case "end":
		err = runEnd(ctx, store, logger, os.Args[2:])
	case "institution":
		err = runInstitution(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slogger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runDedupe(ctx context.Context, store storage.Store, engine *similarity.Engine, args []string) error {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	mode := fs.String("mode", "exact", "detection mode: exact or fuzzy")
	fs.Parse(args)

	bills, err := store.ListUnpaidBills(ctx)
	if err != nil {
		return err
	}

	var report *dedupe.Report
	switch *mode {
	case "exact":
		report = dedupe.ExactKey(bills)
	case "fuzzy":
		report = dedupe.NewDetector(engine).Fuzzy(bills)
	default:
		return fmt.Errorf("unknown dedupe mode %q", *mode)
	}

	fmt.Println(report.Summary())
	for _, group := range report.DuplicateGroups() {
		fmt.Printf("  kept %s (%s, %s due %s)\n", group.Keep.ID, group.Keep.Name, group.Keep.Amount.Dollars(), group.Keep.DueDate.ISO())
		for _, dup := range group.Remove {
			fmt.Printf("    duplicate %s\n", dup.ID)
		}
	}
	for _, bad := range report.Invalid {
		fmt.Printf("  invalid record at index %d: %v\n", bad.Index, bad.Err)
	}
	return nil
}

func runReconcile(ctx context.Context, store storage.Store, engine *similarity.Engine, logger *log.Logger, feedPath string, windowDays int, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	path := fs.String("feed", feedPath, "transaction feed CSV path")
	window := fs.Int("window", windowDays, "feed window in days")
	fs.Parse(args)

	now := time.Now()
	to := core.DateOf(now)
	from := core.DateOf(now.AddDate(0, 0, -*window))

	txs, err := feed.NewCSVReader(*path).Transactions(ctx, from, to)
	if err != nil {
		return err
	}
	bills, err := store.ListUnpaidBills(ctx)
	if err != nil {
		return err
	}

	summary, err := services.NewReconciler(store, engine, logger, nil).Reconcile(ctx, txs, bills, now)
	if err != nil {
		return err
	}

	fmt.Printf("reconciled %d transactions against %d unpaid bills: %d cleared, %d advanced, %d generated\n",
		len(txs), len(bills), summary.Cleared, summary.Advanced, summary.Generated)
	for _, d := range summary.Details {
		fmt.Printf("  tx %s -> bill %s (confidence %d)\n", d.TransactionID, d.BillID, d.Confidence)
	}
	for _, bad := range summary.Invalid {
		fmt.Printf("  invalid: %s\n", bad)
	}
	return nil
}

func runGenerate(ctx context.Context, store storage.Store, engine *similarity.Engine, logger *log.Logger) error {
	count, err := services.NewReconciler(store, engine, logger, nil).GenerateDue(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("generated %d bill instances\n", count)
	return nil
}

func runList(ctx context.Context, store storage.Store, logger *log.Logger) error {
	overviews, err := services.NewBillService(store, logger).ListOverview(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, o := range overviews {
		marker := ""
		if o.Overdue {
			marker = " OVERDUE"
		}
		fmt.Printf("%-36s %-20s %8s %-10s %-8s due %s%s\n",
			o.Pattern.ID, o.Pattern.Name, o.Pattern.Amount.Dollars(),
			o.Pattern.Frequency, o.Status, o.NextDue.ISO(), marker)
	}
	return nil
}

func runUnmark(ctx context.Context, store storage.Store, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("unmark", flag.ExitOnError)
	billID := fs.String("bill", "", "bill instance id")
	fs.Parse(args)
	if *billID == "" {
		return fmt.Errorf("missing -bill")
	}
	return services.NewBillService(store, logger).UnmarkPayment(ctx, *billID)
}

func runPause(ctx context.Context, store storage.Store, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	patternID := fs.String("pattern", "", "pattern id")
	fs.Parse(args)
	if *patternID == "" {
		return fmt.Errorf("missing -pattern")
	}
	status, err := services.NewBillService(store, logger).PauseResume(ctx, *patternID)
	if err != nil {
		return err
	}
	fmt.Printf("pattern %s is now %s\n", *patternID, status)
	return nil
}

func runEnd(ctx context.Context, store storage.Store, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("end", flag.ExitOnError)
	patternID := fs.String("pattern", "", "pattern id")
	fs.Parse(args)
	if *patternID == "" {
		return fmt.Errorf("missing -pattern")
	}
	return services.NewBillService(store, logger).EndPattern(ctx, *patternID)
}

func runInstitution(args []string) error {
	fs := flag.NewFlagSet("institution", flag.ExitOnError)
	name := fs.String("name", "", "raw institution name")
	accounts := fs.String("accounts", "", "comma-separated known institution names")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("missing -name")
	}

	var known []institution.Account
	for i, acct := range strings.Split(*accounts, ",") {
		acct = strings.TrimSpace(acct)
		if acct == "" {
			continue
		}
		known = append(known, institution.Account{ID: fmt.Sprintf("acc-%d", i+1), Name: acct})
	}

	match := institution.NewMatcher().Resolve(*name, known, nil)
	if !match.Matched {
		fmt.Printf("%q: no match\n", *name)
		return nil
	}
	fmt.Printf("%q -> account %s (%s, confidence %d)\n", *name, match.AccountID, match.Method, match.Confidence)
	return nil
}
