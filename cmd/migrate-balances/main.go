/*
main.go - One-off balance migration

PURPOSE:
  Creates the default leave balance for every employee in the directory that
  does not have one yet. Safe to re-run: a second run creates nothing.

COMMAND-LINE FLAGS:
  -config   Config file name under ./configs (default: local)
  -dry-run  Only count employees without a balance

EXIT STATUS:
  0  every employee has a balance (or would have, on a dry run)
  1  configuration, store, or directory failure
  2  at least one employee failed; re-run to retry them

EXAMPLES:
  STORE_DRIVER=postgres POSTGRES_URL=postgres://... ./migrate-balances -dry-run
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run returns the exit status so deferred cleanup completes before main exits.
func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("migrate-balances", flag.ContinueOnError)
	configName := flags.String("config", "local", "config file name under ./configs")
	dryRun := flags.Bool("dry-run", false, "only count employees without a balance")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadConfig(*configName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(logger.FromConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger store")
		return 1
	}
	defer backend.Close(context.Background())

	svc := leave.NewService(backend.Store, backend.Registry, cfg.LeaveOptions(), log)
	result, err := svc.Migration.Run(ctx, leave.RunOptions{DryRun: *dryRun})
	if err != nil {
		log.Error().Err(err).Msg("balance migration aborted")
		return 1
	}

	printSummary(stdout, result)
	if result.Failed > 0 {
		return 2
	}
	return 0
}

func printSummary(w io.Writer, r leave.MigrationResult) {
	verb := "Created"
	if r.DryRun {
		verb = "Would create"
	}
	fmt.Fprintf(w, "Found %d employees\n", r.Scanned)
	fmt.Fprintf(w, "%s %d leave balances\n", verb, r.Created)
	fmt.Fprintf(w, "Already initialized: %d\n", r.Skipped)
	if r.Failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", r.Failed)
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s: %v\n", f.EmployeeID, f.Err)
		}
	}
}
