package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/provrun/provrun/client"
	"github.com/provrun/provrun/config"
	"github.com/provrun/provrun/conncheck"
	"github.com/provrun/provrun/pool"
	"github.com/provrun/provrun/reconcile"
)

var errNoLaunchableProviders = errors.New("no provider passed its connection test")

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Apply accounts and run their connection tests",
	Long: `Register the configured cloud accounts with the backend, resolve which
provider was created for which account, and poll every provider's
connection-test task until it settles.

Connection tests run concurrently, bounded by the configured concurrency.
Interrupting the run (Ctrl+C) cancels outstanding polls cooperatively;
accounts still in flight report a cancellation verdict.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger()
		c := client.NewClient(cfg.BaseURL, cfg.Token,
			client.WithRequestTimeout(cfg.RequestTimeout.Duration()),
			client.WithLogger(logger),
		)
		defer c.Close()

		run, err := runConnectionTests(ctx, c, cfg, logger)
		if err != nil {
			return err
		}

		renderVerdicts(run)

		if !reconcile.CanAdvanceToLaunch(run.outcomes) {
			return errNoLaunchableProviders
		}
		color.Green("\n%d provider(s) ready to scan. Run `provrun scan` to launch.",
			len(reconcile.LaunchableProviderIDs(run.outcomes)))
		return nil
	},
}

// testRun collects everything the test flow produced, keyed for rendering
// and for the scan command's launch gating.
type testRun struct {
	accountToProvider map[string]string            // account id -> provider id
	verdicts          map[string]conncheck.Verdict // account id -> verdict
	outcomes          map[string]reconcile.ConnectionOutcome
	launchErrors      map[string]string // account id -> connection test launch failure
}

// runConnectionTests drives the full flow: bulk apply, reconciliation,
// connection-test launch, and verdict polling.
func runConnectionTests(ctx context.Context, c *client.Client, cfg *config.Config, logger *slog.Logger) (*testRun, error) {
	if len(cfg.Accounts) == 0 {
		return nil, errors.New("no accounts configured")
	}

	applied, err := c.ApplyAccounts(ctx, cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("apply accounts: %w", err)
	}
	logger.Info("accounts applied", "accounts", len(cfg.Accounts), "providers", len(applied.ProviderIDs))

	accountToProvider, err := reconcile.AccountProviderMap(ctx, cfg.Accounts, applied, c.ProviderUID)
	if err != nil {
		return nil, fmt.Errorf("reconcile providers: %w", err)
	}
	if len(accountToProvider) == 0 {
		return nil, errors.New("no provider could be matched to the selected accounts")
	}

	run := &testRun{
		accountToProvider: accountToProvider,
		launchErrors:      make(map[string]string),
	}

	tasks, err := launchConnectionTests(ctx, c, cfg, run)
	if err != nil {
		return nil, err
	}

	run.verdicts, err = pollVerdicts(ctx, c, cfg, logger, tasks)
	if err != nil {
		return nil, err
	}

	run.outcomes = make(map[string]reconcile.ConnectionOutcome, len(run.verdicts))
	for accountID, verdict := range run.verdicts {
		run.outcomes[accountToProvider[accountID]] = reconcile.OutcomeFromVerdict(verdict)
	}
	return run, nil
}

// launchConnectionTests starts a connection test per matched provider and
// returns account id -> task id for the poll phase. Transient launch
// failures are retried; an account whose launch still fails is recorded
// and excluded from polling rather than aborting the batch.
func launchConnectionTests(ctx context.Context, c *client.Client, cfg *config.Config, run *testRun) (map[string]string, error) {
	type launch struct {
		TaskID string
		Err    string
	}

	wp := pool.NewWorkerPool[string, launch](
		pool.WithWorkerCount(cfg.Concurrency),
		pool.WithRetryPolicy(3, 500*time.Millisecond),
	)

	results, err := wp.ProcessMap(ctx, run.accountToProvider, func(ctx context.Context, providerID string) (launch, error) {
		taskID, err := c.TestConnection(ctx, providerID)
		if err != nil {
			// encoded, not returned: one unreachable provider must not
			// abort the other launches
			return launch{Err: err.Error()}, nil
		}
		return launch{TaskID: taskID}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("launch connection tests: %w", err)
	}

	tasks := make(map[string]string, len(results))
	for accountID, l := range results {
		if l.Err != "" {
			run.launchErrors[accountID] = l.Err
			continue
		}
		tasks[accountID] = l.TaskID
	}
	return tasks, nil
}

// pollVerdicts polls every launched task to a verdict, ticking a progress
// bar as tasks settle. The pool runs on a detached context so that an
// interrupt yields cancellation verdicts instead of a partial map.
func pollVerdicts(ctx context.Context, c *client.Client, cfg *config.Config, logger *slog.Logger, tasks map[string]string) (map[string]conncheck.Verdict, error) {
	if len(tasks) == 0 {
		return map[string]conncheck.Verdict{}, nil
	}

	bar := progressbar.NewOptions(len(tasks),
		progressbar.OptionSetDescription("testing connections"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	wp := pool.NewWorkerPool[string, conncheck.Verdict](
		pool.WithWorkerCount(cfg.Concurrency),
		pool.WithOnTaskEnd[string, conncheck.Verdict](func(taskID string, v conncheck.Verdict, err error) {
			_ = bar.Add(1)
		}),
	)

	verdicts, err := wp.ProcessMap(context.WithoutCancel(ctx), tasks, func(_ context.Context, taskID string) (conncheck.Verdict, error) {
		return conncheck.Poll(ctx, taskID, c.GetTask,
			conncheck.WithMaxRetries(cfg.MaxRetries),
			conncheck.WithDelays(cfg.DelayDurations()),
			conncheck.WithLogger(logger),
		), nil
	})
	_ = bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("poll connection tests: %w", err)
	}
	return verdicts, nil
}

// renderVerdicts prints one row per configured account.
func renderVerdicts(run *testRun) {
	accounts := make([]string, 0, len(run.accountToProvider))
	for accountID := range run.accountToProvider {
		accounts = append(accounts, accountID)
	}
	sort.Strings(accounts)

	pass := color.New(color.FgGreen).Sprint("PASS")
	fail := color.New(color.FgRed).Sprint("FAIL")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Account", "Provider", "Result", "Detail")

	passed := 0
	for _, accountID := range accounts {
		providerID := run.accountToProvider[accountID]

		if msg, ok := run.launchErrors[accountID]; ok {
			_ = table.Append(accountID, providerID, fail, msg)
			continue
		}

		verdict := run.verdicts[accountID]
		if verdict.Success {
			passed++
			_ = table.Append(accountID, providerID, pass, "")
			continue
		}
		_ = table.Append(accountID, providerID, fail, verdict.Error)
	}

	if err := table.Render(); err != nil {
		color.Red("error rendering results table: %v", err)
	}
	fmt.Printf("\n%d/%d connection test(s) passed\n", passed, len(accounts))
}
