package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/provrun/provrun/client"
	"github.com/provrun/provrun/config"
	"github.com/provrun/provrun/pool"
	"github.com/provrun/provrun/reconcile"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Launch scans for providers that pass their connection test",
	Long: `Run the full flow: apply the configured accounts, poll their connection
tests, and launch a scan for every provider whose test passed.

The launch step is gated: if no provider passes its connection test, no
scan is launched and the command fails.`,
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

		launchable := reconcile.LaunchableProviderIDs(run.outcomes)
		logger.Info("launching scans", "providers", len(launchable))

		return launchScans(ctx, c, cfg, launchable)
	},
}

// scanLaunch pairs a provider with its scan task id or launch failure.
type scanLaunch struct {
	ProviderID string
	TaskID     string
	Err        string
}

// launchScans starts a scan per launchable provider through the pool,
// retrying transient backend failures, and renders the launched tasks.
func launchScans(ctx context.Context, c *client.Client, cfg *config.Config, providerIDs []string) error {
	results, err := pool.NewWorkerPool[string, scanLaunch](
		pool.WithWorkerCount(cfg.Concurrency),
		pool.WithRetryPolicy(3, 500*time.Millisecond),
	).Process(ctx, providerIDs, func(ctx context.Context, providerID string) (scanLaunch, error) {
		taskID, err := c.LaunchScan(ctx, providerID)
		if err != nil {
			return scanLaunch{ProviderID: providerID, Err: err.Error()}, nil
		}
		return scanLaunch{ProviderID: providerID, TaskID: taskID}, nil
	})
	if err != nil {
		return fmt.Errorf("launch scans: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ProviderID < results[j].ProviderID })

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Provider", "Scan Task", "Status")

	launched := 0
	for _, r := range results {
		if r.Err != "" {
			_ = table.Append(r.ProviderID, "", color.New(color.FgRed).Sprint(r.Err))
			continue
		}
		launched++
		_ = table.Append(r.ProviderID, r.TaskID, color.New(color.FgGreen).Sprint("launched"))
	}

	if err := table.Render(); err != nil {
		color.Red("error rendering scan table: %v", err)
	}
	fmt.Printf("\n%d/%d scan(s) launched\n", launched, len(results))

	if launched == 0 {
		return fmt.Errorf("all %d scan launches failed", len(results))
	}
	return nil
}
