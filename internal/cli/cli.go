// Package cli is the jobqueue admin command line.
//
//	jobqueue migrate
//	jobqueue enqueue --type email --payload '{"to":"a@b.c"}' [--key k] [--tenant t] [--priority n] [--delay 5m]
//	jobqueue cancel <job-key>
//	jobqueue stats [--tenant t]
//	jobqueue history [--page n] [--type t] [--status s] [--tenant t]
//	jobqueue release-stale [--stale-after 10m]
//	jobqueue cleanup [--retention 168h]
//	jobqueue serve
//
// Every command reads the YAML file given by --config, then JOBQUEUE_*
// environment variables.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ronittamrakar/jobqueue/app"
	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/internal/settings"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/jobmanager"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "jobqueue",
		Short:         "Persistent at-least-once job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		buildMigrateCommand(opts),
		buildEnqueueCommand(opts),
		buildCancelCommand(opts),
		buildStatsCommand(opts),
		buildHistoryCommand(opts),
		buildReleaseStaleCommand(opts),
		buildCleanupCommand(opts),
		buildServeCommand(opts),
	)
	return rootCmd
}

// bootstrap loads settings and returns a migrated container.
func (o *rootOptions) bootstrap(ctx context.Context) (*app.Container, error) {
	s, err := settings.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := s.QueueConfig()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger()
	if err != nil {
		return nil, err
	}
	return jobmanager.Bootstrap(ctx, cfg, app.WithLogger(logger))
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

// withContainer runs fn against a bootstrapped container and closes it.
func (o *rootOptions) withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func buildMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", c.Config.StorageDriver)
				return nil
			})
		},
	}
}

func buildEnqueueCommand(opts *rootOptions) *cobra.Command {
	var (
		jobType     string
		payload     string
		key         string
		tenant      string
		priority    int
		maxAttempts int
		delay       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Schedule a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				scheduleOpts := []client.ScheduleOption{
					client.WithJobKey(key),
					client.WithTenant(tenant),
					client.WithPriority(priority),
				}
				if maxAttempts > 0 {
					scheduleOpts = append(scheduleOpts, client.WithMaxAttempts(maxAttempts))
				}
				id, scheduled, err := c.JobManager.ScheduleIn(ctx, jobType, json.RawMessage(payload), delay, scheduleOpts...)
				if err != nil {
					return err
				}
				if !scheduled {
					fmt.Fprintf(cmd.OutOrStdout(), "skipped: a live job already has key %q\n", key)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&jobType, "type", "t", "", "job type")
	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "JSON payload")
	cmd.Flags().StringVar(&key, "key", "", "deduplication key")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().IntVar(&priority, "priority", 0, "claim priority, higher first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt ceiling (default from config)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run no earlier than now + delay")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func buildCancelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-key>",
		Short: "Cancel the pending job with the given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				ok, err := c.JobManager.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no pending job with that key")
				}
				return nil
			})
		},
	}
}

func buildStatsCommand(opts *rootOptions) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				stats, err := c.JobManager.GetStats(ctx, tenant)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict to one tenant")
	return cmd
}

func buildHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		page     int
		pageSize int
		filter   types.HistoryFilter
		status   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List terminal job outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = state.JobStatus(status)
			if status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				result, err := c.JobManager.History(ctx, page, pageSize, filter)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "records per page")
	cmd.Flags().StringVar(&filter.JobType, "type", "", "filter by job type")
	cmd.Flags().StringVar(&filter.TenantID, "tenant", "", "filter by tenant")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func buildReleaseStaleCommand(opts *rootOptions) *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "release-stale",
		Short: "Return abandoned processing jobs to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				n, err := c.JobManager.ReleaseStaleJobs(ctx, staleAfter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "lease age to release (default from config)")
	return cmd
}

func buildCleanupCommand(opts *rootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished jobs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				n, err := c.JobManager.Cleanup(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "age of finished jobs to delete (default from config)")
	return cmd
}

func buildServeCommand(opts *rootOptions) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler, queue writer and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.withContainer(cmd, func(_ context.Context, c *app.Container) error {
				services := jobmanager.Services{Maintenance: true, QueueWriter: true, API: !noAPI}
				err := jobmanager.Run(ctx, c, services)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the HTTP API")
	return cmd
}

func printStats(w io.Writer, stats map[state.JobStatus]int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, status := range state.AllStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, stats[status])
	}
	tw.Flush()
}

func printHistory(w io.Writer, result *types.PaginationResult[types.HistoryRecord]) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tJOB\tTYPE\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, rec := range result.Items {
		errMsg := ""
		if rec.ErrorMessage != nil {
			errMsg = *rec.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.CreatedAt.Format(time.RFC3339), rec.JobID, rec.JobType, rec.Status, rec.Attempts, rec.Duration, errMsg)
	}
	tw.Flush()
	fmt.Fprintf(w, "page %d of %d (%d records)\n", result.Page, result.TotalPages, result.TotalItems)
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
