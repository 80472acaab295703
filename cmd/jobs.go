package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run and inspect market-sizing jobs",
}

// -- jobs submit --

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <query-file>",
	Short: "Create a job and run it to completion in this process",
	Long:  "Creates a job from a query file and runs it. Interrupting the command stops the job; counts collected so far are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q, err := loadQuery(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = q.Name
		}
		mode, _ := cmd.Flags().GetString("mode")

		policy := defaultPolicy()
		if cmd.Flags().Changed("max-age-days") {
			policy.MaxDataAgeDays, _ = cmd.Flags().GetInt("max-age-days")
		}
		if noReuse, _ := cmd.Flags().GetBool("no-reuse"); noReuse {
			policy.SkipCompanies, policy.SkipPersonCounts, policy.SkipEnrichment = false, false, false
		}

		job, err := sizing.NewJob(sizing.JobRequest{
			Name:           name,
			Mode:           model.JobMode(mode),
			CompanyFilters: q.CompanyFilters,
			PersonQueries:  q.PersonFilters,
			Policy:         policy,
		}, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		m := sizing.NewManager(env.Runner, env.Store, env.stopSignal(), 1)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.Shutdown(sctx); err != nil {
				zap.L().Warn("job manager shutdown", zap.Error(err))
			}
		}()

		created, err := m.Start(ctx, job)
		if err != nil {
			return eris.Wrap(err, "jobs submit")
		}
		zap.L().Info("job created", zap.String("job_id", created.ID), zap.String("mode", string(created.Mode)))

		if h, ok := m.Get(created.ID); ok {
			select {
			case <-h.Done():
			case <-ctx.Done():
				zap.L().Info("interrupted, stopping job", zap.String("job_id", created.ID))
				if _, err := m.Stop(context.Background(), created.ID); err != nil && !errors.Is(err, sizing.ErrJobNotRunning) {
					return eris.Wrap(err, "jobs submit: stop")
				}
				<-h.Done()
			}
		}

		final, err := env.Store.GetJob(context.Background(), created.ID)
		if err != nil {
			return eris.Wrap(err, "jobs submit: reload")
		}
		formatJobSummary(os.Stdout, final)
		if final.Status == model.JobStatusFailed {
			return eris.Errorf("job %s failed: %s", final.ID, final.ErrorMessage)
		}
		return nil
	},
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, model.JobFilter{Status: model.JobStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs stop --

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Stop a pending or running job",
	Long:  "Marks the job stopped. With redis.url set, the worker running it in another process sees the request before its next page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		m := sizing.NewManager(env.Runner, env.Store, env.stopSignal(), 1)
		defer m.Shutdown(ctx) //nolint:errcheck

		job, err := m.Stop(ctx, args[0])
		if errors.Is(err, sizing.ErrJobNotRunning) && job != nil {
			fmt.Fprintf(os.Stderr, "Job %s is already %s.\n", job.ID, job.Status)
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "jobs stop")
		}
		formatJobSummary(os.Stdout, job)
		return nil
	},
}

// -- jobs reconcile --

var jobsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail running jobs whose worker stopped reporting progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		if staleAfter <= 0 {
			staleAfter = time.Duration(cfg.Jobs.StaleAfterMins) * time.Minute
		}

		n, err := sizing.NewReconciler(st, noWorkers{}, staleAfter).Reconcile(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs reconcile")
		}
		fmt.Fprintf(os.Stdout, "Failed %d stale job(s).\n", n)
		return nil
	},
}

// noWorkers is the registry of a process that runs no jobs.
type noWorkers struct{}

func (noWorkers) IsRunning(string) bool { return false }

func init() {
	jobsSubmitCmd.Flags().String("name", "", "job name (default from the query file, then a timestamp)")
	jobsSubmitCmd.Flags().String("mode", string(model.ModeDetailed), "job mode: detailed or quick_tam")
	jobsSubmitCmd.Flags().Int("max-age-days", 0, "reuse stored results no older than this (default from config)")
	jobsSubmitCmd.Flags().Bool("no-reuse", false, "re-query everything instead of reusing stored results")

	jobsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed, stopped)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsReconcileCmd.Flags().Duration("stale-after", 0, "progress age that marks a running job stale (default from config)")

	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStopCmd)
	jobsCmd.AddCommand(jobsReconcileCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tMODE\tSTATUS\tPROGRESS\tCREDITS\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d (%.1f%%)\t%d/%d\t%s\n",
			j.ID,
			truncate(j.Name, 40),
			j.Mode,
			j.Status,
			j.ProcessedCompanies, j.TotalCompanies, j.ProgressPct(),
			j.ActualCredits, j.EstimatedCredits,
			j.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// formatJobSummary writes the outcome of one job to out.
func formatJobSummary(out io.Writer, j *model.Job) {
	_, _ = fmt.Fprintf(out, "Job:       %s (%s)\n", j.ID, j.Name)
	_, _ = fmt.Fprintf(out, "Status:    %s\n", j.Status)
	if j.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "Error:     %s\n", j.ErrorMessage)
	}
	_, _ = fmt.Fprintf(out, "Companies: %d/%d\n", j.ProcessedCompanies, j.TotalCompanies)
	_, _ = fmt.Fprintf(out, "Credits:   %d spent, %d estimated, ~%d saved by reuse\n",
		j.ActualCredits, j.EstimatedCredits, j.EstimatedCreditSavings())
	if len(j.AggregateResults) > 0 {
		_, _ = fmt.Fprintln(out, "Totals:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, name := range slices.Sorted(maps.Keys(j.AggregateResults)) {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", name, j.AggregateResults[name])
		}
		_ = w.Flush()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
