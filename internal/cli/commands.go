package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/opsbrain/ledger"
	"github.com/PipeOpsHQ/opsbrain/notify"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/runtime/automation"
	"github.com/PipeOpsHQ/opsbrain/tools"
	"github.com/PipeOpsHQ/opsbrain/urgency"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the automation loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				h := a.scheduler.Start(ctx)
				select {
				case <-ctx.Done():
				case <-h.Done():
				}
				h.Stop()
				log.Info().Str("component", "cli").Msg("serve_stopped")
				return printJSON(cmd.OutOrStdout(), a.scheduler.State())
			})
		},
	}
}

func newTriggerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "trigger <scan|email|news|all>",
		Short:     "Run jobs once, synchronously",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"scan", "email", "news", automation.SelectorAll},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				runErr := a.scheduler.Trigger(cmd.Context(), strings.ToLower(strings.TrimSpace(args[0])))
				if err := printJSON(cmd.OutOrStdout(), a.scheduler.State()); err != nil {
					return err
				}
				return runErr
			})
		},
	}
}

type jobStatus struct {
	Job       string         `json:"job"`
	LastRunID string         `json:"last_run_id,omitempty"`
	Status    ledger.Status  `json:"status,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts and the latest run of each job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				ctx := cmd.Context()
				summary, err := a.registry.Execute(ctx, tools.OpsSummary, json.RawMessage(`{}`), false)
				if err != nil {
					return err
				}
				jobs := make([]jobStatus, 0, len(automation.Jobs))
				for _, job := range automation.Jobs {
					js := jobStatus{Job: string(job)}
					runs, err := a.actions.List(ctx, ledger.ListQuery{SessionID: "automation:" + string(job), Limit: 1})
					if err != nil {
						return err
					}
					if len(runs) > 0 {
						r := runs[0]
						js.LastRunID = r.ID
						js.Status = r.Status
						js.UpdatedAt = &r.UpdatedAt
						js.Error = r.Error
						if len(r.Result) > 0 {
							_ = json.Unmarshal(r.Result, &js.Result)
						}
					}
					jobs = append(jobs, js)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"summary":        summary,
					"jobs":           jobs,
					"execution_mode": a.settings.ExecutionMode,
				})
			})
		},
	}
}

type runView struct {
	ledger.ToolRun
	NextStep string `json:"next_step,omitempty"`
}

func viewOf(run ledger.ToolRun) runView {
	v := runView{ToolRun: run}
	if run.Status == ledger.StatusProposed {
		v.NextStep = fmt.Sprintf("opsbrain approve %s | opsbrain reject %s", run.ID, run.ID)
	}
	return v
}

func newProposeCommand(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "propose <message>",
		Short: "Record the tool runs a message asks for",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				text := strings.Join(args, " ")
				outs, err := a.actions.ProposeFromMessage(cmd.Context(), sessionID, "", text)
				if err != nil {
					return err
				}
				views := make([]runView, 0, len(outs))
				for _, o := range outs {
					views = append(views, viewOf(o.Run))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id recorded on the runs")
	return cmd
}

func newDecideCommand(opts *rootOptions, verb string, approved bool) *cobra.Command {
	short := "Approve and execute a proposed run"
	if !approved {
		short = "Reject a proposed run"
	}
	return &cobra.Command{
		Use:   verb + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				out, err := a.actions.Decide(cmd.Context(), strings.TrimSpace(args[0]), approved)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), viewOf(out.Run)); err != nil {
					return err
				}
				return out.Err()
			})
		},
	}
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var query ledger.ListQuery
	var status string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded tool runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				query.Status = ledger.Status(strings.ToLower(status))
				if !query.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return opts.withApp(func(a *app) error {
				runs, err := a.actions.List(cmd.Context(), query)
				if err != nil {
					return err
				}
				views := make([]runView, 0, len(runs))
				for _, r := range runs {
					views = append(views, viewOf(r))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&query.ToolName, "tool", "", "filter by tool name")
	cmd.Flags().StringVar(&query.SessionID, "session", "", "filter by session id")
	cmd.Flags().IntVar(&query.Limit, "limit", 20, "maximum runs to show")
	return cmd
}

func newNextCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the most urgent task and two alternates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				res, err := urgency.WhatsNext(cmd.Context(), a.stores.SQLite, a.now())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newToolsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools with their policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				return printJSON(cmd.OutOrStdout(), a.registry.Catalog())
			})
		},
	}
}

func newAlertsTestCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "alerts-test <title> <message>",
		Short: "Send a test notification through the configured provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				res, err := a.notifier.Send(cmd.Context(), notify.Request{
					Title:   args[0],
					Message: args[1],
					DryRun:  dryRun,
					Actor:   policy.ActorAlertsTest,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status == notify.StatusError {
					return fmt.Errorf("notification failed: %s", res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate policy and log without publishing")
	return cmd
}
