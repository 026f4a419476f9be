package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"admissions-workers/internal/analytics"
	"admissions-workers/internal/app"
	"admissions-workers/internal/models"
	"admissions-workers/internal/transition"
)

func cliActor(cmd *cobra.Command) models.Actor {
	user, _ := cmd.Flags().GetString("user")
	return models.Actor{Username: user, Device: "CLI", Browser: "admissionsctl", Platform: "Terminal"}
}

func addUserFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "Admin username recorded on the decision")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// printResult reports a transition and turns a failed one into an error.
func printResult(cmd *cobra.Command, res transition.Result) error {
	if wantJSON(cmd) {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else if res.Success {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

func syncCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one feed sync cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				res, err := a.Sync.RunCycle(ctx)
				if wantJSON(cmd) {
					if perr := printJSON(cmd, res); perr != nil {
						return perr
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new, %d updated, %d unchanged, %d conflicts\n",
						res.Outcome, res.Inserted, res.Patched, res.Unchanged, res.Conflicts)
				}
				return err
			})
		},
	}
}

func listCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				var apps []*models.Application
				if status == "" || strings.EqualFold(status, "all") {
					apps = a.Cache.All()
				} else if st, ok := models.ParseStatus(status); ok {
					apps = a.Cache.ByStatus(st)
				} else {
					return fmt.Errorf("unknown status %q", status)
				}
				if wantJSON(cmd) {
					return printJSON(cmd, apps)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCOURSE\tSTATUS\tPAYMENT\tAPPLIED")
				for _, item := range apps {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", item.ID, item.Name, item.Course, item.Status,
						item.PaymentStatus, item.AppliedDate.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringP("status", "s", "", "Filter by status (pending, approved, rejected)")
	return cmd
}

func approveCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve [id]",
		Short: "Approve a pending application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payment := models.PaymentDetails{}
			payment.Type, _ = cmd.Flags().GetString("payment-type")
			payment.Amount, _ = cmd.Flags().GetFloat64("amount")
			if cmd.Flags().Changed("installments-paid") {
				n, _ := cmd.Flags().GetInt("installments-paid")
				payment.InstallmentsPaid = &n
			}
			if cmd.Flags().Changed("total-installments") {
				n, _ := cmd.Flags().GetInt("total-installments")
				payment.TotalInstallments = &n
			}
			if payment.Amount < 0 {
				return fmt.Errorf("amount must not be negative")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				return printResult(cmd, a.Transitions.Approve(ctx, args[0], payment, cliActor(cmd)))
			})
		},
	}
	cmd.Flags().StringP("payment-type", "p", "", "Payment type (Full Payment, Installment, UPI)")
	cmd.Flags().Float64P("amount", "a", 0, "Amount received")
	cmd.Flags().Int("installments-paid", 0, "Installments paid so far")
	cmd.Flags().Int("total-installments", 0, "Total installments in the plan")
	addUserFlag(cmd)
	return cmd
}

func rejectCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject [id]",
		Short: "Reject a pending application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			reason = strings.TrimSpace(reason)
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				return printResult(cmd, a.Transitions.Reject(ctx, args[0], reason, cliActor(cmd)))
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "", "Reason sent to the applicant")
	addUserFlag(cmd)
	return cmd
}

func deleteCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				return printResult(cmd, a.Transitions.Delete(ctx, args[0], cliActor(cmd)))
			})
		},
	}
	addUserFlag(cmd)
	return cmd
}

func statsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				stats := analytics.Compute(a.Cache.All(), a.AnalyticsOptions(), time.Now())
				if wantJSON(cmd) {
					return printJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total %d  Pending %d  Approved %d  Rejected %d  Today %d\n",
					stats.Total, stats.Pending, stats.Approved, stats.Rejected, stats.Today)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "COURSE\tAPPROVED\tPENDING\tCAPACITY")
				for _, c := range stats.Courses {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\n", c.Course, c.Approved, c.Pending, c.CapacityPercent)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Revenue %.2f (%d paid, %d installment, %d pending)\n",
					stats.Payments.Revenue, stats.Payments.Paid, stats.Payments.Installment, stats.Payments.Pending)
				return nil
			})
		},
	}
}

func logsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent admin activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			query, _ := cmd.Flags().GetString("query")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				var (
					logs []models.AdminLog
					err  error
				)
				if query != "" {
					logs, err = a.AdminLog.Search(ctx, query, limit)
				} else {
					logs, err = a.AdminLog.List(ctx, limit)
				}
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd, logs)
				}
				for _, l := range logs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s: %s\n",
						l.CreatedAt.Format(time.RFC3339), l.Type, l.Title, l.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum entries")
	cmd.Flags().StringP("query", "q", "", "Search text")
	return cmd
}
