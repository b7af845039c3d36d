package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/megagig/pharmacare/pkg/lifecycle"
)

func newAdminCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Run administrative lifecycle operations against the store",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "operator recorded in the audit trail")

	cmd.AddCommand(
		newExtendTrialCmd(&actor),
		newCreditCmd(&actor),
		newChangePlanCmd(&actor),
		newPauseCmd(&actor),
		newResumeCmd(&actor),
		newManualPaymentCmd(&actor),
		newActivateCmd(&actor),
		newReactivateCmd(&actor),
	)
	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

type operation func(ctx context.Context, op *lifecycle.Operator) (any, error)

// runOperation opens the store, runs fn and prints its result as JSON.
func runOperation(cmd *cobra.Command, fn operation) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	out, err := fn(ctx, a.svc.Operator())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newExtendTrialCmd(actor *string) *cobra.Command {
	var in lifecycle.ExtendTrialInput
	cmd := &cobra.Command{
		Use:   "extend-trial",
		Short: "Extend a workspace trial by a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.ExtendTrial(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkspaceID, "workspace", "", "workspace ID")
	cmd.Flags().IntVar(&in.Days, "days", 7, "days to add")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the extension")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func newCreditCmd(actor *string) *cobra.Command {
	var in lifecycle.CreditInput
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Apply an account credit in minor currency units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.ApplyCredit(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	cmd.Flags().Int64Var(&in.Amount, "amount", 0, "credit amount in minor units")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the credit")
	_ = cmd.MarkFlagRequired("subscription")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newChangePlanCmd(actor *string) *cobra.Command {
	var in lifecycle.ChangePlanInput
	cmd := &cobra.Command{
		Use:   "change-plan",
		Short: "Move a subscription to another plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.ChangePlan(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	cmd.Flags().StringVar(&in.PlanID, "plan", "", "target plan ID")
	cmd.Flags().BoolVar(&in.Prorate, "prorate", false, "record a prorated amount for the rest of the term")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the change")
	_ = cmd.MarkFlagRequired("subscription")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newPauseCmd(actor *string) *cobra.Command {
	var (
		in    lifecycle.PauseInput
		until string
	)
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause a subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("invalid --until: %w", err)
				}
				in.Until = &t
			}
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.Pause(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	cmd.Flags().StringVar(&until, "until", "", "planned resume time (RFC 3339)")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the pause")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func newResumeCmd(actor *string) *cobra.Command {
	var in lifecycle.ResumeInput
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.Resume(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func newManualPaymentCmd(actor *string) *cobra.Command {
	var in lifecycle.ManualPaymentInput
	cmd := &cobra.Command{
		Use:   "manual-payment",
		Short: "Record a payment received outside the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.RecordManualPayment(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	cmd.Flags().Int64Var(&in.Amount, "amount", 0, "amount in minor units")
	cmd.Flags().StringVar(&in.Currency, "currency", "USD", "ISO 4217 currency code")
	cmd.Flags().StringVar(&in.Reference, "reference", "", "external reference, used to reject duplicates")
	_ = cmd.MarkFlagRequired("subscription")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newActivateCmd(actor *string) *cobra.Command {
	var in lifecycle.ActivatePlanInput
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Create a subscription for a workspace or legacy user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.ActivatePlan(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkspaceID, "workspace", "", "workspace ID")
	cmd.Flags().StringVar(&in.UserID, "user", "", "legacy user ID, when there is no workspace")
	cmd.Flags().StringVar(&in.PlanID, "plan", "", "plan ID")
	cmd.Flags().StringVar(&in.Interval, "interval", "", "billing interval: monthly or annual")
	cmd.Flags().BoolVar(&in.StartTrial, "trial", false, "start with the plan's trial")
	cmd.Flags().StringVar(&in.Email, "email", "", "billing email")
	cmd.MarkFlagsOneRequired("workspace", "user")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newReactivateCmd(actor *string) *cobra.Command {
	var in lifecycle.ReactivateInput
	cmd := &cobra.Command{
		Use:   "reactivate",
		Short: "Lift a suspension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Actor = *actor
			return runOperation(cmd, func(ctx context.Context, op *lifecycle.Operator) (any, error) {
				return op.Reactivate(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription ID")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for the reactivation")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}
