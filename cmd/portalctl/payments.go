package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"portal-service/internal/factory"
	"portal-service/internal/models"
	"portal-service/internal/repository"
)

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Inspect and settle captured payments",
	}
	cmd.AddCommand(paymentsListCmd())
	cmd.AddCommand(paymentsShowCmd())
	cmd.AddCommand(paymentsTransitionCmd("process", "Mark a pending payment processed"))
	cmd.AddCommand(paymentsTransitionCmd("decline", "Mark a pending payment declined"))
	return cmd
}

func paymentsListCmd() *cobra.Command {
	var (
		status    string
		accountID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(func(ctx context.Context, f *factory.Factory) error {
				payments, err := f.ServiceFactory().PaymentService().List(ctx, repository.PaymentFilter{
					Status:    models.PaymentStatus(status),
					AccountID: accountID,
					Limit:     limit,
				})
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tACCOUNT\tTYPE\tAMOUNT\tPOST DATE\tSTATUS\tSOURCE")
				for _, p := range payments {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						p.PaymentID, p.AccountID, p.PaymentType, p.Amount.StringFixed(2),
						postDate(p.PostDate), p.Status, p.Source)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "pending, processed or declined")
	cmd.Flags().StringVar(&accountID, "account", "", "only payments for this account id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")

	return cmd
}

func postDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func paymentsShowCmd() *cobra.Command {
	var (
		decrypt  bool
		operator string
	)

	cmd := &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show one payment",
		Long: `Show one payment. With --decrypt the card or bank details are
decrypted and the read is recorded as a security event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(func(ctx context.Context, f *factory.Factory) error {
				payments := f.ServiceFactory().PaymentService()
				payment, err := payments.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !decrypt {
					return printJSON(payment)
				}

				details, err := payments.DecryptDetails(ctx, args[0], operator)
				if err != nil {
					return err
				}
				return printJSON(struct {
					*models.Payment
					Details *models.InstrumentDetails `json:"details"`
				}{payment, details})
			})
		},
	}

	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "decrypt the instrument details")
	cmd.Flags().StringVar(&operator, "operator", os.Getenv("USER"), "name recorded in the audit trail")

	return cmd
}

func paymentsTransitionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <payment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(func(ctx context.Context, f *factory.Factory) error {
				payments := f.ServiceFactory().PaymentService()
				transition := payments.MarkProcessed
				if action == "decline" {
					transition = payments.MarkDeclined
				}
				payment, err := transition(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("payment %s is now %s\n", payment.PaymentID, payment.Status)
				return nil
			})
		},
	}
}
