package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"leadgen-outreach-go/internal/app"
	"leadgen-outreach-go/internal/service"
)

var (
	deliverReq     service.DeliverRequest
	deliverContact string
)

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Redeliver one outreach message now",
	Long: `Claim one scheduled, failed or skipped message and deliver it
immediately. Opt-out and recipient validation still apply. Flags left
empty keep the stored values; --contact "" clears the contact.`,
	RunE: runDeliver,
}

func init() {
	deliverCmd.Flags().StringVar(&deliverReq.OutreachID, "id", "", "Outreach message id")
	deliverCmd.Flags().StringVar(&deliverReq.ToEmail, "to", "", "Override recipient address")
	deliverCmd.Flags().StringVar(&deliverReq.Subject, "subject", "", "Override subject")
	deliverCmd.Flags().StringVar(&deliverReq.Body, "body", "", "Override body")
	deliverCmd.Flags().StringVar(&deliverReq.CompanyID, "company", "", "Override company id")
	deliverCmd.Flags().StringVar(&deliverContact, "contact", "", "Override contact id")
	deliverCmd.Flags().StringVar(&deliverReq.Operator, "operator", os.Getenv("USER"), "Operator recorded in the audit trail")
	_ = deliverCmd.MarkFlagRequired("id")
}

func runDeliver(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := app.New(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	req := deliverRequest(cmd)
	msg, outcome, err := a.Executor.Deliver(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to deliver %s: %w", req.OutreachID, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"id":              msg.ID,
		"status":          outcome.Status,
		"delivery_status": outcome.DeliveryStatus,
		"last_error":      outcome.LastError,
	})
}

func deliverRequest(cmd *cobra.Command) service.DeliverRequest {
	req := deliverReq
	if cmd.Flags().Changed("contact") {
		contact := deliverContact
		req.ContactID = &contact
	}
	return req
}
