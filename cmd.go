package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/signing"
	"github.com/Oven29/cinema-payments/src/status"
)

func paymentURLCmd(envFile *string) *cobra.Command {
	var orderID, amount, info, bank, ip string

	cmd := &cobra.Command{
		Use:   "payment-url",
		Short: "Build a signed VNPay payment URL without touching the order store",
		Long: `Build a signed VNPay payment URL with the configured credentials.

Examples:
  cinema-payments payment-url --order ORDER1 --amount 100000
  cinema-payments payment-url --order ORDER2 --amount 250000 --bank NCB`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg)
			if err != nil {
				return err
			}
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}

			resp, err := provider.CreatePayment(cmd.Context(), entities.PaymentRequest{
				OrderID:   orderID,
				Amount:    value,
				OrderInfo: info,
				BankCode:  bank,
				ClientIP:  ip,
				CreatedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.PaymentURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "order id sent as vnp_TxnRef")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in VND")
	cmd.Flags().StringVar(&info, "info", "", "order description")
	cmd.Flags().StringVar(&bank, "bank", "", "optional bank code")
	cmd.Flags().StringVar(&ip, "ip", "127.0.0.1", "customer IP address")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func verifyReturnCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-return [url-or-query]",
		Short: "Check the signature of a captured VNPay return or IPN query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg)
			if err != nil {
				return err
			}

			raw := args[0]
			if i := strings.IndexByte(raw, '?'); i >= 0 {
				raw = raw[i+1:]
			}
			query, err := url.ParseQuery(raw)
			if err != nil {
				return fmt.Errorf("parse query: %w", err)
			}

			out := cmd.OutOrStdout()
			res, cb := provider.VerifyReturn(signing.FromValues(query))
			if !res.Valid {
				fmt.Fprintf(out, "invalid: %s\n", res.Reason)
				return fmt.Errorf("callback rejected: %s", res.Reason)
			}

			mapper := status.Default()
			st, reason := mapper.Map(cb.ResponseCode)
			fmt.Fprintf(out, "valid\norder: %s\namount: %s\nresponse code: %s (%s, %s)\ntransaction: %s\nmessage: %s\n",
				cb.TxnRef, cb.MajorAmount(), cb.ResponseCode, st, reason, cb.TransactionNo, mapper.Message(cb.ResponseCode))
			return nil
		},
	}
}
