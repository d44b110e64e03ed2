package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

// shippedMethods are the payment methods seeded for every built-in driver.
// Only the dummy provider starts enabled; the rest need credentials first.
var shippedMethods = []method.CreateMethodDTO{
	{Key: "dummy", Driver: "dummy", Name: "Dummy", Description: "Test checkout that settles immediately", Enabled: true, SortOrder: 100},
	{Key: "cash", Driver: "offline", Name: "Cash on delivery", Description: "Pay the courier on delivery", SortOrder: 10},
	{Key: "paymob", Driver: "paymob", Name: "Card (Paymob)", Description: "Visa, Mastercard and wallets", SortOrder: 20},
	{Key: "kashier", Driver: "kashier", Name: "Card (Kashier)", Description: "Cards through Kashier hosted checkout", SortOrder: 30},
	{Key: "paypal", Driver: "paypal", Name: "PayPal", Description: "Pay with your PayPal account", SortOrder: 40, PercentFee: decimal.RequireFromString("2.9"), FlatFee: decimal.RequireFromString("0.30")},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the shipped payment methods",
	Long:  `Create a payment method for every built-in provider driver. Existing methods are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		lg := logger.L()

		app, err := newApp(cfg, prometheus.NewRegistry(), lg)
		if err != nil {
			return err
		}
		defer app.Close()

		return seedMethods(cmd.Context(), app.Methods)
	},
}

func seedMethods(ctx context.Context, methods method.ServiceAPI) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, dto := range shippedMethods {
		_, err := methods.Create(ctx, dto)
		switch {
		case err == nil:
			fmt.Printf("Seeded payment method: %s (enabled=%t)\n", dto.Key, dto.Enabled)
		case errors.IsType(err, errors.ErrorTypeConflict):
			fmt.Printf("payment method %s already exists; skipping\n", dto.Key)
		default:
			return fmt.Errorf("failed to seed payment method %s: %w", dto.Key, err)
		}
	}
	fmt.Println("Payment methods seeded successfully")
	return nil
}
