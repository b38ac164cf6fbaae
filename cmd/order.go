package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/browser"
	"github.com/xkilldash9x/checkout-cli/internal/observability"
	"github.com/xkilldash9x/checkout-cli/internal/order"
	"github.com/xkilldash9x/checkout-cli/internal/workerpool"
)

var orderFlags struct {
	accountID int64
	product   string
	variant   string
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Run a checkout for one account against one product.",
	Long: `Drives a browser through the full checkout sequence for the given account
and product URL, paying with the default stored card. On success the proof
screenshot path is printed; on failure the stage that failed and why.`,
	RunE: runOrder,
}

func init() {
	orderCmd.Flags().Int64Var(&orderFlags.accountID, "account", 0, "id of a verified, unused account")
	orderCmd.Flags().StringVar(&orderFlags.product, "product", "", "product page URL")
	orderCmd.Flags().StringVar(&orderFlags.variant, "variant", "", "variant label to select (optional)")
	_ = orderCmd.MarkFlagRequired("account")
	_ = orderCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(orderCmd)
}

func runOrder(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	out := cmd.OutOrStdout()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	account, err := resolveAccount(ctx, st, orderFlags.accountID)
	if err != nil {
		return err
	}
	card, err := st.GetDefaultCard(ctx)
	if err != nil {
		return fmt.Errorf("no default card configured, add one with 'cards add': %w", err)
	}

	manager := browser.NewManager(ctx, cfg.Browser, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(err))
		}
	}()

	pool, err := workerpool.New(cfg.Order.Workers, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Shutdown(ctx); err != nil {
			logger.Warn("Worker pool shutdown incomplete.", zap.Error(err))
		}
	}()

	factory := func(ctx context.Context) (schemas.BrowserSession, error) {
		return manager.NewSession(ctx)
	}
	machine, err := order.New(factory, pool, cfg.Order, logger)
	if err != nil {
		return err
	}

	orderID, err := st.CreateOrder(ctx, account.ID, orderFlags.product)
	if err != nil {
		return err
	}

	req := schemas.OrderRequest{
		AccountID:  account.ID,
		Email:      account.Email,
		Password:   account.Password,
		ProductURL: orderFlags.product,
		Variant:    orderFlags.variant,
		Card:       card,
	}

	fmt.Fprintf(out, "Starting order %d for %s...\n", orderID, account.Email)
	result, err := machine.Execute(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, result.String())
	if !result.Success {
		return fmt.Errorf("order failed at stage %s", result.FailedStage)
	}

	if err := st.MarkOrderComplete(ctx, orderID, result.ArtifactPath); err != nil {
		// The purchase went through; losing the record is worth a warning,
		// not a failed exit.
		logger.Warn("Order completed but could not be recorded.", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return nil
}

// resolveAccount finds the requested account among the verified, unused ones;
// anything else is rejected before a browser ever launches.
func resolveAccount(ctx context.Context, st schemas.Store, accountID int64) (schemas.AccountRecord, error) {
	eligible, err := st.ListUnusedVerifiedAccounts(ctx)
	if err != nil {
		return schemas.AccountRecord{}, err
	}
	for _, a := range eligible {
		if a.ID == accountID {
			return a, nil
		}
	}
	return schemas.AccountRecord{}, fmt.Errorf("account %d is not a verified, unused account (see 'accounts list')", accountID)
}
