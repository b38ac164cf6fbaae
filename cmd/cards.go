package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
)

var cardFlags struct {
	name   string
	number string
	expiry string
	cvv    string
}

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Manage stored payment cards.",
}

var cardsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a payment card. The first card added becomes the default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		card := schemas.PaymentCard{
			Name:   cardFlags.name,
			Number: cardFlags.number,
			Expiry: cardFlags.expiry,
			CVV:    cardFlags.cvv,
		}
		if card.Name == "" || card.Number == "" || card.Expiry == "" || card.CVV == "" {
			return fmt.Errorf("all of --name, --number, --expiry and --cvv are required")
		}

		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		id, err := st.AddCard(cmd.Context(), card)
		if err != nil {
			return err
		}
		// Card numbers only ever appear masked; the CVV never appears at all.
		fmt.Fprintf(cmd.OutOrStdout(), "Card %d (%s) stored.\n", id, card.MaskedNumber())
		return nil
	},
}

var cardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cards, default first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		cards, err := st.ListCards(cmd.Context())
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No cards stored yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOLDER\tNUMBER\tEXPIRY\tDEFAULT")
		for _, c := range cards {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", c.ID, c.Name, c.MaskedNumber(), c.Expiry, c.IsDefault)
		}
		return w.Flush()
	},
}

var cardsSetDefaultCmd = &cobra.Command{
	Use:   "set-default <id>",
	Short: "Make a stored card the default payment instrument.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid card id %q: %w", args[0], err)
		}

		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.SetDefaultCard(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Card %d is now the default.\n", id)
		return nil
	},
}

var cardsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored card.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid card id %q: %w", args[0], err)
		}

		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.DeleteCard(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Card %d deleted.\n", id)
		return nil
	},
}

func init() {
	cardsAddCmd.Flags().StringVar(&cardFlags.name, "name", "", "card holder name")
	cardsAddCmd.Flags().StringVar(&cardFlags.number, "number", "", "card number")
	cardsAddCmd.Flags().StringVar(&cardFlags.expiry, "expiry", "", "expiry as MM/YY")
	cardsAddCmd.Flags().StringVar(&cardFlags.cvv, "cvv", "", "card verification value")

	cardsCmd.AddCommand(cardsAddCmd, cardsListCmd, cardsSetDefaultCmd, cardsDeleteCmd)
	rootCmd.AddCommand(cardsCmd)
}
