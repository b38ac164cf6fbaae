package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and manage provisioned accounts.",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all provisioned accounts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		accounts, err := st.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No accounts provisioned yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tSTATUS\tVERIFIED\tCREATED")
		for _, a := range accounts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
				a.ID, a.Email, a.Status, a.Verified, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var accountsVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Mark an account verified after confirming its verification email.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account id %q: %w", args[0], err)
		}

		st, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.MarkVerified(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account %d marked verified.\n", id)
		return nil
	},
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsVerifyCmd)
	rootCmd.AddCommand(accountsCmd)
}
