package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/captcha"
	"github.com/xkilldash9x/checkout-cli/internal/observability"
	"github.com/xkilldash9x/checkout-cli/internal/provision"
	"github.com/xkilldash9x/checkout-cli/internal/regclient"
	"github.com/xkilldash9x/checkout-cli/internal/workerpool"
)

var (
	provisionFile      string
	provisionVerifyAll bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision [text...]",
	Short: "Register accounts for every email address found in the input.",
	Long: `Extracts email addresses from the arguments, an input file (--file) or stdin,
registers an account for each one serially and prints the batch report.
Identities that already have an account are skipped.`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVarP(&provisionFile, "file", "f", "", "read identities from this file instead of arguments")
	provisionCmd.Flags().BoolVar(&provisionVerifyAll, "verify-all", false, "mark every created account verified immediately")
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	out := cmd.OutOrStdout()

	text, err := gatherInput(cmd, args)
	if err != nil {
		return err
	}
	identities := provision.ExtractIdentities(text)
	if len(identities) == 0 {
		return fmt.Errorf("no email addresses found in input")
	}
	fmt.Fprintf(out, "Found %d identities to provision.\n", len(identities))

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pool, err := workerpool.New(cfg.Captcha.Workers, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Shutdown(ctx); err != nil {
			logger.Warn("Worker pool shutdown incomplete.", zap.Error(err))
		}
	}()

	recognizer := captcha.NewTesseractRecognizer(cfg.Captcha.TesseractBinary, logger)
	solver, err := captcha.New(recognizer, pool, cfg.Captcha.MinLength, cfg.Captcha.ArtifactDir, logger)
	if err != nil {
		return err
	}

	api, err := regclient.New(nil, cfg.Registration, logger)
	if err != nil {
		return err
	}

	pipeline, err := provision.New(api, solver, st, cfg.Registration.Cooldown, cfg.Registration.PasswordLength, logger)
	if err != nil {
		return err
	}

	report, runErr := pipeline.Run(ctx, identities, consoleNotifier{out: out})
	if report != nil {
		renderReport(out, report)
		if provisionVerifyAll {
			verifyCreated(cmd, st, report)
		}
	}
	return runErr
}

// gatherInput assembles the raw identity text from flags, args or stdin.
func gatherInput(cmd *cobra.Command, args []string) (string, error) {
	if provisionFile != "" {
		data, err := os.ReadFile(provisionFile)
		if err != nil {
			return "", fmt.Errorf("reading identity file: %w", err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		text := ""
		for _, a := range args {
			text += a + "\n"
		}
		return text, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

// consoleNotifier prints pipeline progress as it happens.
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Progress(current, total int, identity, status string) {
	fmt.Fprintf(n.out, "[%d/%d] %s: %s\n", current, total, identity, status)
}

// renderReport prints the batch outcome, including generated passwords: the
// operator has no other way to recover them.
func renderReport(out io.Writer, report *schemas.BatchReport) {
	fmt.Fprintf(out, "\nBatch finished in %s: %d succeeded, %d failed, %d skipped as duplicates.\n",
		report.Elapsed.Round(1e9), report.Succeeded, report.Failed, len(report.Skipped))

	for _, r := range report.Results {
		if r.Succeeded() {
			fmt.Fprintf(out, "  OK   %s (account %d) password: %s\n", r.Identity, r.AccountID, r.Password)
		} else if r.Password != "" {
			// Registered remotely but not persisted; the password must not
			// be lost.
			fmt.Fprintf(out, "  WARN %s: %s password: %s\n", r.Identity, r.Detail, r.Password)
		} else {
			fmt.Fprintf(out, "  FAIL %s: %s\n", r.Identity, r.Detail)
		}
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "  SKIP %s: account already exists\n", s)
	}
}

// verifyCreated marks every account the batch created as verified.
func verifyCreated(cmd *cobra.Command, st schemas.Store, report *schemas.BatchReport) {
	out := cmd.OutOrStdout()
	for _, r := range report.Results {
		if !r.Succeeded() {
			continue
		}
		if err := st.MarkVerified(cmd.Context(), r.AccountID); err != nil {
			fmt.Fprintf(out, "  could not verify account %d: %v\n", r.AccountID, err)
			continue
		}
		fmt.Fprintf(out, "  verified account %d (%s)\n", r.AccountID, r.Identity)
	}
}
