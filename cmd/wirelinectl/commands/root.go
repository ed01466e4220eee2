package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucian/wireline/internal/radius"
)

var (
	// dict decodes replies and packet dumps. Initialized in
	// PersistentPreRunE from the builtin table plus any --dict files.
	dict *radius.Dictionary

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// dictFiles holds extra dictionary file paths from --dict.
	dictFiles []string

	// exchangeTimeout is the per-try deadline for wire exchanges.
	exchangeTimeout time.Duration

	// exchangeTries is the number of send attempts per request.
	exchangeTries int

	// wireLogger silences transport logging; the CLI speaks through stdout.
	wireLogger = slog.New(slog.DiscardHandler)
)

// rootCmd is the top-level cobra command for wirelinectl.
var rootCmd = &cobra.Command{
	Use:   "wirelinectl",
	Short: "CLI client for RADIUS and SAMR service checks",
	Long: "wirelinectl sends one-shot RADIUS and MS-SAMR requests to directory\n" +
		"services and decodes the replies.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		dict = radius.Builtin()
		for _, path := range dictFiles {
			if err := dict.LoadFile(path); err != nil {
				return fmt.Errorf("load dictionary %s: %w", path, err)
			}
		}

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")
	rootCmd.PersistentFlags().StringSliceVar(&dictFiles, "dict", nil,
		"extra attribute dictionary file (repeatable)")
	rootCmd.PersistentFlags().DurationVar(&exchangeTimeout, "timeout", 2*time.Second,
		"per-try wire timeout")
	rootCmd.PersistentFlags().IntVar(&exchangeTries, "tries", 3,
		"send attempts per request")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(acctCmd())
	rootCmd.AddCommand(domainsCmd())
	rootCmd.AddCommand(dictCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
