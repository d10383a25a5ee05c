// Package cmd provides the CLI commands for medbill.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"medbill-verify/internal/config"
	"medbill-verify/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "medbill",
	Short: "Verify medical bills against hospital tie-up rates",
	Long: `medbill reconciles an itemized hospital bill against the hospital's
authorized rate catalog and flags overcharges, unmatched lines and
non-comparable package charges.

Examples:
  medbill verify --bill bill.json --catalog ./tieups
  medbill verify --bill bill.json --catalog city.xlsx --view debug
  medbill normalize "PARACETAMOL 500MG TAB (STRIP OF 10)"`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	defer logging.Sync()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.medbill/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	// Initialize logging
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "medbill version %s\n", Version)
	},
}
