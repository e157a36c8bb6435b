package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliconfig "ticket-reconciliation-service/cmd/reconciler/config"
	"ticket-reconciliation-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	profile   string
	dbPath    string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Weighbridge ticket reconciliation tool",
	Long: `Reconciler matches the tickets in a client ledger export against scanned
weighbridge ticket images. Scans are split into ticket regions, checked for
quality, read with OCR and scored against every ledger row. Confident matches
are accepted automatically; the rest wait in a review queue.

Examples:
  reconciler reconcile --ledger ledger.csv --pages scans/
  reconciler reconcile --ledger ledger.csv --pages batch.pdf --db outcomes.db --progress
  reconciler review list --db outcomes.db
  reconciler review accept 3f2c... --reviewer dana --db outcomes.db
  reconciler config show --profile strict
  reconciler version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", cliconfig.ProfileDefault, "pipeline profile: default, strict, relaxed")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database for match outcomes")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	if err := cliconfig.BindEnvKeys(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding environment: %s\n", err)
		os.Exit(1)
	}
}

// setupLogging installs the global logger. Logs go to stderr so reports on
// stdout stay machine-readable.
func setupLogging() error {
	cfg := logger.DefaultConfig()
	cfg.Output = logger.StderrOutput
	cfg.Format = logger.Format(viper.GetString("log-format"))
	cfg.Level = logger.WarnLevel
	if viper.GetBool("verbose") {
		cfg.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
