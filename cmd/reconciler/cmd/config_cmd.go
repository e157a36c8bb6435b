package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliconfig "ticket-reconciliation-service/cmd/reconciler/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect pipeline settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective pipeline configuration as YAML",
	Long: `Show prints the settings a reconcile run would use after applying the
--profile preset, the --config file and RECONCILER_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cliconfig.CreatePipelineConfig(viper.GetString("profile"), viper.GetViper())
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys and their environment variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := cliconfig.SettingKeys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", key, cliconfig.EnvName(key))
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(configCmd, versionCmd)
	configCmd.AddCommand(configShowCmd, configKeysCmd)
}
