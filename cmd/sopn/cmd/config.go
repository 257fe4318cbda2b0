package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/civiclab/sopn/internal/config"
	"github.com/spf13/cobra"
)

// configCmd groups configuration inspection and scaffolding.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
	Long: `Inspect the active configuration or write a starter config file.

Examples:
  sopn config show
  sopn config init
  sopn config init --file /etc/sopn/sopn.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configShowCmd prints the resolved configuration.
var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the active configuration as YAML",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		data, err := cfg.RenderYAML()
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}

		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "# loaded from %s\n", used)
		} else {
			_, _ = fmt.Fprintf(out, "# no config file found (searched: %s)\n",
				strings.Join(config.GetConfigSearchPaths(), ", "))
		}
		_, _ = fmt.Fprint(out, string(data))
		return nil
	},
}

// configInitCmd writes a starter configuration file.
var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Write a starter configuration file with defaults",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			if _, err := os.Stat(file); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", file)
			}
		}
		if err := config.WriteDefaultConfigFile(file); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", file)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().String("file", "sopn.yaml", "path of the config file to write")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
