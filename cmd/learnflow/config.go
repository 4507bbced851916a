package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/config"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the config file",
	Long: `Manage the LearnFlow config file.

Values are resolved in this order: flags, LEARNFLOW_* environment variables,
the config file, then built-in defaults. LEARNFLOW_REMOTE_DSN sets remote.dsn.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the data directory",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		force, _ := cmd.Flags().GetBool("force")

		path := configFile
		if path == "" {
			path = config.FilePath(settings.DataDir, format)
		}
		if err := config.WriteDefault(path, settings.DataDir, format, force); err != nil {
			fatal("writing config", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		if jsonOutput {
			printJSON(settings.Document())
			return
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# from %s\n", used)
		} else {
			fmt.Fprintf(os.Stderr, "# no config file, defaults and environment only\n")
		}
		if err := settings.Encode(os.Stdout, format); err != nil {
			fatal("encoding config", err)
		}
	},
}

func init() {
	configInitCmd.Flags().String("format", config.FormatYAML, "File format (yaml|toml)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configShowCmd.Flags().String("format", config.FormatYAML, "Output format (yaml|toml)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
