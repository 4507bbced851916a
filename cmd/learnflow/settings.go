package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "setup",
	Short:   "Show or change per-user settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current user settings",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := newClient().Settings(ctx)
		if err != nil {
			fatal("getting settings", err)
		}
		if jsonOutput {
			printJSON(s)
			return
		}
		fmt.Println(ui.Panel("Settings",
			ui.Field{Key: "Target language", Value: s.TargetLanguage},
		))
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save user settings",
	Run: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("target-language") {
			fatal("saving settings", fmt.Errorf("nothing to set (use --target-language)"))
		}
		lang, _ := cmd.Flags().GetString("target-language")
		lang = strings.TrimSpace(lang)
		if lang == "" {
			fatal("saving settings", fmt.Errorf("target language cannot be empty"))
		}

		ctx, cancel := requestContext()
		defer cancel()

		saved, err := newClient().SaveSettings(ctx, schema.UserSettings{TargetLanguage: lang})
		if err != nil {
			fatal("saving settings", err)
		}
		if jsonOutput {
			printJSON(saved)
			return
		}
		fmt.Printf("%s Target language set to %s\n", ui.RenderPass("✓"), saved.TargetLanguage)
	},
}

func init() {
	settingsSetCmd.Flags().String("target-language", "", "Language being learned (e.g. es, fr)")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
