package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "records",
	Short:   "Queue a new word, note or chat message",
	Long: `Queue a new record for the signed-in user.

The record is persisted in the outbound queue before any network attempt and
lands in the local database once the remote store confirms it.`,
}

var addWordCmd = &cobra.Command{
	Use:   "word <term>",
	Short: "Queue a vocabulary word",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		definition, _ := cmd.Flags().GetString("definition")
		enqueue(schema.AddWord{Word: schema.Word{
			ID:         uuid.NewString(),
			Term:       strings.Join(args, " "),
			Definition: definition,
		}})
	},
}

var addNoteCmd = &cobra.Command{
	Use:   "note <content>",
	Short: "Queue a note",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		enqueue(schema.AddNote{Note: schema.Note{
			ID:      uuid.NewString(),
			Content: strings.Join(args, " "),
		}})
	},
}

var addChatCmd = &cobra.Command{
	Use:   "chat <content>",
	Short: "Queue a chat message",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		role, _ := cmd.Flags().GetString("role")
		enqueue(schema.AddChat{Message: schema.ChatMessage{
			ID:      uuid.NewString(),
			Content: strings.Join(args, " "),
			Role:    role,
		}})
	},
}

var deleteCmd = &cobra.Command{
	Use:       "delete <word|note|chat> <id>",
	GroupID:   "records",
	Short:     "Queue the deletion of a record",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"word", "note", "chat"},
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			fatal("parsing kind", err)
		}
		m, err := schema.NewDelete(kind, args[1])
		if err != nil {
			fatal("building delete", err)
		}
		enqueue(m)
	},
}

func enqueue(m schema.Mutation) {
	if err := m.Validate(); err != nil {
		fatal("validating "+string(m.Kind()), err)
	}

	ctx, cancel := requestContext()
	defer cancel()

	resp, err := newClient().Enqueue(ctx, m)
	if err != nil {
		fatal("queueing "+string(m.Action()), err)
	}

	if jsonOutput {
		printJSON(resp)
		return
	}
	fmt.Printf("%s Queued %s %s\n", ui.RenderPass("✓"), m.Action(), resp.RecordID)
	fmt.Printf("   Queue item: %s\n", ui.RenderMuted(resp.ID))
}

func init() {
	addWordCmd.Flags().StringP("definition", "d", "", "Definition of the word")
	addChatCmd.Flags().String("role", schema.RoleUser, "Message role (user|assistant)")

	addCmd.AddCommand(addWordCmd)
	addCmd.AddCommand(addNoteCmd)
	addCmd.AddCommand(addChatCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(deleteCmd)
}
