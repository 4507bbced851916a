package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/ipc"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var flushCmd = &cobra.Command{
	Use:     "flush",
	GroupID: "sync",
	Short:   "Deliver queued writes now",
	Long: `Ask the background process to drain the outbound queue and wait for the
pass to finish. While offline the pass ends immediately and items stay queued.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		client := newClient()
		if err := client.Flush(ctx); err != nil {
			fatal("flushing queue", err)
		}
		stats, err := client.QueueStatus(ctx)
		if err != nil {
			fatal("getting queue status", err)
		}

		if jsonOutput {
			printJSON(stats)
			return
		}
		switch {
		case !stats.Online:
			fmt.Printf("%s Offline: %d item(s) still queued\n", ui.RenderWarn("⚠"), stats.Pending+stats.Delayed)
		case stats.Pending+stats.Delayed > 0:
			fmt.Printf("%s Flushed; %d item(s) waiting to retry\n", ui.RenderWarn("⚠"), stats.Pending+stats.Delayed)
		default:
			fmt.Printf("%s Queue empty\n", ui.RenderPass("✓"))
		}
	},
}

// statusReport is the --json form of status.
type statusReport struct {
	Queue     *queue.Stats      `json:"queue"`
	AuthState *auth.State       `json:"authState"`
	Stats     *schema.UserStats `json:"stats,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue, sign-in and activity status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		client := newClient()
		qs, err := client.QueueStatus(ctx)
		if err != nil {
			fatal("getting queue status", err)
		}
		state, err := client.AuthState(ctx)
		if err != nil {
			fatal("getting auth state", err)
		}
		var stats *schema.UserStats
		if state.IsAuthenticated {
			stats, err = client.Stats(ctx)
			if err != nil && !errors.Is(err, ipc.ErrRequestFailed) {
				fatal("getting stats", err)
			}
		}

		if jsonOutput {
			printJSON(statusReport{Queue: qs, AuthState: state, Stats: stats})
			return
		}

		fmt.Println(ui.Panel("Queue",
			ui.Field{Key: "Network", Value: ui.Bool(qs.Online, "online", "offline")},
			ui.Field{Key: "Pending", Value: ui.Count(qs.Pending)},
			ui.Field{Key: "Retrying", Value: ui.Count(qs.Delayed)},
		))

		account := []ui.Field{
			{Key: "Signed in", Value: ui.Bool(state.IsAuthenticated, "yes", "no")},
		}
		if state.IsAuthenticated {
			account = append(account,
				ui.Field{Key: "User", Value: state.UID},
				ui.Field{Key: "Email", Value: state.Email},
				ui.Field{Key: "Name", Value: state.DisplayName},
			)
		}
		account = append(account, ui.Field{Key: "Seq", Value: ui.RenderMuted(fmt.Sprintf("%d", state.Seq))})
		fmt.Println(ui.Panel("Account", account...))

		if stats != nil {
			fmt.Println(ui.Panel("Activity",
				ui.Field{Key: "Words learned", Value: ui.Count(stats.WordsLearned)},
				ui.Field{Key: "Notes created", Value: ui.Count(stats.NotesCreated)},
				ui.Field{Key: "Last active", Value: formatMillis(stats.LastActive)},
			))
		}
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statusCmd)
}
