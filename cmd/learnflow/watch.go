package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/logging"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/db"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Follow auth, database and queue notifications",
	Long: `Attach to the background process's notifier and print every notification
until interrupted.

On every (re)connect the record counts are re-read from the local database,
since notifications sent while detached are not replayed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		logger := logging.New(os.Stderr, "watch")
		store := openFlags()
		ipcClient := newClient()

		local, err := db.Open(settings.DB)
		if err != nil {
			fatal("opening database", err)
		}
		defer local.Close()

		var listener *auth.Listener
		client, err := notify.NewClient(notify.ClientConfig{
			URL:        ipcClient.NotifierURL(),
			HTTPClient: ipcClient.HTTPClient(),
			OnAttach: func() {
				fmt.Printf("%s Attached to %s\n", ui.RenderAccent("🔗"), settings.Listen)
				printCounts(ctx, local, listener.Current())
			},
			Logger: logger,
		})
		if err != nil {
			fatal("creating notifier client", err)
		}

		// The listener follows both the flag file and the notifier.
		listener, err = auth.NewListener(store, client, logger)
		if err != nil {
			fatal("creating auth listener", err)
		}
		if err := listener.Start(); err != nil {
			fatal("starting auth listener", err)
		}
		defer listener.Stop()

		sub := client.Subscribe(notify.TopicDBSync, notify.TopicQueue)
		defer sub.Close()

		go func() {
			if err := client.Run(ctx); err != nil {
				logger.Printf("Notifier client stopped: %v", err)
			}
		}()

		fmt.Printf("%s Watching (Ctrl+C to stop)\n", ui.RenderAccent("👀"))
		fmt.Printf("   Auth: %s\n", authLine(listener.Current()))

		for {
			select {
			case <-ctx.Done():
				return
			case state, ok := <-listener.Changes():
				if !ok {
					return
				}
				fmt.Printf("%s auth      %s\n", ui.RenderMuted(stampNow()), authLine(state))
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				printNotification(msg)
			}
		}
	},
}

func printNotification(msg notify.Message) {
	at := ui.RenderMuted(msg.Timestamp.Format("15:04:05"))
	switch msg.Topic {
	case notify.TopicDBSync:
		var ch schema.Change
		if err := msg.Decode(&ch); err != nil {
			fmt.Printf("%s db-sync   %s\n", at, ui.RenderWarn(err.Error()))
			return
		}
		parts := []string{string(ch.Op), string(ch.Kind)}
		if ch.ID != "" {
			parts = append(parts, ch.ID)
		}
		if ch.External {
			parts = append(parts, ui.RenderMuted("(external)"))
		}
		fmt.Printf("%s db-sync   %s\n", at, strings.Join(parts, " "))
	case notify.TopicQueue:
		var ev queue.Event
		if err := msg.Decode(&ev); err != nil {
			fmt.Printf("%s queue     %s\n", at, ui.RenderWarn(err.Error()))
			return
		}
		line := fmt.Sprintf("%s %s %s", ev.Kind, ev.Action, ev.RecordID)
		switch ev.Kind {
		case queue.EventDelivered:
			line = ui.RenderPass(line)
		case queue.EventRetry:
			line = ui.RenderWarn(fmt.Sprintf("%s (attempt %d, retry in %dms)", line, ev.Attempts, ev.RetryInMs))
		case queue.EventDropped:
			line = ui.RenderFail(fmt.Sprintf("%s: %s", line, ev.Error))
		}
		fmt.Printf("%s queue     %s\n", at, line)
	default:
		fmt.Printf("%s %-9s %s\n", at, msg.Topic, string(msg.Data))
	}
}

func printCounts(ctx context.Context, local *db.DB, state *auth.State) {
	if state == nil || !state.IsAuthenticated {
		return
	}
	var parts []string
	for _, kind := range schema.Kinds {
		n, err := local.CountRecords(ctx, kind, state.UID)
		if err != nil {
			fmt.Printf("   %s\n", ui.RenderWarn(err.Error()))
			return
		}
		parts = append(parts, fmt.Sprintf("%s %s", ui.Count(n), kind))
	}
	fmt.Printf("   Local: %s\n", strings.Join(parts, ", "))
}

func authLine(s *auth.State) string {
	if s == nil || !s.IsAuthenticated {
		return ui.RenderMuted("signed out")
	}
	return describe(s) + ui.RenderMuted(fmt.Sprintf(" [seq %d]", s.Seq))
}

func stampNow() string {
	return time.Now().Format("15:04:05")
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
