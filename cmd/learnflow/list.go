package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/db"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var listCmd = &cobra.Command{
	Use:       "list <words|notes|chats>",
	GroupID:   "records",
	Short:     "List records from the local database",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"words", "notes", "chats"},
	Long: `List records for the signed-in user straight from the local database.

Works without the background process. --since accepts a duration (36h),
an RFC3339 timestamp, or plain English ("yesterday", "last monday").`,
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			fatal("parsing kind", err)
		}
		sinceArg, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		uid, _ := cmd.Flags().GetString("user")

		opts := db.ListOptions{Limit: limit}
		if sinceArg != "" {
			since, err := parseSince(sinceArg, time.Now())
			if err != nil {
				fatal("parsing --since", err)
			}
			opts.Since = schema.Millis(since)
		}

		if uid == "" {
			state := currentAuth(openFlags())
			if !state.IsAuthenticated {
				fatal("listing records", fmt.Errorf("not signed in (use --user or 'learnflow login')"))
			}
			uid = state.UID
		}

		store, err := db.Open(settings.DB)
		if err != nil {
			fatal("opening database", err)
		}
		defer store.Close()

		ctx := context.Background()
		var rows []any
		var lines []string
		switch kind {
		case schema.KindWord:
			words, err := store.ListWords(ctx, uid, opts)
			if err != nil {
				fatal("listing words", err)
			}
			for _, w := range words {
				rows = append(rows, w)
				line := ui.RenderAccent(w.Term)
				if w.Definition != "" {
					line += " - " + w.Definition
				}
				lines = append(lines, stamp(w.TS, w.ID, line))
			}
		case schema.KindNote:
			notes, err := store.ListNotes(ctx, uid, opts)
			if err != nil {
				fatal("listing notes", err)
			}
			for _, n := range notes {
				rows = append(rows, n)
				lines = append(lines, stamp(n.TS, n.ID, n.Content))
			}
		case schema.KindChat:
			chats, err := store.ListChats(ctx, uid, opts)
			if err != nil {
				fatal("listing chats", err)
			}
			for _, c := range chats {
				rows = append(rows, c)
				lines = append(lines, stamp(c.TS, c.ID, ui.RenderMuted(c.Role+":")+" "+c.Content))
			}
		}

		if jsonOutput {
			if rows == nil {
				rows = []any{}
			}
			printJSON(rows)
			return
		}
		if len(lines) == 0 {
			fmt.Printf("No %s found\n", args[0])
			return
		}
		fmt.Println(strings.Join(lines, "\n"))
	},
}

var dumpCmd = &cobra.Command{
	Use:     "dump",
	GroupID: "records",
	Short:   "Print the signed-in user's full local cache as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		cache, err := newClient().Sync(ctx)
		if err != nil {
			fatal("requesting cache", err)
		}
		printJSON(cache)
	},
}

func stamp(ts int64, id, text string) string {
	return fmt.Sprintf("%s  %s  %s", ui.RenderMuted(formatMillis(ts)), text, ui.RenderMuted("("+id+")"))
}

// parseSince accepts a duration back from now, an RFC3339 timestamp or an
// English expression.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time, nil
}

func init() {
	listCmd.Flags().String("since", "", "Only records at or after this time")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum number of records (0 = all)")
	listCmd.Flags().String("user", "", "User id (default: signed-in user)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(dumpCmd)
}
