// Command learnflow runs the LearnFlow background sync process and the UI
// commands that talk to it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/config"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/flags"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/ipc"
)

var (
	dataDir    string
	configFile string
	jsonOutput bool

	// settings is resolved in PersistentPreRunE.
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "learnflow",
	Short: "learnflow - local-first vocabulary, notes and chat sync",
	Long: `LearnFlow keeps words, notes and chat messages in a local database and
syncs them with a remote document store whenever the network allows.

Run 'learnflow daemon' once per data directory. Every other command talks to
that background process or reads the local database directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Priority: flags > environment > config file > defaults
		dir := ""
		if cmd.Flags().Changed("data-dir") {
			dir = dataDir
		}
		if err := config.Initialize(dir, configFile); err != nil {
			return err
		}
		s, err := config.Load()
		if err != nil {
			return err
		}
		settings = s
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "Data directory (database, flags, socket, logs)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: <data-dir>/config.yaml or config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Working With Records:"},
		&cobra.Group{ID: "sync", Title: "Sync & Account:"},
		&cobra.Group{ID: "setup", Title: "Setup & Configuration:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fatal prints "Error <what>: <err>" and exits. Unreachable-daemon errors get
// a hint.
func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", what, err)
	if ipc.IsUnavailable(err) {
		fmt.Fprintf(os.Stderr, "Is the background process running? Start it with 'learnflow daemon'.\n")
	}
	os.Exit(1)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// requestContext bounds a single request to the background process.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ipc.DefaultTimeout)
}

func newClient() *ipc.Client {
	client, err := ipc.NewClient(settings.Listen, ipc.DefaultTimeout)
	if err != nil {
		fatal("creating client", err)
	}
	return client
}

func openFlags() *flags.Store {
	store, err := flags.Open(filepath.Join(settings.DataDir, flags.DefaultFilename))
	if err != nil {
		fatal("opening flags", err)
	}
	return store
}

// currentAuth reads the auth snapshot straight from the flag file, the same
// cold-start read every UI process does.
func currentAuth(store *flags.Store) *auth.State {
	var state auth.State
	ok, err := store.Get(flags.KeyAuthState, &state)
	if err != nil {
		fatal("reading auth state", err)
	}
	if !ok {
		return &auth.State{}
	}
	return &state
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encoding JSON", err)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
