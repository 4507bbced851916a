package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/logging"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/daemon"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync process (foreground)",
	Long: `Run the background process for the data directory until interrupted.

The daemon will:
  1. Take the data directory lock (one daemon per directory)
  2. Reload queued writes and deliver them in order
  3. Follow sign-in state and stream remote changes into the local database
  4. Probe the remote store and pause delivery while offline
  5. Serve UI processes on the listen address

Remote backends: ` + fmt.Sprint(remote.Schemes()),
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("remote") {
			settings.RemoteDSN, _ = cmd.Flags().GetString("remote")
		}
		if cmd.Flags().Changed("listen") {
			settings.Listen, _ = cmd.Flags().GetString("listen")
		}

		out, err := logging.Open(logging.Options{
			File:       settings.Log.File,
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
			Compress:   settings.Log.Compress,
		}, os.Stderr)
		if err != nil {
			fatal("opening log file", err)
		}
		defer out.Close()

		d, err := daemon.NewWithConfig(&daemon.Config{
			DataDir:       settings.DataDir,
			DBPath:        settings.DB,
			Listen:        settings.Listen,
			RemoteDSN:     settings.RemoteDSN,
			RemoteTimeout: settings.RemoteTimeout,
			RetrySchedule: settings.RetrySchedule,
			ProbeInterval: settings.ProbeInterval,
			NotifyBuffer:  settings.NotifyBuffer,
			Logger:        out.Logger("daemon"),
		})
		if err != nil {
			fatal("creating daemon", err)
		}

		fmt.Printf("%s Starting LearnFlow daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Data dir: %s\n", settings.DataDir)
		fmt.Printf("   Database: %s\n", settings.DB)
		fmt.Printf("   Listen: %s\n", settings.Listen)
		fmt.Printf("   Remote: %s\n", settings.RemoteDSN)
		fmt.Printf("   Log: %s\n", settings.Log.File)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signalContext()
		defer cancel()

		// Start blocks until the signal arrives.
		if err := d.Start(ctx); err != nil {
			if daemon.IsAlreadyRunning(err) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fatal("running daemon", err)
		}
	},
}

func init() {
	daemonCmd.Flags().String("remote", "", "Remote store DSN (memory://, http://host:port, postgres://...)")
	daemonCmd.Flags().String("listen", "", "Listen address (unix:///path or tcp://host:port)")
	rootCmd.AddCommand(daemonCmd)
}
