package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/logging"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "setup",
	Short:   "Remote document store tools",
}

var remoteServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a remote store over HTTP for daemons using http:// DSNs",
	Long: `Serve a document store over HTTP and websocket watch streams.

Point a daemon at it with --remote http://<addr>. The backing store is chosen
with --backend: memory:// keeps documents in process, postgres://... persists
them in PostgreSQL.

Backends: ` + fmt.Sprint(remote.Schemes()),
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		backend, _ := cmd.Flags().GetString("backend")

		logger := logging.New(os.Stderr, "remote")

		ctx, cancel := signalContext()
		defer cancel()

		store, err := remote.Open(ctx, backend, remote.Options{
			Timeout: settings.RemoteTimeout,
			Logger:  logger,
		})
		if err != nil {
			fatal("opening backend", err)
		}
		defer store.Close()

		server, err := remote.NewServer(store, &remote.ServerConfig{Addr: addr, Logger: logger})
		if err != nil {
			fatal("creating server", err)
		}
		if err := server.Start(); err != nil {
			fatal("starting server", err)
		}

		fmt.Printf("%s Remote store serving on http://%s\n", ui.RenderAccent("🚀"), server.Addr())
		fmt.Printf("   Backend: %s\n", backend)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()
		if err := server.Stop(); err != nil {
			fatal("stopping server", err)
		}
	},
}

func init() {
	remoteServeCmd.Flags().String("addr", remote.DefaultServerConfig().Addr, "Address to listen on")
	remoteServeCmd.Flags().String("backend", "memory://", "Backing store DSN")

	remoteCmd.AddCommand(remoteServeCmd)
	rootCmd.AddCommand(remoteCmd)
}
