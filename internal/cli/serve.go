package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/httpapi"
	"github.com/lucasnoah/casepilot/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the agent API, conversations, run artifacts, analytics, /health and
/metrics over HTTP until interrupted.

Conversations live in server memory for the lifetime of the process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		shutdown, _ := cmd.Flags().GetDuration("shutdown-timeout")

		a, err := openApp(cmd, app.Options{EventLog: true, Runs: true, RuntimeMetrics: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.Log.Sync()

		if addr == "" {
			addr = a.Config.Server.Addr
		}
		srv := httpapi.NewServer(httpapi.Deps{
			Dispatcher:    a.Dispatcher,
			Conversations: a.Conversations,
			Runs:          a.Runs,
			DB:            a.DB,
			Metrics:       a.Metrics.Handler(),
			Logger:        a.Log.Named("http"),
		})
		return srv.Start(cmd.Context(), addr, shutdown)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent and quality tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, app.Options{EventLog: true, Runs: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.Log.Sync()

		s := mcpserver.New(a.Dispatcher, mcpserver.Options{
			Version:            version,
			DuplicateThreshold: a.Config.Quality.DuplicateThreshold,
		})
		return mcpserver.ServeStdio(s)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
	serveCmd.Flags().Duration("shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
}
