package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "casepilot",
	Short: "casepilot: AI agents for test engineering",
	Long: `casepilot classifies natural-language test-engineering requests and runs
the matching workflow: test case generation, change impact analysis,
regression recommendation or test case optimization.

Requests can be handled directly (ask), over HTTP (serve), over MCP (mcp) or
through a Redis stream (enqueue + worker). Every request is recorded in the
event log under ~/.casepilot/ (SQLite for events, JSON for run artifacts).`,
	SilenceUsage: true,
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to casepilot config file")
	rootCmd.PersistentFlags().StringVar(&conversationsFile, "conversations", "", "conversation state file (default ~/.casepilot/conversations.json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(qualityCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(promptsCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// openApp loads configuration and wires the application. The caller must
// Close the returned App.
func openApp(cmd *cobra.Command, opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), cfg, log, opts)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func checkFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q: use text or json", format)
	}
	return nil
}
