package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/config"
	"parley/internal/oauth"
	"parley/internal/server"
	"parley/internal/store"
	"parley/pkg/logging"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory path.
var serveConfigPath string

// serveMemoryStore replaces the valkey backend with an in-process store.
// Connections then live only as long as the process; intended for local
// development without a valkey instance.
var serveMemoryStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parley connection manager server",
	Long: `Starts the HTTP server that exposes the MCP connection lifecycle
endpoints (/mcp/connect, /mcp/list, /mcp/disconnect) and the OAuth callback
page.

Configuration is read from config.yaml in the config directory (default
~/.config/parley), overridden by the VALKEY_URL, VALKEY_PASSWORD and
PARLEY_PUBLIC_URL environment variables. Without a store backend the server
still runs, but every /mcp endpoint answers 503.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var kv store.KV
	switch {
	case serveMemoryStore:
		logging.Warn("Serve", "Using in-memory store; connections will not survive restarts")
		kv = store.NewMemoryKV()
	case cfg.Store.Configured():
		kv, err = store.NewValkeyKV(cfg.Store.URL, cfg.Store.Password)
		if err != nil {
			return fmt.Errorf("failed to connect to the store backend: %w", err)
		}
	default:
		logging.Warn("Serve", "No store backend configured; /mcp endpoints will answer 503")
	}

	var manager *oauth.Manager
	if kv != nil {
		defer kv.Close()
		manager = oauth.NewManager(
			oauth.NewClient(),
			oauth.NewProber(),
			oauth.NewStateStore(kv),
			oauth.NewConnectionStore(kv),
			oauth.FlowConfig{
				RedirectURI: cfg.RedirectURI(),
				ClientName:  cfg.OAuth.ClientName,
				ClientURI:   cfg.OAuth.ClientURI,
			},
		)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, manager).Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
	serveCmd.Flags().BoolVar(&serveMemoryStore, "memory-store", false, "Use an in-process store instead of valkey (development only)")
}
