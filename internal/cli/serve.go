package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/extralife/internal/app"
)

var (
	serveAddr    string
	serveStore   string
	noActivation bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the policy activation sweep",
	Long: `Serve starts the HTTP API and the background sweep that activates
pending policies once the activation delay has passed.

Example:
  extralife serve
  extralife serve --addr :9090 --store memory
  EXTRALIFE_MODE=production extralife serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "store driver: file, memory, redis (overrides store.driver)")
	serveCmd.Flags().BoolVar(&noActivation, "no-activation", false, "do not run the activation sweep")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveStore != "" {
		cfg.Store.Driver = serveStore
	}
	if noActivation {
		cfg.Activation.Enabled = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	return a.Run(ctx)
}

// openApp builds the service for one-shot commands
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}
