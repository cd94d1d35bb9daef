package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/riverwatch/internal/api"
	"github.com/bryanchriswhite/riverwatch/internal/fleet"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start every configured camera pipeline",
	Long: `Start the riverwatch fleet: one pipeline per enabled camera, the watchdog
that restarts dead pipelines, and the HTTP API.

The server runs until interrupted with SIGINT or SIGTERM, then drains
every pipeline before exiting.`,
	Example: `  # Start with default settings
  riverwatch serve

  # Start on a custom port with debug logging
  riverwatch serve --port 9090 --log-level debug

  # Stamp alarms in a fixed time zone
  riverwatch serve --time-zone Asia/Shanghai`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configMgr.GetConfigPath(), err)
	}

	rt, err := fleet.NewRuntime(cfg)
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Int("cameras", len(cfg.Cameras)).
		Str("time_zone", rt.Location.String()).
		Msg("Starting riverwatch")

	sup := fleet.FromConfig(rt, cfg)
	defer func() {
		if err := sup.Close(); err != nil {
			log.Error().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(sup, configMgr, rt.Broadcaster)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, cfg.ServerPort)
	})
	g.Go(func() error {
		err := sup.RunAll(gctx)
		if errors.Is(err, fleet.ErrNoPipelines) {
			return fmt.Errorf("%w: add cameras to %s", err, configMgr.GetConfigPath())
		}
		return err
	})

	err = g.Wait()
	log.Info().Msg("Shutting down...")
	return err
}
