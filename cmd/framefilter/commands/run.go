package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FrameFilter/internal/api"
	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/chain/gstreamer"
	"github.com/bryanchriswhite/FrameFilter/internal/chain/synthetic"
	"github.com/bryanchriswhite/FrameFilter/internal/chain/x11"
	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
	"github.com/bryanchriswhite/FrameFilter/internal/overlay"
	"github.com/bryanchriswhite/FrameFilter/internal/relay"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start relaying frames",
	Long: `Build the chains from the pipeline file, switch the exporter on and relay
frames until Enter is pressed or the process receives SIGINT/SIGTERM.`,
	Example: `  # Run the default pipeline file
  framefilter run

  # Run a specific pipeline with the status API on port 8080
  framefilter run --pipeline screen.json --status-addr :8080

  # Run with debug logging
  framefilter run --log-level debug --log-pretty`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("status-addr", "", "serve the status API on this address (disabled when empty)")
	viper.BindPFlag("status_addr", runCmd.Flags().Lookup("status-addr"))
}

// newRuntime registers every chain backend the binary ships
func newRuntime() *chain.Runtime {
	return chain.NewRuntime(
		gstreamer.NewBackend(),
		x11.NewBackend(),
		synthetic.NewBackend(),
	)
}

// newOverlay builds the frame transform. Without configured widgets the
// stock crosshair is drawn.
func newOverlay(oc config.OverlayConfig) *overlay.Manager {
	var m *overlay.Manager
	if len(oc.Widgets) == 0 {
		m = overlay.NewDefaultManager()
	} else {
		m = overlay.NewManager()
		m.LoadFromConfig(oc.Widgets)
	}
	m.SetEnabled(oc.Enabled)
	return m
}

func runRun(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(nil)
	if err != nil {
		return err
	}
	log := logger.WithComponent("main")

	pipeline, err := config.Load(settings.Pipeline)
	if err != nil {
		return err
	}

	opts := relay.Options{
		ImportChain:    settings.ImportChain,
		ExportChain:    settings.ExportChain,
		Importer:       settings.Importer,
		Exporter:       settings.Exporter,
		CommandTimeout: settings.CommandTimeout,
	}
	overlayMgr := newOverlay(pipeline.Overlay)
	controller := relay.NewController(newRuntime(), pipeline, overlayMgr, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	var server *api.Server
	if settings.StatusAddr != "" {
		server = api.NewServer(controller, overlayMgr)
		addr, err := server.Start(settings.StatusAddr)
		if err != nil {
			log.Error().Err(err).Str("addr", settings.StatusAddr).Msg("Status API disabled")
			server = nil
		} else {
			log.Info().Msgf("Status API: http://%s/api/stats", addr)
		}
	}

	log.Info().Str("run_id", controller.RunID()).Msg("Press Enter to terminate the program")

	select {
	case <-waitForLine(cmd.InOrStdin()):
	case <-ctx.Done():
		log.Info().Msg("Signal received")
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Status API shutdown failed")
		}
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Relay shutdown finished with errors")
	}

	snap := controller.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "forwarded %d of %d frames (%d dropped)\n", snap.Forwarded, snap.Received, snap.Dropped())
	return nil
}

// waitForLine closes the returned channel once r yields a line or ends
func waitForLine(r io.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bufio.NewReader(r).ReadString('\n')
	}()
	return done
}
