package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "framefilter",
		Short: "FrameFilter - real-time frame relay with overlay",
		Long: `FrameFilter connects two processing chains: frames exported by one chain
are copied into buffers leased from the other, drawn on by the overlay and
pushed back in.

The chains are described by a pipeline file (framefilter.json by default).
Chains of kind "gstreamer" run a GStreamer launch line with appsink/appsrc
elements, "x11" grabs the screen and shows frames in a window, and
"synthetic" generates a test pattern.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (yaml)")
	rootCmd.PersistentFlags().StringP("pipeline", "p", "", "pipeline file (default is "+config.DefaultPipelineFile+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")

	viper.BindPFlag("pipeline", rootCmd.PersistentFlags().Lookup("pipeline"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// loadSettings resolves settings and initializes the logger from them.
// Commands that print documents pass stderr so logs stay out of the output.
func loadSettings(logTo io.Writer) (*config.Settings, error) {
	s, err := config.LoadSettings(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if logTo == nil {
		logger.Init(s.LogLevel, s.LogPretty)
	} else {
		logger.InitWithWriter(logTo, s.LogLevel)
	}
	return s, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
