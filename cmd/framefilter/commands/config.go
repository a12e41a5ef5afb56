package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect FrameFilter configuration",
	Long:  `View the resolved settings and the parsed pipeline file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show [FILE]",
	Short: "Show the parsed pipeline file",
	Long:  `Print the pipeline file after comments are stripped and defaults applied.`,
	Example: `  # Show the pipeline as YAML (default)
  framefilter config show

  # Show the pipeline as JSON
  framefilter config show --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigShow,
}

var configSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the resolved runtime settings",
	Long:  `Display the settings after flags, FRAMEFILTER_* environment variables and the settings file are applied.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigSettings,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSettingsCmd)

	configCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func encode(cmd *cobra.Command, v interface{}) error {
	out := cmd.OutOrStdout()
	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	p, err := config.Load(pipelinePath(settings, args))
	if err != nil {
		return err
	}

	doc, err := p.Document()
	if err != nil {
		return err
	}
	return encode(cmd, doc)
}

func runConfigSettings(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return encode(cmd, settings)
}
