package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Check a pipeline file",
	Long:  `Parse a pipeline file and report the first problem found, without building any chain.`,
	Example: `  # Check the default pipeline file
  framefilter validate

  # Check another file
  framefilter validate screen.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// pipelinePath prefers a positional FILE over the --pipeline setting
func pipelinePath(settings *config.Settings, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return settings.Pipeline
}

func runValidate(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	p, err := config.Load(pipelinePath(settings, args))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: ok\n", p.Path())
	for _, c := range p.Chains {
		kind := c.Kind
		if kind == "" {
			kind = "(default)"
		}
		fmt.Fprintf(out, "  chain %-12s kind %s\n", c.ID, kind)
	}
	return nil
}
