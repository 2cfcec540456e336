package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/buildinfo"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(deps *CommandDeps) *cobra.Command {
	deps = withDefaults(deps)

	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := config.OutputFormatText
			if cfg, err := deps.LoadConfig(); err == nil {
				format = cfg.OutputFormat
			}
			info := buildinfo.Get(buildinfo.ServiceName)
			return writeOutput(deps.Stdout, format, info, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "mediaref %s\n  go: %s\n", info.String(), info.GoVersion)
				return err
			})
		},
	}
}
