// Package main provides the mediaref CLI entry point.
// mediaref decides which media in a conversation a chat message refers to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/mediaref/cmd"
	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/buildinfo"
)

// globalFlags are the persistent flags that override the loaded config.
type globalFlags struct {
	output   string
	logLevel string
	server   string
}

// apply overlays the flags that were set onto cfg and validates the result.
func (f *globalFlags) apply(cfg *config.Config) error {
	if f.output != "" {
		format := config.OutputFormat(f.output)
		if !format.IsValid() {
			return fmt.Errorf("invalid --output %q (must be text, json, or yaml)", f.output)
		}
		cfg.OutputFormat = format
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.server != "" {
		cfg.Client.ServerAddress = f.server
	}
	return cfg.Validate()
}

// newRootCommand builds the command tree. deps.LoadConfig is wrapped so every
// command sees the global flag overrides.
func newRootCommand(deps *cmd.CommandDeps) *cobra.Command {
	if deps == nil {
		deps = cmd.DefaultDeps()
	}
	flags := &globalFlags{}

	load := deps.LoadConfig
	if load == nil {
		load = config.LoadConfig
	}
	wrapped := *deps
	wrapped.LoadConfig = func() (*config.Config, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if err := flags.apply(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root := &cobra.Command{
		Use:   "mediaref",
		Short: "Resolve which media a chat message refers to",
		Long: `mediaref resolves references like "image 2", "the last one" or "the logo"
in a chat message to the media items of the conversation.

Every item gets a permanent display index the first time it appears. A turn
is resolved by trying, in order: the turn's uploads, numeric references,
recency words, file names, semantic tags, and finally the most recent item.
When the answer is unclear the user is asked to choose.

COMMON WORKFLOWS:
  Resolve against a file:    mediaref resolve "edit image 2" -c chat.json
  Resolve against a store:   mediaref resolve "combine these" --conversation-id c-1 -u URL -u URL
  Inspect a registry:        mediaref registry show --conversation-id c-1
  Run the service:           mediaref serve

Configuration is read from ~/.mediaref/config.yaml and MEDIAREF_* environment
variables. Run 'mediaref config show' to see the effective values.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "", "output format: text, json, yaml")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "mediaref server address (host:port); resolve in-process when empty")

	root.AddGroup(
		&cobra.Group{ID: "resolve", Title: "Resolving:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	resolveCmd := cmd.NewResolveCommand(&wrapped)
	resolveCmd.GroupID = "resolve"
	registryCmd := cmd.NewRegistryCommand(&wrapped)
	registryCmd.GroupID = "resolve"
	serveCmd := cmd.NewServeCommand(&wrapped)
	serveCmd.GroupID = "ops"
	authCmd := cmd.NewAuthCommand(&wrapped)
	authCmd.GroupID = "setup"
	configCmd := cmd.NewConfigCommand(&wrapped)
	configCmd.GroupID = "setup"

	root.AddCommand(resolveCmd, registryCmd, serveCmd, authCmd, configCmd, cmd.NewVersionCommand(&wrapped))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
