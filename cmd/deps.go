// Package cmd provides CLI commands for the mediaref tool.
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/otherjamesbrown/mediaref/client"
	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/credentials"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
)

// CommandDeps holds the dependencies shared by mediaref commands.
// Fields left nil fall back to the production implementations.
type CommandDeps struct {
	LoadConfig func() (*config.Config, error)
	// NewCredentialStore opens the encrypted password store.
	NewCredentialStore func() (*credentials.Store, error)
	// InitClient connects to a remote server.
	InitClient func(ctx context.Context, cfg *config.ClientConfig) (*client.GRPCClient, error)
	// NewLogger builds the command logger from the loaded config.
	NewLogger func(cfg *config.Config) logging.Logger

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig:         config.LoadConfig,
		NewCredentialStore: credentials.NewStore,
		InitClient:         client.ConnectFromConfig,
		NewLogger: func(cfg *config.Config) logging.Logger {
			return logging.NewLogger(cfg.LoggingConfig())
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Stdin:  os.Stdin,
	}
}

// withDefaults fills nil fields of deps from DefaultDeps.
func withDefaults(deps *CommandDeps) *CommandDeps {
	def := DefaultDeps()
	if deps == nil {
		return def
	}
	out := *deps
	if out.LoadConfig == nil {
		out.LoadConfig = def.LoadConfig
	}
	if out.NewCredentialStore == nil {
		out.NewCredentialStore = def.NewCredentialStore
	}
	if out.InitClient == nil {
		out.InitClient = def.InitClient
	}
	if out.NewLogger == nil {
		out.NewLogger = def.NewLogger
	}
	if out.Stdout == nil {
		out.Stdout = def.Stdout
	}
	if out.Stderr == nil {
		out.Stderr = def.Stderr
	}
	if out.Stdin == nil {
		out.Stdin = def.Stdin
	}
	return &out
}
