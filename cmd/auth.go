package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/mediaref/credentials"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *CommandDeps) *cobra.Command {
	deps = withDefaults(deps)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored backend passwords",
		Long: `Manage the passwords mediaref uses for its backends.

Passwords are stored encrypted in ~/.mediaref/credentials.yaml. The key comes
from MEDIAREF_ENCRYPTION_KEY, the system keyring, or a passphrase in
MEDIAREF_PASSPHRASE, in that order.

Environment variables (MEDIAREF_REDIS_PASSWORD, MEDIAREF_POSTGRES_PASSWORD)
take precedence over stored passwords.`,
	}

	cmd.AddCommand(newAuthSetCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthClearCommand(deps))
	return cmd
}

func newAuthSetCommand(deps *CommandDeps) *cobra.Command {
	var (
		backend       string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set-store-password",
		Short: "Store the password for a backend",
		Long: `Store the password for a backend (redis, postgres or audit).

Examples:
  # Prompt for the password
  mediaref auth set-store-password --backend postgres

  # Read it from stdin
  echo "$PGPASSWORD" | mediaref auth set-store-password --backend postgres --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !credentials.IsValidBackend(backend) {
				return fmt.Errorf("%w: %q (must be redis, postgres or audit)", credentials.ErrUnknownBackend, backend)
			}

			password, err := readPassword(deps, backend, passwordStdin)
			if err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}

			store, err := deps.NewCredentialStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.SetPassword(backend, password); err != nil {
				return fmt.Errorf("saving password: %w", err)
			}

			fmt.Fprintf(deps.Stdout, "Stored %s password (%s)\n", backend, credentials.MaskCredential(password))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Backend the password is for (redis, postgres, audit)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	_ = cmd.MarkFlagRequired("backend")
	return cmd
}

// readPassword reads a password without echo when stdin is a terminal,
// else the first line of stdin.
func readPassword(deps *CommandDeps, backend string, fromStdin bool) (string, error) {
	if f, ok := deps.Stdin.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(deps.Stderr, "Enter %s password: ", backend)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(deps.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(deps.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// authStatus is the structured form of `auth status`.
type authStatus struct {
	Path      string            `json:"path" yaml:"path"`
	Key       string            `json:"key" yaml:"key"`
	Stored    bool              `json:"stored" yaml:"stored"`
	Passwords map[string]string `json:"passwords,omitempty" yaml:"passwords,omitempty"`
	Updated   string            `json:"updated,omitempty" yaml:"updated,omitempty"`
}

func newAuthStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which backend passwords are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, err := deps.NewCredentialStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			status := authStatus{Key: store.KeyDescription()}
			if path, err := credentials.CredentialsPath(); err == nil {
				status.Path = path
			}

			creds, err := store.Load()
			switch {
			case errors.Is(err, credentials.ErrNoCredentials):
			case err != nil:
				return fmt.Errorf("loading credentials: %w", err)
			default:
				status.Stored = true
				status.Passwords = make(map[string]string, len(creds.Passwords))
				for backend, pw := range creds.Passwords {
					status.Passwords[backend] = credentials.MaskCredential(pw)
				}
				if !creds.LastUpdated.IsZero() {
					status.Updated = creds.LastUpdated.Format("2006-01-02 15:04:05")
				}
			}

			return writeOutput(deps.Stdout, cfg.OutputFormat, status, func(w io.Writer) error {
				fmt.Fprintf(w, "Credentials: %s\n", status.Path)
				fmt.Fprintf(w, "Key:         %s\n", status.Key)
				if !status.Stored {
					fmt.Fprintln(w, "No passwords stored.")
					return nil
				}
				for _, backend := range creds.Backends() {
					fmt.Fprintf(w, "  %-9s %s\n", backend, status.Passwords[backend])
				}
				if status.Updated != "" {
					fmt.Fprintf(w, "Updated:     %s\n", status.Updated)
				}
				return nil
			})
		},
	}
}

func newAuthClearCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all stored passwords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.NewCredentialStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if !store.Exists() {
				fmt.Fprintln(deps.Stdout, "No stored passwords.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("deleting credentials: %w", err)
			}
			fmt.Fprintln(deps.Stdout, "Stored passwords deleted.")
			return nil
		},
	}
}
