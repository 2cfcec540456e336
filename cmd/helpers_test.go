package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/test/bufconn"

	"github.com/otherjamesbrown/mediaref/client"
	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/credentials"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/rpc"
	"github.com/otherjamesbrown/mediaref/pkg/store"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// testEnv isolates config and credentials in a temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MEDIAREF_CONFIG_DIR", dir)
	t.Setenv(credentials.EnvEncryptionKey, testEncryptionKey)
	return dir
}

// createTestDeps returns deps serving cfg with output captured in stdout.
func createTestDeps(t *testing.T, cfg *config.Config) (*CommandDeps, *bytes.Buffer) {
	t.Helper()
	testEnv(t)
	stdout := &bytes.Buffer{}
	return &CommandDeps{
		LoadConfig: func() (*config.Config, error) {
			return cfg, nil
		},
		NewCredentialStore: credentials.NewStore,
		InitClient: func(ctx context.Context, c *config.ClientConfig) (*client.GRPCClient, error) {
			t.Fatal("InitClient called without a server configured")
			return nil, nil
		},
		NewLogger: func(*config.Config) logging.Logger {
			return logging.NewNopLogger()
		},
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
		Stdin:  strings.NewReader(""),
	}, stdout
}

func testConfig(format config.OutputFormat) *config.Config {
	cfg := config.DefaultConfig()
	cfg.OutputFormat = format
	return cfg
}

// startBufServer runs a resolver service on an in-memory listener and
// returns an InitClient that dials it.
func startBufServer(t *testing.T) func(context.Context, *config.ClientConfig) (*client.GRPCClient, error) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	st := store.NewMemoryStore()
	h := turn.NewHandler(st, resolver.NewResolver(resolver.DefaultConfig(), nil, nil, nil), turn.Options{})
	gs, _ := rpc.NewGRPCServer(rpc.NewServer(h, st, nil), rpc.ServerOptions{})
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(func() {
		gs.Stop()
		lis.Close()
	})

	return func(ctx context.Context, cfg *config.ClientConfig) (*client.GRPCClient, error) {
		opts := client.DefaultOptions()
		opts.ConnectTimeout = 5 * time.Second
		opts.Dialer = func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}
		c := client.NewGRPCClient(cfg.ServerAddress, opts)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

const testConversation = `{
  "conversation_id": "conv-file",
  "messages": [
    {
      "role": "user",
      "content": "here are my pets",
      "media": [
        {"type": "image", "url": "https://cdn.example.com/cat.png", "fileName": "cat.png"},
        {"type": "image", "url": "https://cdn.example.com/dog.png", "fileName": "dog.png"}
      ]
    },
    {"role": "assistant", "content": "Nice pictures!"}
  ]
}`

func writeConversation(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing conversation: %v", err)
	}
	return path
}
