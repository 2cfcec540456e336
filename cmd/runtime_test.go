package cmd

import (
	"context"
	"testing"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/credentials"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/store"
)

func TestDSNWithPassword(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "url without password",
			dsn:  "postgres://audit@db:5432/mediaref",
			want: "postgres://audit:s3cret@db:5432/mediaref",
		},
		{
			name: "url with password kept",
			dsn:  "postgres://audit:other@db:5432/mediaref",
			want: "postgres://audit:other@db:5432/mediaref",
		},
		{
			name: "url without user unchanged",
			dsn:  "postgres://db:5432/mediaref",
			want: "postgres://db:5432/mediaref",
		},
		{
			name: "key value",
			dsn:  "host=db user=audit dbname=mediaref",
			want: "host=db user=audit dbname=mediaref password='s3cret'",
		},
		{
			name: "key value with password kept",
			dsn:  "host=db password=other",
			want: "host=db password=other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dsnWithPassword(tt.dsn, "s3cret"); got != tt.want {
				t.Errorf("dsnWithPassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func saveTestPasswords(t *testing.T, passwords map[string]string) {
	t.Helper()
	cs, err := credentials.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for backend, pw := range passwords {
		if err := cs.SetPassword(backend, pw); err != nil {
			t.Fatalf("SetPassword(%s) error = %v", backend, err)
		}
	}
}

func TestApplyStoredSecrets(t *testing.T) {
	testEnv(t)
	saveTestPasswords(t, map[string]string{
		credentials.BackendRedis:    "redis-pw",
		credentials.BackendPostgres: "pg-pw",
		credentials.BackendAudit:    "audit-pw",
	})

	cfg := config.DefaultConfig()
	cfg.Store.Backend = store.BackendPostgres
	cfg.Store.Postgres.Password = "from-env"
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = "postgres://audit@db/mediaref"

	applyStoredSecrets(cfg, credentials.NewStore, logging.NewNopLogger())

	if cfg.Store.Postgres.Password != "from-env" {
		t.Errorf("Postgres password = %q, environment value should win", cfg.Store.Postgres.Password)
	}
	if cfg.Store.Redis.Password != "redis-pw" {
		t.Errorf("Redis password = %q, want redis-pw", cfg.Store.Redis.Password)
	}
	if cfg.Audit.DSN != "postgres://audit:audit-pw@db/mediaref" {
		t.Errorf("Audit DSN = %q", cfg.Audit.DSN)
	}
}

func TestApplyStoredSecrets_MemoryBackendSkipsStore(t *testing.T) {
	cfg := config.DefaultConfig()
	called := false
	applyStoredSecrets(cfg, func() (*credentials.Store, error) {
		called = true
		return nil, credentials.ErrNoCredentials
	}, logging.NewNopLogger())

	if called {
		t.Error("credential store opened for the memory backend")
	}
}

func TestApplyStoredSecrets_NoCredentials(t *testing.T) {
	testEnv(t)
	cfg := config.DefaultConfig()
	cfg.Store.Backend = store.BackendRedis

	applyStoredSecrets(cfg, credentials.NewStore, logging.NewNopLogger())

	if cfg.Store.Redis.Password != "" {
		t.Errorf("Redis password = %q, want empty", cfg.Store.Redis.Password)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "etcd"
	if _, err := openStore(context.Background(), cfg, logging.NewNopLogger(), nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewRuntime_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	rt, err := newRuntime(context.Background(), cfg, logging.NewNopLogger(), runtimeOptions{})
	if err != nil {
		t.Fatalf("newRuntime() error = %v", err)
	}
	defer rt.Close()

	if _, ok := rt.Store.(*store.MemoryStore); !ok {
		t.Errorf("Store = %T, want *store.MemoryStore", rt.Store)
	}
	if rt.Handler == nil || rt.Resolver == nil {
		t.Fatal("runtime is missing its handler or resolver")
	}
	if err := rt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
