package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/rpc"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

func TestNewServeCommand(t *testing.T) {
	deps, _ := createTestDeps(t, testConfig(config.OutputFormatText))
	cmd := NewServeCommand(deps)
	if cmd.Use != "serve" {
		t.Errorf("Use = %q", cmd.Use)
	}
	for _, flag := range []string{"grpc-address", "metrics-address"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag %q to exist", flag)
		}
	}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func TestRunServe(t *testing.T) {
	cfg := testConfig(config.OutputFormatText)
	cfg.Server.GRPCAddress = "127.0.0.1:0"
	cfg.Server.MetricsAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	deps, _ := createTestDeps(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type addrs struct{ grpc, http net.Addr }
	ready := make(chan addrs, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, deps, cfg, func(g, h net.Addr) {
			ready <- addrs{g, h}
		})
	}()

	var bound addrs
	select {
	case bound = <-ready:
	case err := <-done:
		t.Fatalf("runServe exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + bound.http.String()

	code, body := httpGet(t, base+"/healthz")
	if code != http.StatusOK {
		t.Errorf("/healthz status = %d", code)
	}
	var health healthResponse
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("decoding /healthz: %v", err)
	}
	if health.Status != "ok" || health.Store != "memory" {
		t.Errorf("/healthz = %+v", health)
	}

	if code, body := httpGet(t, base+"/version"); code != http.StatusOK || !strings.Contains(body, "mediaref") {
		t.Errorf("/version = %d %s", code, body)
	}

	conn, err := grpc.NewClient(bound.grpc.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	hc, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if hc.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health status = %v", hc.Status)
	}

	result, err := rpc.NewResolverClient(conn).ResolveTurn(callCtx, &turn.Request{
		ConversationID: "conv-serve",
		Message:        "edit this",
		Uploads:        []media.RawMedia{{Type: media.TypeImage, URL: "https://cdn.example.com/logo.png", FileName: "logo.png"}},
	})
	if err != nil {
		t.Fatalf("ResolveTurn() error = %v", err)
	}
	if result.Context.Resolution.Method != resolver.MethodExplicitUpload {
		t.Errorf("Method = %q", result.Context.Resolution.Method)
	}

	code, body = httpGet(t, base+"/metrics")
	if code != http.StatusOK {
		t.Errorf("/metrics status = %d", code)
	}
	for _, want := range []string{"go_goroutines", "mediaref_resolutions_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServe_ListenError(t *testing.T) {
	cfg := testConfig(config.OutputFormatText)
	cfg.Server.GRPCAddress = "256.0.0.1:bad"
	cfg.Server.MetricsAddress = "127.0.0.1:0"
	deps, _ := createTestDeps(t, cfg)

	if err := runServe(context.Background(), deps, cfg, nil); err == nil {
		t.Fatal("expected listen error")
	}
}
