package buildinfo

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, settings ...debug.BuildSetting) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
	t.Cleanup(func() { readBuildInfo = orig })
}

func withoutBuildInfo(t *testing.T) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestGet_ReturnsCorrectDefaults(t *testing.T) {
	withoutBuildInfo(t)
	info := Get("test-svc")

	if info.ServiceName != "test-svc" {
		t.Errorf("expected ServiceName='test-svc', got %q", info.ServiceName)
	}
	if info.Version != "dev" {
		t.Errorf("expected Version='dev', got %q", info.Version)
	}
	if info.Commit != "unknown" {
		t.Errorf("expected Commit='unknown', got %q", info.Commit)
	}
	if info.BuildTime != "unknown" {
		t.Errorf("expected BuildTime='unknown', got %q", info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected GoVersion=%q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestGet_FallsBackToVCSStamp(t *testing.T) {
	withBuildInfo(t,
		debug.BuildSetting{Key: "vcs.revision", Value: "4c1d9e2ab77f0c"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-10-01T09:00:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)

	info := Get(ServiceName)
	if info.Commit != "4c1d9e2" {
		t.Errorf("Commit = %q, want 4c1d9e2", info.Commit)
	}
	if info.BuildTime != "2026-10-01T09:00:00Z" {
		t.Errorf("BuildTime = %q", info.BuildTime)
	}
	if !info.Modified {
		t.Error("Modified should be true")
	}
	if got := info.String(); got != "dev (4c1d9e2, 2026-10-01T09:00:00Z) dirty" {
		t.Errorf("String() = %q", got)
	}
}

func TestGet_LdflagsWinOverVCSStamp(t *testing.T) {
	withBuildInfo(t, debug.BuildSetting{Key: "vcs.revision", Value: "ffffffffffff"})
	orig := Commit
	Commit = "abc1234"
	t.Cleanup(func() { Commit = orig })

	if got := Get(ServiceName).Commit; got != "abc1234" {
		t.Errorf("Commit = %q, want abc1234", got)
	}
}

func TestString_DefaultFormat(t *testing.T) {
	withoutBuildInfo(t)
	if got := String(); got != "dev (unknown, unknown)" {
		t.Errorf("String() = %q, want %q", got, "dev (unknown, unknown)")
	}
}

func TestInfo_JSONFieldNames(t *testing.T) {
	withoutBuildInfo(t)
	data, err := json.Marshal(Get("svc"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"service_name", "version", "commit", "build_time", "go_version"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing JSON field %q", key)
		}
	}
	if _, ok := m["modified"]; ok {
		t.Error("modified should be omitted when false")
	}
}
