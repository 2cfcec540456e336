package buildinfo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/otherjamesbrown/mediaref/pkg/buildinfo"
)

func TestHandler(t *testing.T) {
	handler := buildinfo.Handler(buildinfo.ServiceName)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var info buildinfo.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
	if info.ServiceName != buildinfo.ServiceName {
		t.Errorf("Expected service_name %q, got %q", buildinfo.ServiceName, info.ServiceName)
	}
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Expected populated build fields, got %+v", info)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("Expected go_version to start with 'go', got '%s'", info.GoVersion)
	}
}

func TestHandler_RejectsWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	buildinfo.Handler(buildinfo.ServiceName)(rec, httptest.NewRequest(http.MethodPost, "/version", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, HEAD" {
		t.Errorf("Allow = %q", allow)
	}
}
