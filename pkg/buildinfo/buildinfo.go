// Package buildinfo reports the version of the running binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// ServiceName identifies mediaref in version responses.
const ServiceName = "mediaref"

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/mediaref/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/mediaref/pkg/buildinfo.Commit=4c1d9e2
// -X github.com/otherjamesbrown/mediaref/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info holds build information for a service.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
	Modified    bool   `json:"modified,omitempty" yaml:"modified,omitempty"`
}

// Get returns build info for the named service. When the binary was built
// without ldflags, commit and build time fall back to the VCS stamp that the
// Go toolchain embeds.
func Get(serviceName string) Info {
	info := Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "unknown" && s.Value != "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// String returns a human-readable one-liner like "v0.3.0 (4c1d9e2, 2026-10-01T09:00:00Z)"
func (i Info) String() string {
	s := i.Version + " (" + i.Commit + ", " + i.BuildTime + ")"
	if i.Modified {
		s += " dirty"
	}
	return s
}

// String describes the running binary.
func String() string {
	return Get(ServiceName).String()
}

// Handler returns an HTTP handler that responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get(serviceName))
	}
}
