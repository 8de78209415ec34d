package web

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

const cpuTempPath = "/sys/class/thermal/thermal_zone0/temp"

type BuildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

// DiskSnapshot describes the filesystem holding the session logs.
type DiskSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	AvailBytes uint64 `json:"avail_bytes"`
	LastError  string `json:"last_error,omitempty"`
}

type SystemSnapshot struct {
	Build      BuildInfo     `json:"build"`
	Disk       *DiskSnapshot `json:"disk,omitempty"`
	LocalAddrs []string      `json:"local_addrs,omitempty"`
	// CPUTempC is nil where the thermal zone is unavailable.
	CPUTempC *float64 `json:"cpu_temp_c,omitempty"`
}

func buildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}

func systemSnapshot(logDir string) SystemSnapshot {
	out := SystemSnapshot{Build: buildInfo(), LocalAddrs: localInterfaceAddrs()}
	if logDir != "" {
		out.Disk = snapshotDisk(logDir)
	}
	if c, err := readCPUTempC(cpuTempPath); err == nil {
		out.CPUTempC = &c
	}
	return out
}

// parseCPUTempC accepts millidegrees, which is what Linux reports, or
// whole degrees.
func parseCPUTempC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("web: cpu temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("web: parse cpu temp %q: %w", s, err)
	}
	if n > 1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

func readCPUTempC(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("web: read cpu temp: %w", err)
	}
	return parseCPUTempC(string(b))
}
