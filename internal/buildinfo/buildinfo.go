// Package buildinfo carries the version identity stamped into the
// binary by the release build's -ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at link time; the zero build is "dev".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime reports how long this process has been running, rounded to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// String renders the identity as a single log-friendly line.
func String() string {
	return fmt.Sprintf("Docket %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent is the value outbound HTTP requests identify themselves with.
func UserAgent() string {
	return fmt.Sprintf("Docket/%s (+https://github.com/nugget/docket-ai-agent)", Version)
}

// Info returns the build and runtime facts as a map, in the shape the
// version endpoint and -version flag print.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}
