// Package version exposes the binary's version, resolved from ldflags or
// the embedded module build info.
package version

import (
	"runtime/debug"
	"strings"
)

// Populated at build time, e.g.:
//
//	-X github.com/tis24dev/pgsave/internal/version.Version=v0.3.0
//	-X github.com/tis24dev/pgsave/internal/version.Commit=abcdef1
var (
	Version = ""
	Commit  = ""
)

const devVersion = "0.0.0-dev"

// readBuildInfo is swappable in tests.
var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version: the ldflags-injected value when
// present, otherwise the main module version from the build info, otherwise
// a development placeholder. A leading "v" tag prefix is stripped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = devVersion
	}
	return strings.TrimPrefix(v, "v")
}

// Detailed returns the version with the commit hash appended when one was
// injected at build time.
func Detailed() string {
	v := String()
	if c := strings.TrimSpace(Commit); c != "" {
		return v + " (" + c + ")"
	}
	return v
}
