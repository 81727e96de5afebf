// Package version is stamped at build time:
//
//	go build -ldflags "-X github.com/fineauth/fineauth/internal/version.Version=v1.0.0"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String is the one-line form printed by --version and at startup.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
