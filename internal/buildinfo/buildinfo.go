// Package buildinfo holds process-wide build metadata injected at link time.
package buildinfo

// Version, Commit, and BuildDate are overridden at build time via:
//
//	go build -ldflags "-X github.com/protolith-db/protolith/internal/buildinfo.Version=1.2.3 ..."
//
// They default to "dev"/"unknown" for local builds.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Header is the value sent on the protolith-version response header
// (spec.md §6.1).
func Header() string {
	return Version
}
