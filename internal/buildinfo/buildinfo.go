// Package buildinfo holds the version string printed by --version,
// overridable at link time via -ldflags "-X .../buildinfo.Version=...".
package buildinfo

// Version is the build-time version string. "dev" when built without
// -ldflags, matching a go install of a non-tagged commit.
var Version = "dev"

// String returns the string printed by the --version CLI flag.
func String() string {
	return "resdhcpd " + Version
}
