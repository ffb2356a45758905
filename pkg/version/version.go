// Package version carries build metadata, overridable at link time.
package version

var (
	// Version is the fabric release version.
	Version = "0.1.0"
	// Commit is the git revision of the build.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)
