// Package version is filled in at build time with -ldflags -X.
package version

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
