// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

import "runtime"

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Sha       string `json:"sha"`
	Buildtime string `json:"buildtime"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Build returns the build metadata of the running binary.
func Build() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Sha:       Sha,
		Buildtime: Buildtime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
