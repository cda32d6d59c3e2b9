package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/engram/internal/dagger"
)

const versionPkg = "github.com/papercomputeco/engram/pkg/utils"

// Build and return directory of engram binaries for every supported
// platform
func (e *Engram) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	// go-sqlite3 needs cgo, so each platform is cross compiled with zig
	platforms := []struct {
		goos, goarch, zigTarget string
	}{
		{"linux", "amd64", "x86_64-linux-musl"},
		{"linux", "arm64", "aarch64-linux-musl"},
	}

	outputs := dag.Directory()

	golang := e.goContainer().
		WithExec([]string{"apt-get", "install", "-y", "xz-utils", "curl"}).
		WithExec([]string{"sh", "-c",
			"curl -sSL https://ziglang.org/download/0.13.0/zig-linux-x86_64-0.13.0.tar.xz | tar -xJ -C /opt && ln -s /opt/zig-linux-x86_64-0.13.0/zig /usr/local/bin/zig",
		})

	for _, p := range platforms {
		path := fmt.Sprintf("%s/%s/", p.goos, p.goarch)

		build := golang.
			WithEnvVariable("GOOS", p.goos).
			WithEnvVariable("GOARCH", p.goarch).
			WithEnvVariable("CC", "zig cc -target "+p.zigTarget).
			WithExec([]string{
				"go", "build",
				"-ldflags", ldflags + " -linkmode external -extldflags -static",
				"-o", path,
				"./cli/engram",
			})

		outputs = outputs.WithDirectory(path, build.Directory(path))
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (e *Engram) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now().UTC().Format(time.RFC3339)

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X '%s.Version=%s'", versionPkg, version),
		fmt.Sprintf("-X '%s.Sha=%s'", versionPkg, commit),
		fmt.Sprintf("-X '%s.Buildtime=%s'", versionPkg, buildtime),
	}

	return e.Build(ctx, strings.Join(ldflags, " "))
}
