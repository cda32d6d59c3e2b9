package main

import (
	"context"
	"errors"
	"fmt"

	"dagger/engram/internal/dagger"
)

// CheckGoModTidy fails when "go mod tidy" would change go.mod or go.sum.
//
// +check
func (e *Engram) CheckGoModTidy(ctx context.Context) (string, error) {
	out, err := e.goContainer().
		WithExec([]string{"sh", "-c", "touch go.sum && cp go.mod /tmp/go.mod && cp go.sum /tmp/go.sum"}).
		WithExec([]string{"go", "mod", "tidy"}).
		WithExec([]string{"sh", "-c", "diff -u /tmp/go.mod go.mod && diff -u /tmp/go.sum go.sum"}).
		Stdout(ctx)

	var execErr *dagger.ExecError
	switch {
	case errors.As(err, &execErr):
		return "", fmt.Errorf("go.mod or go.sum are not tidy: run 'go mod tidy' and commit the changes\n\n%s", execErr.Stdout)
	case err != nil:
		return "", fmt.Errorf("checking go.mod: %w", err)
	}

	return fmt.Sprintf("go.mod and go.sum are tidy\n%s", out), nil
}
