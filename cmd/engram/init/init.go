// Package initcmder provides the init command for initializing a local
// .engram directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

const (
	dirName    = ".engram"
	configFile = "config.toml"

	fetchTimeout = 10 * time.Second
	maxPresetLen = 1 << 20
)

const initLongDesc string = `Initialize a new .engram/ directory in the current working directory.

Creates a local .engram/ directory that takes precedence over the default
~/.engram/ directory for the memory database, configuration and pending
clarification state. A config.toml with default values is written unless
one already exists.

Use --preset to write a storage preset (sqlite, postgres, memory) or
fetch a config.toml from an http(s) URL. A preset always overwrites the
existing config.toml.

This is useful for keeping a separate memory per project or directory.

Examples:
  engram init
  engram init --preset postgres
  engram init --preset https://example.com/engram/config.toml`

const initShortDesc string = "Initialize a local .engram/ directory"

type InitCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &InitCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "",
		"Storage preset ("+strings.Join(config.ValidPresetNames(), ", ")+") or URL of a config.toml")

	return cmd
}

func (c *InitCommander) run(ctx context.Context, w io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	// Resolve the preset before touching the filesystem so a bad preset
	// leaves nothing behind.
	var cfg *config.Config
	if c.preset != "" {
		cfg, err = resolvePreset(ctx, c.preset)
		if err != nil {
			return err
		}
	}

	info, err := os.Stat(dir)
	alreadyInitialized := err == nil && info.IsDir()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .engram directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	switch {
	case cfg != nil:
		if err := cfger.SaveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %s preset to %s\n", c.preset, cfger.GetTarget())

	case !fileExists(cfger.GetTarget()):
		if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
			return err
		}
	}

	if alreadyInitialized {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
		return nil
	}

	fmt.Fprintf(w, "Initialized .engram directory: %s\n", dir)
	return nil
}

func resolvePreset(ctx context.Context, preset string) (*config.Config, error) {
	if strings.HasPrefix(preset, "http://") || strings.HasPrefix(preset, "https://") {
		return fetchPreset(ctx, preset)
	}
	return config.PresetConfig(preset)
}

func fetchPreset(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPresetLen))
	if err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}

	return config.ParseConfigTOML(data)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
