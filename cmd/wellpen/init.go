package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/wellpen/internal/defaults"
	defaulttalents "github.com/nugget/wellpen/talents"
)

// runInit writes a starter config.yaml and the shipped talent files into
// dir. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Wellpen workspace in %s\n", dir)

	for _, sub := range []string{"data", "talents"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	err := fs.WalkDir(defaulttalents.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		data, err := defaulttalents.FS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", path, err)
		}
		dest := filepath.Join(dir, "talents", d.Name())
		if err := writeIfMissing(dest, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", dest)
		return nil
	})
	if err != nil {
		return fmt.Errorf("install talents: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to choose models, then run: wellpen chat")
	return nil
}

// writeIfMissing writes content to path only if nothing exists there.
// The config may hold API keys and is written 0600.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}
