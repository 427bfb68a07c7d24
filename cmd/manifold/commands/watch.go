package commands

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/manifold/pkg/engine"
)

// watchDelay debounces bursts of file events from editors and checkouts.
const watchDelay = 500 * time.Millisecond

// watchAndApply applies once and again whenever a file below paths changes,
// until ctx is cancelled. Failed runs are reported and do not stop watching.
func watchAndApply(ctx context.Context, out io.Writer, env *environment, runner *engine.Runner, paths, selectNames []string) error {
	if err := env.tel.StartMetricsServer(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if env.policies != nil && len(env.cfg.Policy.Paths) > 0 {
		if err := env.policies.Watch(ctx, env.cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := addTree(watcher, abs); err != nil {
				return err
			}
			continue
		}
		// Editors replace files on save, so the parent directory is watched.
		files[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
	}

	apply := func() {
		if err := applyOnce(ctx, out, env, runner, paths, selectNames); err != nil {
			log.Error().Err(err).Bool("transient", engine.IsTransient(err)).Msg("Apply failed, waiting for changes")
		}
	}

	apply()
	log.Info().Strs("paths", paths).Msg("Watching manifests for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if len(files) > 0 && !files[event.Name] && !watchedTree(paths, event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						log.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
				}
			}

			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Manifest change detected")
			pending = time.After(watchDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			log.Info().Msg("Manifests changed, applying")
			apply()
		}
	}
}

// addTree watches root and every directory below it.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// watchedTree reports whether name lies below one of the watched directories.
func watchedTree(paths []string, name string) bool {
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, name)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
