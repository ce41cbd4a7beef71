package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// credentialEnvKey names the default credential in env files.
const credentialEnvKey = "GOOGLE_API_KEY"

const watchDebounce = 200 * time.Millisecond

// WatchCredential watches the env file at path and calls onChange with its
// GOOGLE_API_KEY each time the value changes. It blocks until ctx is done.
//
// The parent directory is watched so editors that replace the file by rename
// are still seen.
func WatchCredential(ctx context.Context, path string, current domain.Credential, onChange func(domain.Credential), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve env file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create env file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Debug("Failed to close env file watcher", "error", closeErr)
		}
	}()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("Watching env file for credential changes", "path", abs)

	last := current.Fingerprint()
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Env file watcher error", "error", err)

		case <-timer.C:
			cred := readCredential(abs, logger)
			if cred.Fingerprint() == last {
				continue
			}
			last = cred.Fingerprint()
			logger.Info("Default credential changed", "credential", cred)
			onChange(cred)
		}
	}
}

// readCredential returns the zero credential when the file is gone or
// unreadable.
func readCredential(path string, logger *slog.Logger) domain.Credential {
	values, err := godotenv.Read(path)
	if err != nil {
		logger.Warn("Failed to read env file", "path", path, "error", err)
		return domain.Credential{}
	}
	return domain.NewCredential(values[credentialEnvKey])
}
