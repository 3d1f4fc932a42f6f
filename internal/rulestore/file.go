// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rulestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
)

// FileStore keeps the rule list in a JSON file and each rule's logs in
// logs/<key>.json beside it. Edits to the rule file are picked up through
// fsnotify.
type FileStore struct {
	rulesPath string
	logsDir   string

	mu sync.Mutex // serializes writes
}

func NewFileStore(rulesPath string) (*FileStore, error) {
	if rulesPath == "" {
		return nil, errors.New("rulestore: rules file path is required")
	}
	abs, err := filepath.Abs(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("rulestore: resolve %s: %w", rulesPath, err)
	}
	dir := filepath.Dir(abs)
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("rulestore: create %s: %w", logsDir, err)
	}
	return &FileStore{rulesPath: abs, logsDir: logsDir}, nil
}

func (s *FileStore) Path() string {
	return s.rulesPath
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// writeAtomic replaces path through a rename so watchers never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) logsPath(id models.RuleID) string {
	return filepath.Join(s.logsDir, url.PathEscape(LogsKey(id))+".json")
}

func (s *FileStore) LoadRules(_ context.Context) ([]*models.Rule, error) {
	data, err := readOptional(s.rulesPath)
	if err != nil {
		return nil, err
	}
	return models.ParseRules(data)
}

// SaveRules replaces the rule file and removes the log files of rules that
// are no longer listed.
func (s *FileStore) SaveRules(ctx context.Context, rules []*models.Rule) error {
	data, err := encodeRules(rules)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, prevErr := s.LoadRules(ctx)
	if err := writeAtomic(s.rulesPath, data); err != nil {
		return err
	}
	if prevErr != nil {
		return nil
	}
	for _, id := range removedRuleIDs(previous, rules) {
		if err := os.Remove(s.logsPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("ruleID", string(id)).Msg("rulestore: failed to remove logs of deleted rule")
		}
	}
	return nil
}

func (s *FileStore) LoadLogs(_ context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error) {
	data, err := readOptional(s.logsPath(id))
	if err != nil {
		return nil, err
	}
	return models.ParseLogs(data)
}

func (s *FileStore) SaveLogs(_ context.Context, id models.RuleID, logs []models.ExecutionLogEntry) error {
	data, err := encodeLogs(logs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.logsPath(id), data)
}

// Subscribe signals whenever the content of the rule file changes. The parent
// directory is watched so atomic replacements are seen. If the watcher cannot
// be created the channel is closed after logging.
func (s *FileStore) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("rulestore: failed to create file watcher")
		close(ch)
		return ch
	}
	if err := watcher.Add(filepath.Dir(s.rulesPath)); err != nil {
		log.Error().Err(err).Str("path", s.rulesPath).Msg("rulestore: failed to watch rules file")
		_ = watcher.Close()
		close(ch)
		return ch
	}

	last := s.fileFingerprint()

	go func() {
		defer close(ch)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.rulesPath {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				current := s.fileFingerprint()
				if current != last {
					last = current
					notify(ch)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("rulestore: file watcher error")
			}
		}
	}()

	return ch
}

func (s *FileStore) fileFingerprint() uint64 {
	data, err := readOptional(s.rulesPath)
	if err != nil {
		return 0
	}
	return fingerprint(data)
}
