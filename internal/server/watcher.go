package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceTime = 100 * time.Millisecond

// statusPollInterval controls how often the working tree is polled for
// changes fsnotify's directory watches might miss (e.g. a large rewrite
// that touches many files inside one debounce window).
const statusPollInterval = 2 * time.Second

// startWatcher watches the repository's working directory and .oxen
// metadata directory for changes and rebroadcasts status/HEAD over
// WebSocket when either one moves. Unlike the teacher's .git-only watch
// (a bare git repo has no working tree to speak of), Oxen's `status` is
// defined over the working tree, so the watch root is the repo root, not
// just its metadata directory.
func (s *Server) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	root := s.session.Repo().WorkDir()
	walkAndWatch(watcher, root, s)

	s.wg.Add(1)
	go s.statusPollLoop()

	s.wg.Add(1)
	go s.watchLoop(watcher)

	s.logger.Info("Watching repository for changes", "root", root)
	return nil
}

// walkAndWatch adds fsnotify watches to dir and all its non-ignored
// subdirectories. Missing directories are silently skipped.
func walkAndWatch(watcher *fsnotify.Watcher, dir string, s *Server) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if !fi.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == ".oxen" || strings.HasPrefix(base, ".") && path != dir {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			s.logger.Warn("Failed to watch directory", "dir", path, "err", addErr)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to walk working directory", "dir", dir, "err", err)
	}

	// .oxen/refs (branch/ref updates) is watched separately since the main
	// walk above skips it outright.
	refsDir := filepath.Join(dir, ".oxen", "refs")
	walkAndWatchPlain(watcher, refsDir, s)
}

func walkAndWatchPlain(watcher *fsnotify.Watcher, dir string, s *Server) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if fi.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				s.logger.Warn("Failed to watch directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to walk refs directory", "dir", dir, "err", err)
	}
}

// statusPollLoop periodically recomputes working tree status and HEAD and
// broadcasts if either changed. This catches changes fsnotify's debounced
// event stream might coalesce away.
func (s *Server) statusPollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.session.refreshAndBroadcast()
		}
	}
}

func (s *Server) watchLoop(watcher *fsnotify.Watcher) {
	defer s.wg.Done()
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Error("Failed to close watcher", "err", err)
		}
	}()

	var debounceTimer *time.Timer

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if shouldIgnoreEvent(event) {
				continue
			}

			s.logger.Debug("Change detected", "file", filepath.Base(event.Name), "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceTime, func() {
				if s.ctx.Err() != nil {
					return
				}
				s.session.refreshAndBroadcast()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Watcher error", "err", err)
		}
	}
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := event.Name

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if strings.Contains(path, "/workspaces/") {
		return true
	}
	if base == "config.toml" {
		return true
	}
	return false
}
