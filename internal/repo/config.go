package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const configLayoutVersion = 1

// Config is the repository-level configuration persisted at
// <repo>/.oxen/config.toml (§3.5): the default branch, remote definitions,
// and the local commit-author identity. Remote access tokens are kept out
// of this file and instead live per-host in hosts.toml (see hosts.go),
// matching the teacher's practice of never committing secrets alongside
// repo-local state that might get copied or shared.
type Config struct {
	DefaultBranch         string            `toml:"default_branch"`
	Author                ConfigAuthor      `toml:"author"`
	Remotes               map[string]Remote `toml:"remotes"`
	WorktreeLayoutVersion int               `toml:"worktree_layout_version"`
}

// ConfigAuthor is the identity stamped onto commits made from this working
// copy, absent an override.
type ConfigAuthor struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// Remote is one named remote endpoint (§6.3's wire protocol target).
type Remote struct {
	URL string `toml:"url"`
}

func defaultConfig() Config {
	return Config{
		DefaultBranch:         "main",
		Remotes:               map[string]Remote{},
		WorktreeLayoutVersion: configLayoutVersion,
	}
}

// loadConfig reads <oxenDir>/config.toml, returning a default Config if the
// file doesn't exist yet (a freshly `init`ed repo).
func loadConfig(oxenDir string) (Config, error) {
	path := filepath.Join(oxenDir, "config.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("repo: reading config: %w", err)
	}

	cfg := defaultConfig()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("repo: parsing config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveConfig writes cfg to <oxenDir>/config.toml, overwriting any prior
// content.
func saveConfig(oxenDir string, cfg Config) error {
	path := filepath.Join(oxenDir, "config.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("repo: writing config: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("repo: encoding config: %w", err)
	}
	return nil
}

// SetRemote adds or replaces a named remote and persists the change.
func (r *Repository) SetRemote(name, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Remotes[name] = Remote{URL: url}
	return saveConfig(r.oxenDir, r.config)
}

// RemoveRemote deletes a named remote and persists the change.
func (r *Repository) RemoveRemote(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.config.Remotes, name)
	return saveConfig(r.oxenDir, r.config)
}

// Remote looks up a named remote.
func (r *Repository) Remote(name string) (Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.config.Remotes[name]
	return rem, ok
}

// Remotes lists every configured remote name.
func (r *Repository) Remotes() map[string]Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Remote, len(r.config.Remotes))
	for k, v := range r.config.Remotes {
		out[k] = v
	}
	return out
}

// DefaultBranch reports the branch `init` creates HEAD pointing at.
func (r *Repository) DefaultBranch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.DefaultBranch
}

// Author reports the configured commit author identity.
func (r *Repository) Author() ConfigAuthor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Author
}

// SetAuthor updates the configured commit author identity and persists it.
func (r *Repository) SetAuthor(name, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Author = ConfigAuthor{Name: name, Email: email}
	return saveConfig(r.oxenDir, r.config)
}
