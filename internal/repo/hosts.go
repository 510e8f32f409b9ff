package repo

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// hostsFile is the per-user, not per-repo, token store at
// $OXEN_HOME/hosts.toml (§6.5) — `config --auth <host> <token>` writes here
// so a token survives across every repo cloned from that host, the same way
// git credential helpers scope credentials by host rather than by repo.
type hostsFile struct {
	Hosts map[string]hostEntry `toml:"hosts"`
}

type hostEntry struct {
	Token string `toml:"token"`
}

// OxenHome resolves $OXEN_HOME, defaulting to ~/.config/oxen (§6.5).
func OxenHome() string {
	if dir := os.Getenv("OXEN_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/oxen"
	}
	return filepath.Join(home, ".config", "oxen")
}

func hostsPath() string {
	return filepath.Join(OxenHome(), "hosts.toml")
}

func loadHosts() (hostsFile, error) {
	data, err := os.ReadFile(hostsPath())
	if os.IsNotExist(err) {
		return hostsFile{Hosts: map[string]hostEntry{}}, nil
	}
	if err != nil {
		return hostsFile{}, fmt.Errorf("repo: reading hosts.toml: %w", err)
	}
	var hf hostsFile
	if _, err := toml.Decode(string(data), &hf); err != nil {
		return hostsFile{}, fmt.Errorf("repo: parsing hosts.toml: %w", err)
	}
	if hf.Hosts == nil {
		hf.Hosts = map[string]hostEntry{}
	}
	return hf, nil
}

func saveHosts(hf hostsFile) error {
	dir := OxenHome()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("repo: creating %s: %w", dir, err)
	}
	f, err := os.OpenFile(hostsPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("repo: writing hosts.toml: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(hf)
}

// SetHostToken persists the bearer token used for every remote at host
// (`oxen config --auth <host> <token>`).
func SetHostToken(host, token string) error {
	hf, err := loadHosts()
	if err != nil {
		return err
	}
	hf.Hosts[host] = hostEntry{Token: token}
	return saveHosts(hf)
}

// TokenForURL looks up the stored token for remoteURL's host, honoring
// OXEN_AUTH_TOKEN as an override (§6.5).
func TokenForURL(remoteURL string) (string, error) {
	if override := os.Getenv("OXEN_AUTH_TOKEN"); override != "" {
		return override, nil
	}
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("repo: parsing remote url %q: %w", remoteURL, err)
	}
	hf, err := loadHosts()
	if err != nil {
		return "", err
	}
	return hf.Hosts[u.Host].Token, nil
}
