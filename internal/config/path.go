package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath overrides the config file location when --config is unset.
const EnvConfigPath = "CRAFTGATE_CONFIG"

// baseName is the file stem searched for during discovery.
const baseName = "craftgate"

// discoveryExts is the discovery order within one directory.
var discoveryExts = []string{".toml", ".yaml", ".yml", ".jsonc", ".json"}

// ErrNoConfigFile is returned by DiscoverConfigPath when a directory holds
// none of the candidate files.
var ErrNoConfigFile = errors.New("config: no config file found")

//go:embed templates/craftgate.toml templates/craftgate.yaml templates/craftgate.jsonc
var templates embed.FS

type ConfigPathSource string

const (
	ConfigPathSourceFlag    ConfigPathSource = "flag"
	ConfigPathSourceEnv     ConfigPathSource = "env"
	ConfigPathSourceCWD     ConfigPathSource = "cwd"
	ConfigPathSourceDefault ConfigPathSource = "default"
)

type ResolvedConfigPath struct {
	Path   string
	Source ConfigPathSource
}

// ResolveConfigPath picks the config file: the flag value, then
// $CRAFTGATE_CONFIG, then a craftgate.{toml,yaml,yml,jsonc,json} in the
// working directory, then the per-user default location.
func ResolveConfigPath(flagPath string) (ResolvedConfigPath, error) {
	explicit := []struct {
		value  string
		source ConfigPathSource
	}{
		{flagPath, ConfigPathSourceFlag},
		{os.Getenv(EnvConfigPath), ConfigPathSourceEnv},
	}
	for _, e := range explicit {
		v := strings.TrimSpace(e.value)
		if v == "" {
			continue
		}
		p, err := expandExplicit(v)
		if err != nil {
			return ResolvedConfigPath{}, err
		}
		return ResolvedConfigPath{Path: p, Source: e.source}, nil
	}

	if p, err := DiscoverConfigPath("."); err == nil {
		return ResolvedConfigPath{Path: p, Source: ConfigPathSourceCWD}, nil
	}

	p, err := DefaultConfigPath()
	if err != nil {
		return ResolvedConfigPath{}, err
	}
	return ResolvedConfigPath{Path: p, Source: ConfigPathSourceDefault}, nil
}

// expandExplicit turns a user-supplied path into a file path. Directories
// are searched like the working directory; a missing extensionless path
// becomes a .toml file.
func expandExplicit(p string) (string, error) {
	p = filepath.Clean(p)

	fi, err := os.Stat(p)
	switch {
	case err == nil && fi.IsDir():
		if found, derr := DiscoverConfigPath(p); derr == nil {
			return found, nil
		}
		return filepath.Join(p, baseName+".toml"), nil
	case err == nil:
		return p, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("config: stat %s: %w", p, err)
	}

	if filepath.Ext(p) == "" {
		p += ".toml"
	}
	return p, nil
}

// DiscoverConfigPath returns the first regular file among
// CandidateConfigPaths(dir).
func DiscoverConfigPath(dir string) (string, error) {
	for _, p := range CandidateConfigPaths(dir) {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoConfigFile, dir)
}

func CandidateConfigPaths(dir string) []string {
	out := make([]string, 0, len(discoveryExts))
	for _, ext := range discoveryExts {
		out = append(out, filepath.Join(dir, baseName+ext))
	}
	return out
}

// DefaultConfigPath is <user config dir>/craftgate/craftgate.toml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err == nil && strings.TrimSpace(dir) == "" {
		err = errors.New("empty")
	}
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, baseName, baseName+".toml"), nil
}

// EnsureConfigFile writes a starter config to path unless something already
// exists there. created reports whether a file was written.
func EnsureConfigFile(path string) (created bool, err error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, errors.New("config: empty config path")
	}

	switch fi, err := os.Stat(path); {
	case err == nil && fi.Mode().IsRegular():
		return false, nil
	case err == nil:
		return false, fmt.Errorf("config: %s exists but is not a regular file", path)
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("config: stat %s: %w", path, err)
	}

	body, err := templateFor(path)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}

	// O_EXCL: a file created concurrently wins.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("config: create %s: %w", path, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("config: close %s: %w", path, err)
	}
	return true, nil
}

func templateFor(path string) ([]byte, error) {
	var name string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		name = "templates/craftgate.toml"
	case ".yaml", ".yml":
		name = "templates/craftgate.yaml"
	case ".jsonc", ".json":
		name = "templates/craftgate.jsonc"
	default:
		return nil, fmt.Errorf("config: unsupported config extension %q", ext)
	}
	return templates.ReadFile(name)
}
