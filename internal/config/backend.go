package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigBackend abstracts persistent config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "shelfrec-data"
		}
	}
	return filepath.Join(dir, "shelfrec")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "shelfrec", "config.yaml")
}

// DefaultPath returns the config file location used by Load.
func DefaultPath() string {
	return configFilePath()
}

// fileBackend stores config as nested YAML, keyed by dotted paths
// ("catalog.page_size" maps to catalog: {page_size: ...}).
type fileBackend struct {
	path string
	k    *koanf.Koanf
}

func newFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, k: koanf.New(".")}
	if err := b.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return b, nil
		}
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		b.k = koanf.New(".")
	}
	return b, nil
}

func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := b.k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if !b.k.Exists(key) {
		return "", false, nil
	}
	return b.k.String(key), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if !b.k.Exists(key) {
		return 0, false, nil
	}
	switch v := b.k.Get(key).(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer", v, key)
		}
		return int(v), true, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	b.k.Delete(key)
	return b.save()
}
