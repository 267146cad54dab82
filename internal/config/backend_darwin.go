//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.promoai.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "promoai")
	}
	return "promoai-data"
}

// defaultsBackend keeps settings in the user defaults database. Values are
// read once per key and cached; writes update the cache.
type defaultsBackend struct {
	domain string
	run    func(args ...string) ([]byte, error)
	cache  map[string]string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{
		domain: defaultsDomain,
		run: func(args ...string) ([]byte, error) {
			return exec.Command("defaults", args...).CombinedOutput()
		},
		cache: make(map[string]string),
	}
}

// lookup returns the raw value of key. A missing key is not an error.
func (b *defaultsBackend) lookup(key string) (string, bool, error) {
	if v, ok := b.cache[key]; ok {
		return v, true, nil
	}
	out, err := b.run("read", b.domain, key)
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w: %s", b.domain, key, err, s)
	}
	b.cache[key] = s
	return s, true, nil
}

func (b *defaultsBackend) write(key, typ, val string) error {
	if out, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s %s: %w: %s", b.domain, key, err, strings.TrimSpace(string(out)))
	}
	b.cache[key] = val
	return nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	return b.lookup(key)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.lookup(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	delete(b.cache, key)
	if _, ok, err := b.lookup(key); err != nil || !ok {
		return err
	}
	delete(b.cache, key)
	_, err := b.run("delete", b.domain, key)
	return err
}
