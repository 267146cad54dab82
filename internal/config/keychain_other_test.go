//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	if _, err := keychainGet(secretService, "together_api_key"); err == nil {
		t.Error("expected error before any secret is stored")
	}

	if err := keychainSet(secretService, "together_api_key", "k1"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	if err := keychainSet(secretService, "server_api_token", "t1"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	if err := keychainSet(secretService, "together_api_key", "k2"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}

	got, err := keychainGet(secretService, "together_api_key")
	if err != nil || string(got) != "k2" {
		t.Errorf("together_api_key = %q, %v", got, err)
	}
	got, err = keychainGet(secretService, "server_api_token")
	if err != nil || string(got) != "t1" {
		t.Errorf("server_api_token = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "promoai", "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSecretsFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	path := filepath.Join(dir, "promoai", "secrets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := keychainGet(secretService, "together_api_key"); err == nil {
		t.Error("expected parse error")
	}
	if err := keychainSet(secretService, "together_api_key", "x"); err == nil {
		t.Error("keychainSet should not overwrite a corrupt store")
	}
}
