//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsFile_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet("mdpress", "auth_api_key"); err == nil {
		t.Fatal("expected error for missing secret")
	}

	if err := keychainSet("mdpress", "auth_api_key", "s3cret"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	if err := keychainSet("mdpress", "dify_api_key", "app-1"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}

	got, err := keychainGet("mdpress", "auth_api_key")
	if err != nil {
		t.Fatalf("keychainGet: %v", err)
	}
	if string(got) != "s3cret" {
		t.Errorf("secret = %q, want s3cret", got)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}

	// An empty value removes the secret.
	if err := keychainSet("mdpress", "auth_api_key", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := keychainGet("mdpress", "auth_api_key"); err == nil {
		t.Error("expected removed secret to be missing")
	}
	if got, _ := keychainGet("mdpress", "dify_api_key"); string(got) != "app-1" {
		t.Errorf("other secret = %q, want app-1", got)
	}
}

func TestSecretsFile_Corrupt(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := keychainGet("mdpress", "auth_api_key"); err == nil {
		t.Error("expected parse error")
	}
	if err := keychainSet("mdpress", "auth_api_key", "x"); err == nil {
		t.Error("expected set to refuse overwriting a corrupt file")
	}
}
