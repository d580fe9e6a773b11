package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CHANNEL=123456\nEMPTY=\nQUOTED=\"a b\"\nSINGLE='x y'\nexport EXPORTED=yes\n# COMMENT=no\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	for _, key := range []string{"CHANNEL", "EMPTY", "QUOTED", "SINGLE", "EXPORTED", "COMMENT"} {
		os.Unsetenv(key)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}

	if got := os.Getenv("CHANNEL"); got != "123456" {
		t.Fatalf("CHANNEL = %q, want %q", got, "123456")
	}
	if got := os.Getenv("QUOTED"); got != "a b" {
		t.Fatalf("QUOTED = %q, want %q", got, "a b")
	}
	if got := os.Getenv("SINGLE"); got != "x y" {
		t.Fatalf("SINGLE = %q, want %q", got, "x y")
	}
	if got := os.Getenv("EXPORTED"); got != "yes" {
		t.Fatalf("EXPORTED = %q, want %q", got, "yes")
	}
	if _, ok := os.LookupEnv("COMMENT"); ok {
		t.Fatalf("COMMENT should not be set from a comment line")
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CHANNEL=from_file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CHANNEL", "from_env")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("CHANNEL"); got != "from_env" {
		t.Fatalf("CHANNEL = %q, want %q", got, "from_env")
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}
