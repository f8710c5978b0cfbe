package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movedit.yaml")
	content := `log_level: debug
media:
  audio_time_scale: 48000
flatten:
  interleave: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.Media.AudioTimeScale != 48000 {
		t.Errorf("Expected audio time scale 48000, got %d", cfg.Media.AudioTimeScale)
	}
	if cfg.Flatten.Interleave {
		t.Error("Expected interleaving off")
	}
	// unset keys keep their defaults
	if cfg.Media.VideoTimeScale != 600 || cfg.Flatten.ChunkSeconds != 0.5 {
		t.Errorf("Expected defaults to survive, got video %d chunk %v", cfg.Media.VideoTimeScale, cfg.Flatten.ChunkSeconds)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("media: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(bad); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	typo := filepath.Join(dir, "typo.yaml")
	if err := os.WriteFile(typo, []byte("flatten:\n  interleaved: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(typo); err == nil || !strings.Contains(err.Error(), "interleaved") {
		t.Errorf("Expected the unknown key to be reported, got %v", err)
	}
}

func TestLoadEmptyConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestSaveConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.MovieTimeScale = 90000
	cfg.Flatten.MovieDataFirst = true

	if err := SaveConfigFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigFile failed: %v", err)
	}
	loaded, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Expected %+v, got %+v", cfg, loaded)
	}

	if err := SaveConfigFile(DefaultConfig(), path); err == nil {
		t.Error("Expected an existing config file to be left alone")
	}
	if loaded, _ := LoadConfigFile(path); loaded.MovieTimeScale != 90000 {
		t.Errorf("Expected the first file to survive, got scale %d", loaded.MovieTimeScale)
	}
}

func TestWriteConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteConfig(&buf, DefaultConfig()); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\n  interleave: true\n") {
		t.Errorf("Expected two-space indented flatten settings, got:\n%s", buf.String())
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	t.Setenv("HOME", dir)
	t.Setenv(EnvConfigFile, "")

	if got := FindConfigFile(); got != "" && got != "/etc/movedit/config.yaml" {
		t.Errorf("Expected no config file, got %s", got)
	}

	if err := os.WriteFile("movedit.yml", []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != "movedit.yml" {
		t.Errorf("Expected movedit.yml, got %s", got)
	}

	t.Setenv(EnvConfigFile, "/elsewhere/movedit.yaml")
	if got := FindConfigFile(); got != "/elsewhere/movedit.yaml" {
		t.Errorf("Expected the environment path, got %s", got)
	}
}
