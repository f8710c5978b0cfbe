package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names a config file that takes precedence over the search path.
const EnvConfigFile = "MOVEDIT_CONFIG"

// LoadConfigFile reads a YAML file over the defaults. Keys that match no
// setting are an error so a misspelt option is not silently ignored.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// FindConfigFile returns $MOVEDIT_CONFIG when set, else the first existing
// file among the working directory, ~/.movedit and /etc/movedit. An empty
// result means run on defaults.
func FindConfigFile() string {
	if path := os.Getenv(EnvConfigFile); path != "" {
		return path
	}

	locations := []string{"movedit.yaml", "movedit.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".movedit")
		locations = append(locations, filepath.Join(dir, "config.yaml"), filepath.Join(dir, "config.yml"))
	}
	locations = append(locations, "/etc/movedit/config.yaml")

	for _, path := range locations {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// WriteConfig encodes cfg as YAML with two-space indentation.
func WriteConfig(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// SaveConfigFile writes cfg to a new file at path, creating its directory.
// An existing file is left alone.
func SaveConfigFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := WriteConfig(f, cfg); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
