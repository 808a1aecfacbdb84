// Package config loads hsmcli's YAML configuration: how to reach the
// device and which credential to authenticate with.
package config

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is hsmcli's on-disk configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ConnectionConfig selects and configures the transport.
type ConnectionConfig struct {
	Mode         string `yaml:"mode"` // "usb" or "http"
	HTTPBaseURL  string `yaml:"http_base_url,omitempty"`
	USBVendorID  string `yaml:"usb_vendor_id,omitempty"`  // hex, e.g. "0x1050"
	USBProductID string `yaml:"usb_product_id,omitempty"` // hex, e.g. "0x0030"
}

// AuthConfig names the credential hsmcli authenticates with.
type AuthConfig struct {
	AuthKeyID  uint16 `yaml:"auth_key_id"`
	EncKeyFile string `yaml:"enc_key_file"`
	MacKeyFile string `yaml:"mac_key_file"`
}

// Load reads and validates the configuration at path, resolving
// relative key file paths against the config file's own directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports whether the configuration is complete and
// internally consistent enough to open a Session.
func (c *Config) Validate() error {
	switch c.Connection.Mode {
	case "usb":
	case "http":
		if strings.TrimSpace(c.Connection.HTTPBaseURL) == "" {
			return fmt.Errorf("config.connection.http_base_url is required when mode is http")
		}
	default:
		return fmt.Errorf("config.connection.mode must be \"usb\" or \"http\", got %q", c.Connection.Mode)
	}

	if c.Auth.AuthKeyID == 0 {
		return fmt.Errorf("config.auth.auth_key_id is required")
	}
	if strings.TrimSpace(c.Auth.EncKeyFile) == "" {
		return fmt.Errorf("config.auth.enc_key_file is required")
	}
	if err := validateReadableFile(c.Auth.EncKeyFile, "config.auth.enc_key_file"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.MacKeyFile) == "" {
		return fmt.Errorf("config.auth.mac_key_file is required")
	}
	if err := validateReadableFile(c.Auth.MacKeyFile, "config.auth.mac_key_file"); err != nil {
		return err
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Auth.EncKeyFile = resolvePath(configDir, c.Auth.EncKeyFile)
	c.Auth.MacKeyFile = resolvePath(configDir, c.Auth.MacKeyFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}

// LoadKeyHexFile loads a 16-byte AES key from a file containing a
// single line of 32 hexadecimal characters.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 32 {
			return nil, fmt.Errorf("key must be 32 hex chars, got %d", len(line))
		}
		return hex.DecodeString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("key file %s is empty", path)
}

// ParseUSBID parses a hex string like "0x1050" into its numeric value.
// An empty string returns 0 (the caller's default).
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return uint16(v), nil
}
