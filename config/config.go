// Package config loads and serializes the configuration of an XCP Lite
// server instance: transport settings, queue sizing, calibration segment
// and event declarations, and logging preferences.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	mu sync.RWMutex

	Transport TransportConfig `yaml:"transport" json:"transport"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Identity  IdentityConfig  `yaml:"identity" json:"identity"`
	Segments  []SegmentConfig `yaml:"segments" json:"segments"`
	Events    []EventConfig   `yaml:"events" json:"events"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`

	path string
}

// TransportConfig selects the Ethernet transport and its framing limits.
type TransportConfig struct {
	Proto      string `yaml:"proto" json:"proto"` // "udp" or "tcp"
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	MaxCTO     uint16 `yaml:"max_cto" json:"maxCto"`
	MaxDTO     uint16 `yaml:"max_dto" json:"maxDto"`
}

// QueueConfig sizes the outgoing DTO packet queue.
type QueueConfig struct {
	SizeBytes uint32 `yaml:"size_bytes" json:"sizeBytes"`
}

// IdentityConfig carries the GET_ID response contents.
type IdentityConfig struct {
	EPK string `yaml:"epk" json:"epk"`
}

// SegmentConfig declares one calibration segment to create at startup.
type SegmentConfig struct {
	Name       string `yaml:"name" json:"name"`
	SizeBytes  uint16 `yaml:"size_bytes" json:"sizeBytes"`
	FreezeFile string `yaml:"freeze_file" json:"freezeFile"`
}

// EventConfig declares one sampling event to create at startup.
type EventConfig struct {
	Name        string `yaml:"name" json:"name"`
	CycleHintMs uint16 `yaml:"cycle_hint_ms" json:"cycleHintMs"`
}

// LoggingConfig controls the rotating CSV session/overflow log.
type LoggingConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Path           string `yaml:"path" json:"path"`
	MaxRowsPerFile int    `yaml:"max_rows_per_file" json:"maxRowsPerFile"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Proto:      "udp",
			ListenAddr: ":5555",
			MaxCTO:     255,
			MaxDTO:     1468,
		},
		Queue: QueueConfig{
			SizeBytes: 256 * 1024,
		},
		Identity: IdentityConfig{
			EPK: "XCP-LITE 1.0",
		},
		Logging: LoggingConfig{
			Enabled:        false,
			Path:           "/var/log/xcp-lite",
			MaxRowsPerFile: 100000,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: XCP_PROTO, XCP_LISTEN_ADDR, XCP_MAX_CTO, XCP_MAX_DTO,
// XCP_QUEUE_SIZE, XCP_EPK, LOG_ENABLED, LOG_PATH.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("XCP_PROTO"); v != "" {
		c.Transport.Proto = v
	}
	if v := os.Getenv("XCP_LISTEN_ADDR"); v != "" {
		c.Transport.ListenAddr = v
	}
	if v := os.Getenv("XCP_MAX_CTO"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.MaxCTO = uint16(n)
		}
	}
	if v := os.Getenv("XCP_MAX_DTO"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.MaxDTO = uint16(n)
		}
	}
	if v := os.Getenv("XCP_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.SizeBytes = uint32(n)
		}
	}
	if v := os.Getenv("XCP_EPK"); v != "" {
		c.Identity.EPK = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/xcp-lite/config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for diagnostics/monitoring endpoints.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON update by deep-merging incoming
// fields into the existing config.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
