package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDataDirName   = ".casekeeper"
	DefaultLogLevel      = "info"
	LogFormatText        = "text"
	LogFormatJSON        = "json"
	ConfigFileName       = ".casekeeper.toml"
	PrimaryFileName      = "primary.db"
	SecondaryDirName     = "blobs"
	DefaultInboxStrategy = "merge"

	DefaultPrimaryCapacityBytes int64 = 5 << 20
	DefaultSecondaryEnabled           = true
	DefaultLoadWorkers                = 4
	DefaultBackupRetain               = 10

	// LogLevelEnvKey overrides log_level from the config file.
	LogLevelEnvKey = "CASEKEEPER_LOG_LEVEL"
	// LogFormatEnvKey overrides log_format from the config file.
	LogFormatEnvKey = "CASEKEEPER_LOG_FORMAT"

	configDirEnvKey                   = "CASEKEEPER_CONFIG_DIR"
	dataDirEnvKey                     = "CASEKEEPER_DATA_DIR"
	attachmentAllowedMediaTypesEnvKey = "CASEKEEPER_ATTACH_ALLOWED_MEDIA_TYPES"
)

// StorageConfig configures the two storage backends.
type StorageConfig struct {
	PrimaryCapacityBytes int64 `toml:"primary_capacity_bytes"`
	SecondaryEnabled     bool  `toml:"secondary_enabled"`
	SecondaryMaxBytes    int64 `toml:"secondary_max_bytes"`
}

// AttachmentConfig defines runtime configuration for attachment handling.
type AttachmentConfig struct {
	LoadWorkers       int      `toml:"load_workers"`
	AllowedMediaTypes []string `toml:"allowed_media_types"`
}

// BackupConfig configures scheduled snapshots.
type BackupConfig struct {
	Schedule string `toml:"schedule"`
	Retain   int    `toml:"retain"`
}

// ImportConfig configures the import inbox.
type ImportConfig struct {
	InboxStrategy string `toml:"inbox_strategy"`
}

// Config defines runtime configuration for casekeeper.
type Config struct {
	DataDir     string           `toml:"data_dir"`
	LogLevel    string           `toml:"log_level"`
	LogFormat   string           `toml:"log_format"`
	Storage     StorageConfig    `toml:"storage"`
	Attachments AttachmentConfig `toml:"attachments"`
	Backup      BackupConfig     `toml:"backup"`
	Import      ImportConfig     `toml:"import"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DataDir:   "",
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatText,
		Storage: StorageConfig{
			PrimaryCapacityBytes: DefaultPrimaryCapacityBytes,
			SecondaryEnabled:     DefaultSecondaryEnabled,
		},
		Attachments: AttachmentConfig{
			LoadWorkers: DefaultLoadWorkers,
		},
		Backup: BackupConfig{
			Retain: DefaultBackupRetain,
		},
		Import: ImportConfig{
			InboxStrategy: DefaultInboxStrategy,
		},
	}
}

// PrimaryPath returns the SQLite file of the primary backend.
func (c *Config) PrimaryPath() string {
	return filepath.Join(c.DataDir, PrimaryFileName)
}

// SecondaryDir returns the Badger directory of the secondary backend.
func (c *Config) SecondaryDir() string {
	return filepath.Join(c.DataDir, SecondaryDirName)
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, ConfigFileName), true
}

var allowedKeys = []string{
	"data_dir",
	"log_level",
	"log_format",
	"storage.primary_capacity_bytes",
	"storage.secondary_enabled",
	"storage.secondary_max_bytes",
	"attachments.load_workers",
	"attachments.allowed_media_types",
	"backup.schedule",
	"backup.retain",
	"import.inbox_strategy",
}

var validLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {}, "off": {},
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "data_dir":
		return c.DataDir, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "storage.primary_capacity_bytes":
		return strconv.FormatInt(c.Storage.PrimaryCapacityBytes, 10), nil
	case "storage.secondary_enabled":
		return strconv.FormatBool(c.Storage.SecondaryEnabled), nil
	case "storage.secondary_max_bytes":
		return strconv.FormatInt(c.Storage.SecondaryMaxBytes, 10), nil
	case "attachments.load_workers":
		return strconv.Itoa(c.Attachments.LoadWorkers), nil
	case "attachments.allowed_media_types":
		return strings.Join(c.Attachments.AllowedMediaTypes, ","), nil
	case "backup.schedule":
		return c.Backup.Schedule, nil
	case "backup.retain":
		return strconv.Itoa(c.Backup.Retain), nil
	case "import.inbox_strategy":
		return c.Import.InboxStrategy, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads the config file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := GlobalPath()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if dir := strings.TrimSpace(os.Getenv(dataDirEnvKey)); dir != "" {
		cfg.DataDir = dir
	}
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, DefaultDataDirName)
		} else if cwd, err := os.Getwd(); err == nil {
			cfg.DataDir = filepath.Join(cwd, DefaultDataDirName)
		}
	}
	if level := strings.TrimSpace(os.Getenv(LogLevelEnvKey)); level != "" {
		cfg.LogLevel = level
	}
	if format := strings.TrimSpace(os.Getenv(LogFormatEnvKey)); format != "" {
		cfg.LogFormat = format
	}
	if raw := strings.TrimSpace(os.Getenv(attachmentAllowedMediaTypesEnvKey)); raw != "" {
		cfg.Attachments.AllowedMediaTypes = splitCSV(raw)
	}

	cfg.normalize()
	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "storage.primary_capacity_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "storage.secondary_max_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "attachments.load_workers":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "backup.retain":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "storage.secondary_enabled":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "log_level":
		level := strings.ToLower(value)
		if _, ok := validLogLevels[level]; !ok {
			return nil, fmt.Errorf("%s must be one of debug, info, warn, error, off", key)
		}
		return level, nil
	case "log_format":
		format := strings.ToLower(value)
		if format != LogFormatText && format != LogFormatJSON {
			return nil, fmt.Errorf("%s must be text or json", key)
		}
		return format, nil
	case "import.inbox_strategy":
		strategy := strings.ToLower(value)
		if strategy != "merge" && strategy != "replace" {
			return nil, fmt.Errorf("%s must be merge or replace", key)
		}
		return strategy, nil
	case "attachments.allowed_media_types":
		return splitCSV(value), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func (c *Config) normalize() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = LogFormatText
	}
	if c.Storage.PrimaryCapacityBytes <= 0 {
		c.Storage.PrimaryCapacityBytes = DefaultPrimaryCapacityBytes
	}
	if c.Storage.SecondaryMaxBytes < 0 {
		c.Storage.SecondaryMaxBytes = 0
	}
	if c.Attachments.LoadWorkers <= 0 {
		c.Attachments.LoadWorkers = DefaultLoadWorkers
	}
	if c.Backup.Retain < 0 {
		c.Backup.Retain = 0
	}
	c.Import.InboxStrategy = strings.ToLower(strings.TrimSpace(c.Import.InboxStrategy))
	if c.Import.InboxStrategy == "" {
		c.Import.InboxStrategy = DefaultInboxStrategy
	}
	c.Attachments.AllowedMediaTypes = normalizeConfiguredMediaTypes(c.Attachments.AllowedMediaTypes)
}

func normalizeConfiguredMediaTypes(rawValues []string) []string {
	if len(rawValues) == 0 {
		return nil
	}
	out := make([]string, 0, len(rawValues))
	seen := map[string]struct{}{}
	for _, raw := range rawValues {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(parsed))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
