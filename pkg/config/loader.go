package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ctxkeep/pkg/fileutil"
)

// ConfigPathEnv overrides the config file location when no explicit path is given.
const ConfigPathEnv = "CTXKEEP_CONFIG_FILE"

// Loader handles configuration loading with Viper.
type Loader struct {
	viper *viper.Viper
	path  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("json")

	v.SetEnvPrefix("CTXKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{viper: v}
}

// Load loads the configuration from file, .env and environment variables.
// If configPath is empty, CTXKEEP_CONFIG_FILE and then ~/.ctxkeep/config.json
// are used. A missing file is created with defaults.
func (l *Loader) Load(configPath string) (*Config, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	explicitPath := configPath != ""

	resolvedPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	l.path = resolvedPath

	// .env files only fill variables that are not already set.
	_ = godotenv.Load(filepath.Join(filepath.Dir(resolvedPath), ".env"))
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if explicitPath {
		// Keep -c config colocated with its workspace by default.
		cfg.Workspace = filepath.Join(filepath.Dir(resolvedPath), "workspace")
	}
	if err := registerDefaults(l.viper, cfg); err != nil {
		return nil, err
	}

	l.viper.SetConfigFile(resolvedPath)
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := SaveToFile(cfg, resolvedPath); err != nil {
			return nil, fmt.Errorf("creating config file: %w", err)
		}
	}

	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvFallbacks(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	return l.Load(path)
}

// Save writes cfg to path atomically as JSON.
func (l *Loader) Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	if err := fileutil.WriteJSONAtomic(path, cfg, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveToFile is a convenience function to save config without creating a Loader.
func SaveToFile(cfg *Config, path string) error {
	return NewLoader().Save(path, cfg)
}

// GetConfigHome returns the default config directory.
func GetConfigHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".ctxkeep"), nil
}

// GetConfigPath returns the path of the loaded config file.
func (l *Loader) GetConfigPath() string {
	if used := l.viper.ConfigFileUsed(); used != "" {
		return used
	}
	return l.path
}

// EnsureWorkspace creates the workspace directory layout if it doesn't exist.
func (c *Config) EnsureWorkspace() error {
	workspace := c.WorkspacePath()
	if workspace == "" {
		return fmt.Errorf("workspace path not set")
	}

	subdirs := []string{"", "sessions", "state", "logs", "memory", "memory/hourly", "memory/index", "tasks"}
	for _, subdir := range subdirs {
		path := filepath.Join(workspace, subdir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", path, err)
		}
	}
	return nil
}

func resolveConfigPath(configPath string) (string, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		home, err := GetConfigHome()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, "config.json")
	}
	abs, err := filepath.Abs(expandPath(path))
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return abs, nil
}

// registerDefaults teaches viper every key so AutomaticEnv can override keys
// absent from the file.
func registerDefaults(v *viper.Viper, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

// applyEnvFallbacks fills secrets from the conventional provider variables
// when the config leaves them empty.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Delivery.Telegram.Token == "" {
		cfg.Delivery.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && cfg.Embedding.Provider == "ollama" && cfg.Embedding.OllamaHost == DefaultConfig().Embedding.OllamaHost {
		cfg.Embedding.OllamaHost = host
	}
}
