// Package config provides configuration management for ctxkeep.
// It uses Viper for configuration loading with support for:
// - JSON/YAML/TOML files
// - Environment variables (CTXKEEP_ prefix) and .env files
// - Hot-reload
// - Default values
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// Config is the complete ctxkeep configuration. It is built once at process
// start and threaded through constructors; components never read ambient
// global state.
type Config struct {
	Workspace  string           `mapstructure:"workspace" json:"workspace"`
	Logger     LoggerConfig     `mapstructure:"logger" json:"logger"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" json:"embedding"`
	Store      StoreConfig      `mapstructure:"store" json:"store"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" json:"summarizer"`
	Compaction CompactionConfig `mapstructure:"compaction" json:"compaction"`
	Recall     RecallConfig     `mapstructure:"recall" json:"recall"`
	Delivery   DeliveryConfig   `mapstructure:"delivery" json:"delivery"`
	Tasks      TasksConfig      `mapstructure:"tasks" json:"tasks"`
	State      StateConfig      `mapstructure:"state" json:"state"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" json:"schedule"`
	Gateway    GatewayConfig    `mapstructure:"gateway" json:"gateway"`
	mu         sync.RWMutex
}

// LoggerConfig configures zap/lumberjack output.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	OutputPath  string `mapstructure:"output_path" json:"output_path"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress"`
	Development bool   `mapstructure:"development" json:"development"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of: hash, openai, ollama.
	Provider  string `mapstructure:"provider" json:"provider"`
	Model     string `mapstructure:"model" json:"model"`
	Dimension int    `mapstructure:"dimension" json:"dimension"`
	APIKey    string `mapstructure:"api_key" json:"api_key"`
	APIBase   string `mapstructure:"api_base" json:"api_base"`
	// OllamaHost is the base URL of a local Ollama server.
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`
	Timeout    int    `mapstructure:"timeout" json:"timeout"` // seconds
	BatchSize  int    `mapstructure:"batch_size" json:"batch_size"`
}

// StoreConfig configures the chunked embedding store.
type StoreConfig struct {
	IndexPath    string  `mapstructure:"index_path" json:"index_path"`
	MetadataPath string  `mapstructure:"metadata_path" json:"metadata_path"`
	ChunkSize    int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	MaxDistance  float64 `mapstructure:"max_distance" json:"max_distance"`
	SearchK      int     `mapstructure:"search_k" json:"search_k"`
	Threshold    float64 `mapstructure:"threshold" json:"threshold"`
	// EfSearch is the HNSW candidate list size used at query time.
	EfSearch int `mapstructure:"ef_search" json:"ef_search"`
}

// SummarizerConfig configures the hourly summarizer.
type SummarizerConfig struct {
	Hours     int `mapstructure:"hours" json:"hours"`
	TopTopics int `mapstructure:"top_topics" json:"top_topics"`
	MaxItems  int `mapstructure:"max_items" json:"max_items"`
}

// CompactionConfig configures the compaction injector.
type CompactionConfig struct {
	StateFile        string   `mapstructure:"state_file" json:"state_file"`
	RulesFile        string   `mapstructure:"rules_file" json:"rules_file"`
	WindowSize       int      `mapstructure:"window_size" json:"window_size"`
	InjectionBuffer  int      `mapstructure:"injection_buffer" json:"injection_buffer"`
	BriefTokens      int      `mapstructure:"brief_tokens" json:"brief_tokens"`
	MinSectionTokens int      `mapstructure:"min_section_tokens" json:"min_section_tokens"`
	LongTermSections []string `mapstructure:"long_term_sections" json:"long_term_sections"`
}

// RecallConfig points at the hot-reloadable recall settings file and the
// injection log.
type RecallConfig struct {
	ConfigFile string `mapstructure:"config_file" json:"config_file"`
	LogFile    string `mapstructure:"log_file" json:"log_file"`
}

// DeliveryConfig selects the session-messaging backend.
type DeliveryConfig struct {
	// Backend is one of: outbox, telegram, redis.
	Backend    string         `mapstructure:"backend" json:"backend"`
	OutboxFile string         `mapstructure:"outbox_file" json:"outbox_file"`
	Telegram   TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Redis      RedisConfig    `mapstructure:"redis" json:"redis"`
}

// TelegramConfig for Telegram delivery.
type TelegramConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Proxy string `mapstructure:"proxy" json:"proxy"`
}

// RedisConfig for Redis-backed delivery and state.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// TasksConfig locates the external task board.
type TasksConfig struct {
	BoardFile string `mapstructure:"board_file" json:"board_file"`
}

// StateConfig configures scheduler bookkeeping storage.
type StateConfig struct {
	// Backend is one of: file, redis.
	Backend  string      `mapstructure:"backend" json:"backend"`
	FilePath string      `mapstructure:"file_path" json:"file_path"`
	Redis    RedisConfig `mapstructure:"redis" json:"redis"`
}

// ScheduleConfig configures the daemon's cron jobs.
type ScheduleConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	Summarize     string `mapstructure:"summarize" json:"summarize"`
	Index         string `mapstructure:"index" json:"index"`
	Curate        string `mapstructure:"curate" json:"curate"`
	IndexDaysBack int    `mapstructure:"index_days_back" json:"index_days_back"`
	CurateDays    int    `mapstructure:"curate_days" json:"curate_days"`
}

// GatewayConfig for the HTTP gateway.
type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" json:"host"`
	Port    int    `mapstructure:"port" json:"port"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Workspace: filepath.Join(homeDir, ".ctxkeep", "workspace"),
		Logger: LoggerConfig{
			Level:      "info",
			OutputPath: "logs/ctxkeep.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "all-minilm",
			Dimension:  384,
			OllamaHost: "http://localhost:11434",
			Timeout:    30,
			BatchSize:  64,
		},
		Store: StoreConfig{
			IndexPath:    "memory/index/chunks.hnsw",
			MetadataPath: "memory/index/chunks.json",
			ChunkSize:    512,
			ChunkOverlap: 128,
			MaxDistance:  2.0,
			SearchK:      5,
			Threshold:    0.3,
			EfSearch:     64,
		},
		Summarizer: SummarizerConfig{
			Hours:     1,
			TopTopics: 10,
			MaxItems:  10,
		},
		Compaction: CompactionConfig{
			StateFile:        "state/sessions.json",
			WindowSize:       50,
			InjectionBuffer:  50,
			BriefTokens:      2000,
			MinSectionTokens: 400,
			LongTermSections: []string{"Identity & Purpose", "Current Projects", "Recent Decisions", "Open Action Items"},
		},
		Recall: RecallConfig{
			ConfigFile: "state/recall.json",
			LogFile:    "logs/recall.jsonl",
		},
		Delivery: DeliveryConfig{
			Backend:    "outbox",
			OutboxFile: "state/outbox.jsonl",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ctxkeep:",
			},
		},
		Tasks: TasksConfig{
			BoardFile: "tasks/board.json",
		},
		State: StateConfig{
			Backend:  "file",
			FilePath: "state/jobs.json",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ctxkeep:state:",
			},
		},
		Schedule: ScheduleConfig{
			Enabled:       true,
			Summarize:     "5 * * * *",
			Index:         "*/30 * * * *",
			Curate:        "30 23 * * *",
			IndexDaysBack: 7,
			CurateDays:    3,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18791,
		},
	}
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandPath(c.Workspace)
}

// Resolve returns p unchanged when absolute, otherwise joined to the workspace.
func (c *Config) Resolve(p string) string {
	p = expandPath(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkspacePath(), p)
}

// MemoryDir is where daily, hourly and long-term documents live.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.WorkspacePath(), "memory")
}

// SessionsDir is where the agent runtime writes raw session logs.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.WorkspacePath(), "sessions")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
