package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	if strings.TrimSpace(cfg.Workspace) == "" {
		v.addError("workspace", "workspace path is required")
	}

	v.validateEmbedding(&cfg.Embedding)
	v.validateStore(&cfg.Store)
	v.validateSummarizer(&cfg.Summarizer)
	v.validateCompaction(&cfg.Compaction)
	v.validateDelivery(&cfg.Delivery)
	v.validateState(&cfg.State)
	v.validateSchedule(&cfg.Schedule)
	v.validateGateway(&cfg.Gateway)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateEmbedding(cfg *EmbeddingConfig) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "hash", "ollama":
	case "openai":
		if cfg.APIKey == "" {
			v.addError("embedding.api_key", "api_key is required for the openai provider")
		}
	default:
		v.addError("embedding.provider", "provider must be one of: hash, openai, ollama")
	}

	if cfg.Dimension <= 0 {
		v.addError("embedding.dimension", "dimension must be positive")
	}
	if cfg.BatchSize < 0 {
		v.addError("embedding.batch_size", "batch_size must be non-negative")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if cfg.ChunkSize <= 0 {
		v.addError("store.chunk_size", "chunk_size must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		v.addError("store.chunk_overlap", "chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.MaxDistance <= 0 {
		v.addError("store.max_distance", "max_distance must be positive")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		v.addError("store.threshold", "threshold must be between 0 and 1")
	}
	if cfg.IndexPath == "" || cfg.MetadataPath == "" {
		v.addError("store.index_path", "index_path and metadata_path are required")
	}
}

func (v *Validator) validateSummarizer(cfg *SummarizerConfig) {
	if cfg.Hours < 1 {
		v.addError("summarizer.hours", "hours must be at least 1")
	}
	if cfg.TopTopics < 1 {
		v.addError("summarizer.top_topics", "top_topics must be at least 1")
	}
}

func (v *Validator) validateCompaction(cfg *CompactionConfig) {
	if cfg.WindowSize < 6 {
		v.addError("compaction.window_size", "window_size must be at least 6")
	}
	if cfg.InjectionBuffer < 1 {
		v.addError("compaction.injection_buffer", "injection_buffer must be at least 1")
	}
	if cfg.BriefTokens < cfg.MinSectionTokens {
		v.addError("compaction.brief_tokens", "brief_tokens must be at least min_section_tokens")
	}
}

func (v *Validator) validateDelivery(cfg *DeliveryConfig) {
	switch cfg.Backend {
	case "outbox":
		if cfg.OutboxFile == "" {
			v.addError("delivery.outbox_file", "outbox_file is required for the outbox backend")
		}
	case "telegram":
		if cfg.Telegram.Token == "" {
			v.addError("delivery.telegram.token", "token is required for the telegram backend")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("delivery.redis.addr", "addr is required for the redis backend")
		}
	default:
		v.addError("delivery.backend", "backend must be one of: outbox, telegram, redis")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "file":
		if cfg.FilePath == "" {
			v.addError("state.file_path", "file_path is required for the file backend")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("state.redis.addr", "addr is required for the redis backend")
		}
	default:
		v.addError("state.backend", "backend must be one of: file, redis")
	}
}

func (v *Validator) validateSchedule(cfg *ScheduleConfig) {
	if !cfg.Enabled {
		return
	}
	specs := map[string]string{
		"schedule.summarize": cfg.Summarize,
		"schedule.index":     cfg.Index,
		"schedule.curate":    cfg.Curate,
	}
	for field, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			v.addError(field, fmt.Sprintf("invalid cron expression: %v", err))
		}
	}
}

func (v *Validator) validateGateway(cfg *GatewayConfig) {
	if cfg.Enabled && (cfg.Port < 1 || cfg.Port > 65535) {
		v.addError("gateway.port", "port must be between 1 and 65535")
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// ValidateConfig is a convenience function to validate configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
