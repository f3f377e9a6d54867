package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/edgard/aulabot/internal/errs"
)

// LoadConfig loads and validates configuration from, in increasing priority:
//  1. Default values
//  2. The YAML file at path (optional)
//  3. BOT_* environment variables (e.g. BOT_TELEGRAM_TOKEN)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := loadConfig(v, path); err != nil {
		return nil, errs.NewConfigError("failed to load config file", err)
	}

	cfg := newDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.NewConfigError("failed to parse config", err)
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.BaseDir, DefaultDatabaseName)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadConfig points v at the config file and the environment.
func loadConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		// SetConfigFile reports a missing file as a plain fs error.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// setDefaults registers every scalar key so that BOT_* variables can
// override it even when no config file is present.
func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("instructor.passphrase", "")
	v.SetDefault("instructor.passphrase_hash", "")

	v.SetDefault("moderation.relevance_threshold", DefaultRelevanceThreshold)
	v.SetDefault("moderation.ban_threshold", DefaultBanThreshold)

	v.SetDefault("session.timeout", DefaultSessionTimeout)
	v.SetDefault("cache.cooldown", DefaultCacheCooldown)

	v.SetDefault("storage.base_dir", DefaultBaseDir)
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.archive_media", DefaultArchiveMedia)

	v.SetDefault("export.partition_size", DefaultExportPartitionSize)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.system_instruction", DefaultGeminiInstruction)
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay_seconds", DefaultGeminiRetryDelaySeconds)

	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", DefaultLogJSON)
}

// newDefaultConfig returns a Config holding the defaults that have no
// scalar viper key (messages, task map).
func newDefaultConfig() *Config {
	return &Config{
		Messages:  DefaultMessages,
		Scheduler: SchedulerConfig{Tasks: maps.Clone(DefaultTasks)},
	}
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return errs.NewConfigError("configuration validation failed", err)
	}
	return nil
}
