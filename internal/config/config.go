// Package config manages application configuration from config.yaml,
// BOT_* environment variables and default values.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"
)

// Config is the root configuration of the bot.
type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Instructor InstructorConfig `mapstructure:"instructor"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Session    SessionConfig    `mapstructure:"session"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Concepts   ConceptsConfig   `mapstructure:"concepts"`
	NLU        NLUConfig        `mapstructure:"nlu"`
	Export     ExportConfig     `mapstructure:"export"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Messages   MessagesConfig   `mapstructure:"messages"`
}

// TelegramConfig holds the bot credentials. BotInfo is filled at runtime
// from GetMe and is never read from configuration.
type TelegramConfig struct {
	Token   string       `mapstructure:"token" validate:"required"`
	BotInfo *models.User `mapstructure:"-"`
}

// InstructorConfig holds the registration passphrase. Either the plain
// passphrase or its bcrypt hash must be set, not both.
type InstructorConfig struct {
	Passphrase     string `mapstructure:"passphrase"      validate:"required_without=PassphraseHash,excluded_with=PassphraseHash"`
	PassphraseHash string `mapstructure:"passphrase_hash" validate:"required_without=Passphrase"`
}

// ModerationConfig holds the scoring thresholds.
type ModerationConfig struct {
	RelevanceThreshold float64 `mapstructure:"relevance_threshold" validate:"gte=0,lte=1"`
	BanThreshold       int     `mapstructure:"ban_threshold"       validate:"gte=1"`
}

// SessionConfig holds the instructor session settings.
type SessionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=1m"`
}

// CacheConfig holds the group context cache settings.
type CacheConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	BaseDir      string `mapstructure:"base_dir"      validate:"required"`
	DatabasePath string `mapstructure:"database_path"`
	ArchiveMedia bool   `mapstructure:"archive_media"`
}

// ConceptsConfig lists the question-answering knowledge sources: JSON
// files or http(s) URLs.
type ConceptsConfig struct {
	Sources []string `mapstructure:"sources" validate:"dive,required"`
}

// NLUConfig lists extra plain-text word lists used to train the vocabulary.
type NLUConfig struct {
	VocabularyFiles []string `mapstructure:"vocabulary_files" validate:"dive,required"`
}

// ExportConfig holds conversation export settings.
type ExportConfig struct {
	PartitionSize int `mapstructure:"partition_size" validate:"gte=1"`
}

// GeminiConfig holds the generative answer settings. An empty APIKey
// disables generative answers.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	ModelName         string  `mapstructure:"model_name"          validate:"required_with=APIKey"`
	Temperature       float32 `mapstructure:"temperature"         validate:"gte=0,lte=2"`
	SystemInstruction string  `mapstructure:"system_instruction"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// SchedulerConfig maps task names to their cron schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures one recurring task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// LoggerConfig holds the slog settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// MessagesConfig holds every user-facing notice outside the instructor
// menu. Format verbs are documented next to each default in defaults.go.
type MessagesConfig struct {
	StudentWelcome       string `mapstructure:"student_welcome"        validate:"required"`
	InstructorRegistered string `mapstructure:"instructor_registered"  validate:"required"`
	GeneralError         string `mapstructure:"general_error"          validate:"required"`
	SessionExpired       string `mapstructure:"session_expired"        validate:"required"`
	ScoldGreeting        string `mapstructure:"scold_greeting"         validate:"required"`
	ScoldRule            string `mapstructure:"scold_rule"             validate:"required"`
	ScoldDetail          string `mapstructure:"scold_detail"           validate:"required"`
	ScoldWarning         string `mapstructure:"scold_warning"          validate:"required"`
	BanGreeting          string `mapstructure:"ban_greeting"           validate:"required"`
	BanNotice            string `mapstructure:"ban_notice"             validate:"required"`
	GroupWelcome         string `mapstructure:"group_welcome"          validate:"required"`
	GroupHint            string `mapstructure:"group_hint"             validate:"required"`
	GroupExample         string `mapstructure:"group_example"          validate:"required"`
	BotJoined            string `mapstructure:"bot_joined"             validate:"required"`
	BotNeedsAdmin        string `mapstructure:"bot_needs_admin"        validate:"required"`
	AnswerWait           string `mapstructure:"answer_wait"            validate:"required"`
	AnswerFound          string `mapstructure:"answer_found"           validate:"required"`
	AnswerNotFound       string `mapstructure:"answer_not_found"       validate:"required"`
	AnnouncementPreamble string `mapstructure:"announcement_preamble"  validate:"required"`
	ReadmitInvite        string `mapstructure:"readmit_invite"         validate:"required"`
	ExportCaption        string `mapstructure:"export_caption"         validate:"required"`
}
