package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Supported languages for the default sorting prompt.
const (
	LanguageEnglish = "en"
	LanguageSwedish = "sv"
)

// AI providers for the shopping-list sorter.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// webhookSecretPattern is the character set Telegram accepts for webhook secret tokens.
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Config holds the configuration for the application.
type Config struct {
	Port         int    `koanf:"port"`
	DatabasePath string `koanf:"database_path"`
	Language     string `koanf:"language"`
	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`
	CORSOrigins  string `koanf:"cors_origins"`

	// AI sorting
	AIProvider   string `koanf:"ai_provider"`
	GeminiAPIKey string `koanf:"google_api_key"`
	GeminiModel  string `koanf:"gemini_model"`
	GroqAPIKey   string `koanf:"groq_api_key"`
	GroqModel    string `koanf:"groq_model"`

	// Recipe import fetches arbitrary URLs; it can be switched off.
	DisableRecipeImport bool `koanf:"disable_recipe_import"`

	// TRMNL display push
	TRMNLWebhookURL    string        `koanf:"trmnl_webhook_url"`
	TRMNLWebhookSecret string        `koanf:"trmnl_webhook_secret"`
	TRMNLPushInterval  time.Duration `koanf:"trmnl_push_interval"`

	// Live updates
	KeepAliveInterval time.Duration `koanf:"keepalive_interval"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`

	// Telegram companion (optional)
	TelegramBotToken       string  `koanf:"telegram_bot_token"`
	TelegramWebhookURL     string  `koanf:"telegram_webhook_url"`
	TelegramWebhookSecret  string  `koanf:"telegram_webhook_secret"`
	TelegramAllowedUsers   string  `koanf:"telegram_allowed_user_ids"`
	TelegramAllowedUserIDs []int64 `koanf:"-"`
}

// NewFromEnv creates a new Config object from environment variables.
//
// Values are layered: built-in defaults, then the YAML file named by MEALBOARD_CONFIG (if set),
// then environment variables. Keys are the lower-cased variable names (PORT -> port).
func NewFromEnv() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("MEALBOARD_CONFIG"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// GEMINI_API_KEY is accepted as an alias of GOOGLE_API_KEY.
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = k.String("gemini_api_key")
	}

	applyDefaults(&cfg)

	ids, err := parseUserIDs(cfg.TelegramAllowedUsers)
	if err != nil {
		return nil, err
	}
	cfg.TelegramAllowedUserIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 3001
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/mealboard.db"
	}
	cfg.Language = normalizeLanguage(cfg.Language)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "http://localhost:5173,http://127.0.0.1:5173"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.AIProvider == "" {
		cfg.AIProvider = ProviderGemini
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.5-flash-lite"
	}
	if cfg.GroqModel == "" {
		cfg.GroqModel = "llama-3.3-70b-versatile"
	}
	if cfg.TRMNLPushInterval == 0 {
		cfg.TRMNLPushInterval = time.Hour
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

// normalizeLanguage maps locale strings such as "sv_SE.UTF-8" or "en_US:en" to a supported
// language, falling back to English.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "_-.:@"); i >= 0 {
		lang = lang[:i]
	}
	if lang == LanguageSwedish {
		return LanguageSwedish
	}
	return LanguageEnglish
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.AIProvider != ProviderGemini && c.AIProvider != ProviderGroq {
		return fmt.Errorf("AI_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderGroq, c.AIProvider)
	}
	if c.TRMNLPushInterval < 0 {
		return fmt.Errorf("TRMNL_PUSH_INTERVAL must be positive")
	}
	if c.KeepAliveInterval < 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be positive")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be positive")
	}
	if c.TelegramBotToken != "" {
		if len(c.TelegramAllowedUserIDs) == 0 {
			return fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS environment variable not set")
		}
		if c.TelegramWebhookSecret == "" {
			return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET environment variable not set")
		}
		if !webhookSecretPattern.MatchString(c.TelegramWebhookSecret) {
			return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
		}
	}
	return nil
}

// Origins returns the configured CORS origins.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// TRMNLEnabled reports whether a display webhook is configured.
func (c *Config) TRMNLEnabled() bool {
	return c.TRMNLWebhookURL != ""
}

// AIAPIKey returns the key of the selected AI provider.
func (c *Config) AIAPIKey() string {
	if c.AIProvider == ProviderGroq {
		return c.GroqAPIKey
	}
	return c.GeminiAPIKey
}
