package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GeminiAPIKey  string
	FalAPIKey     string
	TelegramToken string

	WebAddr  string
	LogLevel string
	Debug    bool

	PreferIPv4 bool
	// AllowPrivateFetch lets image URLs resolve to loopback and private
	// addresses. Only for local development.
	AllowPrivateFetch bool

	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiImageModel string
	GeminiTextModel  string

	FalBaseURL      string
	FalVideoModel   string
	FalPollInterval time.Duration

	StateURL            string
	ExtensionArchiveURL string

	MaxConcurrent      int
	MediaGroupDebounce time.Duration
	MaxUploadBytes     int64
}

// Load reads the configuration from the environment. API keys may also come
// from the state store, so none is mandatory here; front-ends that need a
// Telegram token call RequireTelegram.
func Load() (Config, error) {
	cfg := Config{
		WebAddr:             strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		LogLevel:            strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:               getEnvBool("DEBUG", false),
		PreferIPv4:          getEnvBool("PREFER_IPV4", true),
		AllowPrivateFetch:   getEnvBool("ALLOW_PRIVATE_FETCH", false),
		HTTPTimeout:         time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout:      time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		GeminiBaseURL:       strings.TrimSpace(getEnv("GEMINI_BASE_URL", "")),
		GeminiAPIVersion:    strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiImageModel:    strings.TrimSpace(getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview")),
		GeminiTextModel:     strings.TrimSpace(getEnv("GEMINI_TEXT_MODEL", "gemini-2.0-flash")),
		FalBaseURL:          strings.TrimSpace(getEnv("FAL_BASE_URL", "https://queue.fal.run")),
		FalVideoModel:       strings.TrimSpace(getEnv("FAL_VIDEO_MODEL", "fal-ai/bytedance/seedance/v1/lite/image-to-video")),
		FalPollInterval:     time.Duration(getEnvInt("FAL_POLL_INTERVAL_MS", 1500)) * time.Millisecond,
		StateURL:            strings.TrimSpace(getEnv("STATE_URL", "./data/state")),
		ExtensionArchiveURL: strings.TrimSpace(getEnv("EXTENSION_ARCHIVE_URL", "./public/euphoria-extension.zip")),
		MaxConcurrent:       getEnvInt("MAX_CONCURRENT", 4),
		MediaGroupDebounce:  time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_MB", 25)) << 20,
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.FalAPIKey = strings.TrimSpace(os.Getenv("FAL_API_KEY"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.FalPollInterval <= 0 {
		cfg.FalPollInterval = 1500 * time.Millisecond
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = ":8080"
	}

	return cfg, nil
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// VideoEnabled reports whether FAL_API_KEY is set. Without it the video
// pipeline falls back to the key saved in the state store.
func (c Config) VideoEnabled() bool {
	return c.FalAPIKey != ""
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
