package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
// Every pipeline threshold and retry limit lives here so components receive an
// immutable snapshot at construction instead of reading globals.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	DownloaderAPIKey   string
	DownloaderBaseURL  string
	AnalyzerAPIKey     string
	AnalyzerModel      string
	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiModel        string
	VeoModel           string
	CaptionAPIKey      string
	CaptionModel       string
	PublisherToken     string
	PublisherAccountID string
	PublisherBaseURL   string

	PublicAssetBase  string
	ReplyCallbackURL string

	ImageVariantsPerRound int
	VideoVariantsPerRound int
	MaxStageRetries       int
	ImageGateThreshold    float64
	VideoGateThreshold    float64
	FrameDriftThreshold   float64
	VideoPollInterval     time.Duration
	VideoPollTimeout      time.Duration
	DailySubmissionQuota  int
	WorkerCount           int
	JobPollInterval       time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		DownloaderAPIKey:   os.Getenv("DOWNLOADER_API_KEY"),
		DownloaderBaseURL:  getEnv("DOWNLOADER_BASE_URL", "https://api.brightdata.com"),
		AnalyzerAPIKey:     os.Getenv("ANALYZER_API_KEY"),
		AnalyzerModel:      getEnv("ANALYZER_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		VeoModel:           getEnv("VEO_MODEL", "veo-3.1"),
		CaptionAPIKey:      os.Getenv("CAPTION_API_KEY"),
		CaptionModel:       getEnv("CAPTION_MODEL", "claude-sonnet-4-20250514"),
		PublisherToken:     os.Getenv("PUBLISHER_PAGE_TOKEN"),
		PublisherAccountID: os.Getenv("PUBLISHER_ACCOUNT_ID"),
		PublisherBaseURL:   getEnv("PUBLISHER_BASE_URL", "https://graph.facebook.com/v21.0"),

		PublicAssetBase:  os.Getenv("PUBLIC_ASSET_BASE"),
		ReplyCallbackURL: os.Getenv("REPLY_CALLBACK_URL"),

		ImageVariantsPerRound: getEnvInt("IMAGE_VARIANTS_PER_ROUND", 3),
		VideoVariantsPerRound: getEnvInt("VIDEO_VARIANTS_PER_ROUND", 2),
		MaxStageRetries:       getEnvInt("MAX_STAGE_RETRIES", 1),
		ImageGateThreshold:    getEnvFloat("IMAGE_GATE_THRESHOLD", 0.80),
		VideoGateThreshold:    getEnvFloat("VIDEO_GATE_THRESHOLD", 0.80),
		FrameDriftThreshold:   getEnvFloat("FRAME_DRIFT_THRESHOLD", 0.70),
		VideoPollInterval:     time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 10)),
		VideoPollTimeout:      time.Second * time.Duration(getEnvInt("VIDEO_POLL_TIMEOUT_SECONDS", 600)),
		DailySubmissionQuota:  getEnvInt("DAILY_SUBMISSION_QUOTA", 20),
		WorkerCount:           getEnvInt("WORKER_COUNT", 4),
		JobPollInterval:       time.Second * time.Duration(getEnvInt("JOB_POLL_INTERVAL_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ImageGateThreshold <= 0 || cfg.ImageGateThreshold > 1 {
		return nil, fmt.Errorf("IMAGE_GATE_THRESHOLD must be in (0,1]")
	}
	if cfg.VideoGateThreshold <= 0 || cfg.VideoGateThreshold > 1 {
		return nil, fmt.Errorf("VIDEO_GATE_THRESHOLD must be in (0,1]")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
