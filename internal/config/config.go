package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	LogLevel string

	// Database
	DatabaseURL string

	// Kafka (job lifecycle events; optional)
	KafkaBrokers     []string
	KafkaTopicEvents string

	// S3/Storage (optional; pipeline keeps local output when unset)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string

	// TTS providers
	TTSProvider       string // elevenlabs, gemini, openai, tone
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsModelID string
	GeminiAPIKey      string
	GeminiModelTTS    string
	OpenAIAPIKey      string
	OpenAIModelTTS    string

	// Affirmation text generation (optional; template fallback when unset)
	TextGenAPIKey string
	TextGenModel  string

	// Worker
	WorkerPollInterval  time.Duration
	MaxConcurrentJobs   int
	MaxConcurrentTTS    int
	JobStaleAfter       time.Duration
	JobPendingDeadline  time.Duration
	AdmissionScanWindow int

	// Pipeline
	WorkDir             string
	FFmpegPath          string
	AffirmationsPerPlan int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		KafkaBrokers:     []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "mantra.jobs.events.v1"),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", "mantra-audio"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),
		S3PublicURL: getEnv("S3_PUBLIC_URL", ""),

		TTSProvider:       getEnv("TTS_PROVIDER", "tone"),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsModelID: getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelTTS:    getEnv("GEMINI_MODEL_TTS", "gemini-2.5-pro-preview-tts"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModelTTS:    getEnv("OPENAI_MODEL_TTS", "tts-1-hd"),

		TextGenAPIKey: getEnv("TEXTGEN_API_KEY", ""),
		TextGenModel:  getEnv("TEXTGEN_MODEL", "gemini-2.5-flash-lite"),

		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		MaxConcurrentJobs:   clampMin(getEnvInt("MAX_CONCURRENT_JOBS", 4), 1),
		MaxConcurrentTTS:    clampMin(getEnvInt("MAX_CONCURRENT_TTS", 2), 1),
		JobStaleAfter:       getEnvDuration("JOB_STALE_AFTER", 5*time.Minute),
		JobPendingDeadline:  getEnvDuration("JOB_PENDING_DEADLINE", 10*time.Minute),
		AdmissionScanWindow: clampMin(getEnvInt("ADMISSION_SCAN_WINDOW", 50), 1),

		WorkDir:             getEnv("WORK_DIR", os.TempDir()),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		AffirmationsPerPlan: clampMin(getEnvInt("AFFIRMATIONS_PER_PLAN", 5), 1),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
