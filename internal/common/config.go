package common

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/lecture-quiz/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Pipeline PipelineConfig
	Media    MediaConfig
	Speech   SpeechConfig
	LLM      LLMConfig
	Ingest   IngestConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration.
// An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr        string
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// PipelineConfig holds orchestrator scheduling and retry policy.
type PipelineConfig struct {
	Workers             int
	QueueSize           int
	MaxRetries          int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	TranscodeTimeout    time.Duration
	TranscribeTimeout   time.Duration
	SegmentTimeout      time.Duration
	QuestionsTimeout    time.Duration
	SegmentWindow       time.Duration
	QuestionsPerSegment int
}

// MediaConfig holds ffmpeg-related configuration
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
}

// SpeechConfig selects and configures the speech-to-text backend.
type SpeechConfig struct {
	Backend     string // "openai" | "whispercpp"
	OpenAIModel string
	WhisperPath string
	ModelPath   string
	Language    string
	Timeout     time.Duration
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	// Strict disables the repair pass over malformed model output.
	Strict bool
}

// IngestConfig holds upload storage configuration
type IngestConfig struct {
	UploadDir      string
	WatchDir       string
	MaxUploadBytes int64
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level     string
	File      string
	MaxSizeMB int
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory (or ENV_FILE) is applied first without overriding
// variables already set.
func LoadConfig() *Config {
	loadDotEnv()

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr:        getEnv("HTTP_ADDR", ":3001"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:             getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:           getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			MaxRetries:          getEnvAsInt("PIPELINE_MAX_RETRIES", 3),
			BackoffBase:         getEnvAsDuration("PIPELINE_BACKOFF_BASE", time.Second),
			BackoffMax:          getEnvAsDuration("PIPELINE_BACKOFF_MAX", 30*time.Second),
			TranscodeTimeout:    getEnvAsDuration("TRANSCODE_TIMEOUT", 30*time.Minute),
			TranscribeTimeout:   getEnvAsDuration("TRANSCRIBE_TIMEOUT", 30*time.Minute),
			SegmentTimeout:      getEnvAsDuration("SEGMENT_TIMEOUT", time.Minute),
			QuestionsTimeout:    getEnvAsDuration("QUESTIONS_TIMEOUT", 2*time.Minute),
			SegmentWindow:       getEnvAsDuration("SEGMENT_WINDOW", constants.SegmentWindowDefault),
			QuestionsPerSegment: getEnvAsInt("QUESTIONS_PER_SEGMENT", constants.QuestionsPerSegmentDefault),
		},
		Media: MediaConfig{
			FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
			WorkDir:     getEnv("WORK_DIR", "./tmp/work"),
		},
		Speech: SpeechConfig{
			Backend:     strings.ToLower(getEnv("SPEECH_BACKEND", "openai")),
			OpenAIModel: getEnv("SPEECH_OPENAI_MODEL", "whisper-1"),
			WhisperPath: getEnv("WHISPER_PATH", "whisper-cli"),
			ModelPath:   getEnv("WHISPER_MODEL_PATH", ""),
			Language:    getEnv("SPEECH_LANGUAGE", ""),
			Timeout:     getEnvAsDuration("SPEECH_TIMEOUT", 20*time.Minute),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.2),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 90*time.Second),
			Strict:      getEnvAsBool("LLM_STRICT", false),
		},
		Ingest: IngestConfig{
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			WatchDir:       getEnv("WATCH_DIR", ""),
			MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", constants.MaxUploadBytesDefault),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			File:      getEnv("LOG_FILE", ""),
			MaxSizeMB: getEnvAsInt("LOG_MAX_SIZE_MB", 50),
		},
	}
}

func loadDotEnv() {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// A malformed .env must not stop the process; env vars still apply.
		_, _ = os.Stderr.WriteString("warning: cannot load " + path + ": " + err.Error() + "\n")
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Pipeline.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_MAX_RETRIES must not be negative", ErrInvalidInput)
	}
	if c.Pipeline.SegmentWindow <= 0 {
		return NewAppError("CONFIG_ERROR", "SEGMENT_WINDOW must be positive", ErrInvalidInput)
	}
	if c.Pipeline.QuestionsPerSegment <= 0 {
		return NewAppError("CONFIG_ERROR", "QUESTIONS_PER_SEGMENT must be positive", ErrInvalidInput)
	}
	switch c.Speech.Backend {
	case "openai":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required for the openai speech backend", ErrInvalidInput)
		}
	case "whispercpp":
		if c.Speech.ModelPath == "" {
			return NewAppError("CONFIG_ERROR", "WHISPER_MODEL_PATH is required for the whispercpp backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "SPEECH_BACKEND must be openai or whispercpp", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_UPLOAD_BYTES must be positive", ErrInvalidInput)
	}
	return nil
}
