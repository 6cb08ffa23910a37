package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the pipeline reads from the environment.
// Callers load .env via godotenv before calling FromEnv.
type Config struct {
	Port string

	// Stage execution
	MaxAttempts  int
	StageTimeout time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
	LeaseTTL     time.Duration
	Workers      int

	// Moment detection
	MomentThreshold  float64 // minimum confidence to keep a candidate
	AdvanceThreshold float64 // trial-close confidence that classifies "advanced"
	WindowUtterances int     // sliding window span for multi-utterance detectors

	// Engines
	TranscriptionEngine string
	SentimentEngine     string
	TTSEngine           string
	TranscriptionURL    string
	SentimentURL        string
	TTSLanguage         string

	// Replay
	ReplayContextSeconds float64

	// Task trigger
	AMQPURL   string
	AMQPQueue string

	// Reporting
	ReportPath string
}

// FromEnv reads configuration with sane defaults for local runs.
func FromEnv() Config {
	return Config{
		Port: envOr("PORT", "8080"),

		MaxAttempts:  envInt("STAGE_MAX_ATTEMPTS", 3),
		StageTimeout: envDuration("STAGE_TIMEOUT", 30*time.Second),
		RetryInitial: envDuration("STAGE_RETRY_INITIAL", 500*time.Millisecond),
		RetryMax:     envDuration("STAGE_RETRY_MAX", 10*time.Second),
		LeaseTTL:     envDuration("CALL_LEASE_TTL", 60*time.Second),
		Workers:      envInt("PIPELINE_WORKERS", 4),

		MomentThreshold:  envFloat("COACHABLE_MOMENT_THRESHOLD", 0.7),
		AdvanceThreshold: envFloat("TRIAL_CLOSE_ADVANCE_THRESHOLD", 0.85),
		WindowUtterances: envInt("DETECTOR_WINDOW_UTTERANCES", 2),

		TranscriptionEngine: envOr("TRANSCRIPTION_ENGINE", "mock"),
		SentimentEngine:     envOr("SENTIMENT_ENGINE", "lexicon"),
		TTSEngine:           envOr("TTS_ENGINE", "mock"),
		TranscriptionURL:    os.Getenv("TRANSCRIBE_URL"),
		SentimentURL:        os.Getenv("SENTIMENT_URL"),
		TTSLanguage:         envOr("TTS_LANGUAGE", "en"),

		ReplayContextSeconds: envFloat("REPLAY_CONTEXT_SECONDS", 5),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: envOr("AMQP_QUEUE", "call-pipeline"),

		ReportPath: envOr("REPORT_PATH", "coaching_report.xlsx"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
