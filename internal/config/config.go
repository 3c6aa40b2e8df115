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

	// Gemini API (script generation)
	GeminiAPIKey  string
	GeminiModel   string // text model for dialogue scripts, e.g. gemini-2.5-flash
	GeminiTimeout time.Duration

	// ElevenLabs API (speech synthesis)
	ElevenLabsAPIKey string
	TTSModelID       string // e.g. eleven_multilingual_v2
	TTSTimeout       time.Duration
	TTSRequestDelay  time.Duration // pause between per-line synthesis requests
	VoiceStability   float64
	VoiceSimilarity  float64

	// Speakers: two-entry label→voice mapping for the dialogue
	SpeakerOneLabel string
	SpeakerTwoLabel string
	VoiceOneID      string
	VoiceTwoID      string

	// Placeholder video paired with generated audio
	PlaceholderVideoID string

	// Sessions
	SessionTTL    time.Duration
	HTTPTimeout   time.Duration // server write timeout; audio synthesis is linear in line count
	MaxTopicChars int
}

// ConfigurationError reports a missing credential or setting detected at
// construction time, before any external call is attempted.
type ConfigurationError struct {
	Name string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + e.Name
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiTimeout: getEnvDuration("GEMINI_TIMEOUT", 60*time.Second),

		ElevenLabsAPIKey: getEnv("ELEVENLABS_API_KEY", ""),
		TTSModelID:       getEnv("TTS_MODEL_ID", "eleven_multilingual_v2"),
		TTSTimeout:       getEnvDuration("TTS_TIMEOUT", 30*time.Second),
		TTSRequestDelay:  getEnvDuration("TTS_REQUEST_DELAY", 250*time.Millisecond),
		VoiceStability:   getEnvFloat("VOICE_STABILITY", 0.5),
		VoiceSimilarity:  getEnvFloat("VOICE_SIMILARITY", 0.75),

		SpeakerOneLabel: getEnv("SPEAKER_ONE_LABEL", "Person A"),
		SpeakerTwoLabel: getEnv("SPEAKER_TWO_LABEL", "Person B"),
		VoiceOneID:      getEnv("VOICE_ONE_ID", "pNInz6obpgDQGcFmaJgB"),
		VoiceTwoID:      getEnv("VOICE_TWO_ID", "21m00Tcm4TlvDq8ikWAM"),

		PlaceholderVideoID: getEnv("PLACEHOLDER_VIDEO_ID", "jNQXAC9IVRw"),

		SessionTTL:    getEnvDuration("SESSION_TTL", 2*time.Hour),
		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 5*time.Minute),
		MaxTopicChars: clampMin(getEnvInt("MAX_TOPIC_CHARS", 300), 1),
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
