package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/koji0701/peter-video-agent/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// maxGeminiResponseLogBytes is the max length of a Gemini response body to log in full (to avoid huge logs).
const maxGeminiResponseLogBytes = 8192

// GenerationError describes a failed script generation attempt: request
// failure, rejected credential, or an empty model response. Reason is the
// user-facing display string.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client wraps the Gemini text-generation API for dialogue scripts.
type Client struct {
	model      string
	speakerOne string
	speakerTwo string
	timeout    time.Duration
	llm        llms.Model
}

// NewClient creates the script-generation client. The generation credential
// is checked up front: a missing GEMINI_API_KEY is a ConfigurationError, not
// a warning deferred to the first request.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, &config.ConfigurationError{Name: "GEMINI_API_KEY"}
	}

	model, err := googleai.New(context.Background(),
		googleai.WithAPIKey(cfg.GeminiAPIKey),
		googleai.WithDefaultModel(cfg.GeminiModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	log.Info().
		Str("model", cfg.GeminiModel).
		Str("speaker_one", cfg.SpeakerOneLabel).
		Str("speaker_two", cfg.SpeakerTwoLabel).
		Msg("LLM client initialized")

	return &Client{
		model:      cfg.GeminiModel,
		speakerOne: cfg.SpeakerOneLabel,
		speakerTwo: cfg.SpeakerTwoLabel,
		timeout:    cfg.GeminiTimeout,
		llm:        model,
	}, nil
}

// logGeminiResponse logs Gemini response text, truncating if over maxGeminiResponseLogBytes.
func logGeminiResponse(caller, raw string) {
	if len(raw) <= maxGeminiResponseLogBytes {
		log.Info().Str("caller", caller).Str("gemini_response", raw).Msg("Gemini response")
		return
	}
	log.Info().
		Str("caller", caller).
		Str("gemini_response", raw[:maxGeminiResponseLogBytes]+"... [truncated]").
		Int("gemini_response_len", len(raw)).
		Msg("Gemini response")
}
