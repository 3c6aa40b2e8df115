package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// Fixed sampling configuration for dialogue scripts.
const (
	scriptTemperature = 0.9
	scriptTopK        = 40
	scriptTopP        = 0.95
	scriptMaxTokens   = 2048
)

// GenerateScript requests a two-speaker dialogue about the given topic and
// returns the raw script text. One attempt per call: any failure (network,
// rejected credential, empty response) comes back as a *GenerationError for
// the caller to display; there is no retry here.
func (c *Client) GenerateScript(ctx context.Context, topic string) (string, error) {
	log.Debug().Str("topic", topic).Str("model", c.model).Msg("Generating script")

	systemPrompt := fmt.Sprintf(`Write a short educational dialogue between %s and %s explaining the topic provided by the user.

Format every line exactly as "%s: <utterance>" or "%s: <utterance>", one utterance per line.
Keep it to 8-14 lines, alternating speakers. %s asks and reacts, %s explains.
Return ONLY the dialogue lines, no titles, no markdown, no stage directions.`,
		c.speakerOne, c.speakerTwo, c.speakerOne, c.speakerTwo, c.speakerOne, c.speakerTwo)

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextContent{Text: topic}}},
	}
	opts := []llms.CallOption{
		llms.WithTemperature(scriptTemperature),
		llms.WithTopK(scriptTopK),
		llms.WithTopP(scriptTopP),
		llms.WithMaxTokens(scriptMaxTokens),
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if isCredentialError(err) {
			return "", &GenerationError{Reason: "Gemini API key is invalid or missing. Check GEMINI_API_KEY", Err: err}
		}
		return "", &GenerationError{Reason: "script request failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Reason: "model returned no choices"}
	}

	raw := resp.Choices[0].Content
	logGeminiResponse("GenerateScript", raw)

	script := strings.TrimSpace(raw)
	if script == "" {
		return "", &GenerationError{Reason: "model returned an empty script"}
	}

	log.Info().Int("script_length", len(script)).Msg("Script generation complete")
	return script, nil
}

// isCredentialError reports whether the upstream error looks like a rejected
// or missing API key, so the display message can say so directly instead of
// echoing a transport error.
func isCredentialError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api key") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "unauthenticated")
}
