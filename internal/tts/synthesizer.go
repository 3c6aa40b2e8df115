package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haguro/elevenlabs-go"
	"github.com/koji0701/peter-video-agent/internal/config"
	"github.com/koji0701/peter-video-agent/internal/models"
	"github.com/rs/zerolog/log"
)

// PlaceholderAudioURL is the fixed audio resource substituted when synthesis
// is unavailable (missing credential) or fails mid-sequence.
const PlaceholderAudioURL = "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3"

// audioMimeType is what ElevenLabs returns for the default output format.
const audioMimeType = "audio/mpeg"

// SynthesisError is a failed per-line synthesis request. The wrapped error
// carries any structured detail message from the TTS API verbatim.
type SynthesisError struct {
	Segment int
	Speaker string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed on segment %d (%s): %v", e.Segment, e.Speaker, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Speech performs one text-to-speech request for one utterance.
type Speech interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

// elevenLabsSpeech calls the ElevenLabs API with the fixed model and voice settings.
type elevenLabsSpeech struct {
	apiKey   string
	timeout  time.Duration
	modelID  string
	settings elevenlabs.VoiceSettings
}

func (s *elevenLabsSpeech) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, s.apiKey, s.timeout)
	audio, err := client.TextToSpeech(voiceID, elevenlabs.TextToSpeechRequest{
		Text:          text,
		ModelID:       s.modelID,
		VoiceSettings: &s.settings,
	})
	if err != nil {
		var apiErr *elevenlabs.APIError
		if errors.As(err, &apiErr) {
			// The API error body carries a detail message; keep it intact.
			return nil, fmt.Errorf("elevenlabs rejected segment: %w", apiErr)
		}
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs returned empty audio")
	}
	return audio, nil
}

// ProgressFunc receives per-segment progress during a synthesis run.
type ProgressFunc func(done, total int, speaker string)

// Synthesis is the outcome of one synthesis attempt over a full script.
// Exactly one of three shapes: real concatenated audio (Audio non-empty),
// the fixed placeholder resource (Placeholder true, Audio nil), or no audio
// at all (every line was skipped).
type Synthesis struct {
	Audio       []byte
	MimeType    string
	Segments    int
	Placeholder bool
	Status      string
	Err         error // causing *SynthesisError when a request failed
}

// Synthesizer turns an ordered script into one concatenated audio buffer
// using a fixed two-entry speaker→voice mapping.
type Synthesizer struct {
	speech       Speech // nil in simulated mode
	voiceOneID   string
	voiceTwoID   string
	speakerOne   string // lowercased first-speaker marker
	requestDelay time.Duration
}

// NewSynthesizer builds the synthesizer. A missing ELEVENLABS_API_KEY is not
// an error: the synthesizer runs in simulated mode and returns the fixed
// placeholder resource without making any network calls.
func NewSynthesizer(cfg *config.Config) *Synthesizer {
	s := &Synthesizer{
		voiceOneID:   cfg.VoiceOneID,
		voiceTwoID:   cfg.VoiceTwoID,
		speakerOne:   strings.ToLower(cfg.SpeakerOneLabel),
		requestDelay: cfg.TTSRequestDelay,
	}

	if cfg.ElevenLabsAPIKey == "" {
		log.Warn().Msg("ELEVENLABS_API_KEY not set, audio synthesis will be simulated")
		return s
	}

	s.speech = &elevenLabsSpeech{
		apiKey:  cfg.ElevenLabsAPIKey,
		timeout: cfg.TTSTimeout,
		modelID: cfg.TTSModelID,
		settings: elevenlabs.VoiceSettings{
			Stability:       float32(cfg.VoiceStability),
			SimilarityBoost: float32(cfg.VoiceSimilarity),
		},
	}

	log.Info().
		Str("model_id", cfg.TTSModelID).
		Str("voice_one", cfg.VoiceOneID).
		Str("voice_two", cfg.VoiceTwoID).
		Dur("request_delay", cfg.TTSRequestDelay).
		Msg("TTS synthesizer initialized")
	return s
}

// Simulated reports whether the synthesizer runs without a credential.
func (s *Synthesizer) Simulated() bool { return s.speech == nil }

// VoiceFor picks the voice for a speaker label: the first voice when the
// label contains the first speaker's label (case-insensitive), the second
// voice otherwise. "Raw Output" and unknown labels land on the second voice.
func (s *Synthesizer) VoiceFor(speaker string) string {
	if strings.Contains(strings.ToLower(speaker), s.speakerOne) {
		return s.voiceOneID
	}
	return s.voiceTwoID
}

// SynthesizeScript synthesizes one audio segment per speakable line, strictly
// in order, and concatenates the buffers. Failures never escape as errors: a
// mid-sequence request failure aborts the remaining requests, discards the
// already-fetched segments, and degrades to the placeholder resource with the
// causing error in the status message.
func (s *Synthesizer) SynthesizeScript(ctx context.Context, lines []models.ScriptLine, progress ProgressFunc) *Synthesis {
	speakable := make([]models.ScriptLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		speakable = append(speakable, line)
	}

	if len(speakable) == 0 {
		log.Info().Int("lines", len(lines)).Msg("No speakable lines, skipping synthesis")
		return &Synthesis{Status: "No audio generated: the script has no speakable lines."}
	}

	if s.speech == nil {
		log.Info().Int("segments", len(speakable)).Msg("Synthesis simulated, no API key configured")
		return &Synthesis{
			Placeholder: true,
			Status:      "Audio simulated (API key missing). Set ELEVENLABS_API_KEY to synthesize real narration.",
		}
	}

	var buf bytes.Buffer
	for i, line := range speakable {
		// Fixed pause between consecutive requests.
		if i > 0 && s.requestDelay > 0 {
			time.Sleep(s.requestDelay)
		}

		voiceID := s.VoiceFor(line.Speaker)
		log.Debug().
			Int("segment", i+1).
			Int("total", len(speakable)).
			Str("speaker", line.Speaker).
			Str("voice_id", voiceID).
			Msg("Synthesizing segment")

		data, err := s.speech.Synthesize(ctx, voiceID, line.Text)
		if err != nil {
			synErr := &SynthesisError{Segment: i + 1, Speaker: line.Speaker, Err: err}
			log.Error().
				Err(synErr).
				Int("segment", i+1).
				Int("total", len(speakable)).
				Msg("Synthesis failed, falling back to placeholder audio")
			return &Synthesis{
				Placeholder: true,
				Status: fmt.Sprintf("Audio generation failed on segment %d/%d (%s): %v. Using placeholder audio.",
					i+1, len(speakable), line.Speaker, err),
				Err: synErr,
			}
		}

		buf.Write(data)
		if progress != nil {
			progress(i+1, len(speakable), line.Speaker)
		}
	}

	log.Info().Int("segments", len(speakable)).Int("bytes", buf.Len()).Msg("Synthesis complete")
	return &Synthesis{
		Audio:    buf.Bytes(),
		MimeType: audioMimeType,
		Segments: len(speakable),
		Status:   fmt.Sprintf("Generated %d audio segments (%d bytes).", len(speakable), buf.Len()),
	}
}
