package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/koji0701/peter-video-agent/internal/config"
	"github.com/koji0701/peter-video-agent/internal/llm"
	"github.com/koji0701/peter-video-agent/internal/models"
	"github.com/koji0701/peter-video-agent/internal/script"
	"github.com/koji0701/peter-video-agent/internal/session"
	"github.com/koji0701/peter-video-agent/internal/tts"
)

var (
	// ErrInvalidInput marks request validation failures. Handlers map it to 400.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoAudio indicates the session holds no synthesized audio bytes.
	ErrNoAudio = errors.New("no audio available for session")
)

// ScriptGenerator produces a raw two-speaker script for a topic.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string) (string, error)
}

// AudioSynthesizer turns script lines into one concatenated audio buffer.
type AudioSynthesizer interface {
	SynthesizeScript(ctx context.Context, lines []models.ScriptLine, progress tts.ProgressFunc) *tts.Synthesis
}

// StudioService drives the topic → script → audio workflow on top of the
// session store. Generation runs synchronously inside the request; overlap
// protection lives in the session state machine.
type StudioService struct {
	store       *session.Store
	generator   ScriptGenerator
	synthesizer AudioSynthesizer
	parser      *script.Parser
	videoURL    string
	maxTopic    int
}

// NewStudioService creates a new StudioService.
func NewStudioService(
	store *session.Store,
	generator ScriptGenerator,
	synthesizer AudioSynthesizer,
	parser *script.Parser,
	cfg *config.Config,
) *StudioService {
	return &StudioService{
		store:       store,
		generator:   generator,
		synthesizer: synthesizer,
		parser:      parser,
		videoURL:    "https://youtu.be/" + cfg.PlaceholderVideoID,
		maxTopic:    cfg.MaxTopicChars,
	}
}

// CreateSession registers a fresh idle session.
func (s *StudioService) CreateSession() models.SessionView {
	return s.store.Create().Snapshot()
}

// GetSession returns the current snapshot of a session.
func (s *StudioService) GetSession(id uuid.UUID) (models.SessionView, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	return sess.Snapshot(), nil
}

// DeleteSession removes a session and closes its event subscribers.
func (s *StudioService) DeleteSession(id uuid.UUID) error {
	return s.store.Delete(id)
}

// GenerateScript runs the full topic → script step: validate the topic, wipe
// the previous run, call the model, parse the dialogue and store the result.
// A model response with no recognizable dialogue lines falls back to a single
// raw-output line so the user can still see and edit what came back.
func (s *StudioService) GenerateScript(ctx context.Context, id uuid.UUID, topic string) (models.SessionView, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.SessionView{}, fmt.Errorf("%w: topic must not be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(topic) > s.maxTopic {
		return models.SessionView{}, fmt.Errorf("%w: topic must be at most %d characters", ErrInvalidInput, s.maxTopic)
	}

	sess, err := s.store.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	if err := sess.BeginScript(topic); err != nil {
		return models.SessionView{}, err
	}

	log.Info().Str("session_id", id.String()).Str("topic", topic).Msg("Starting script generation")

	// Detach from the request context: once a run starts it finishes and the
	// session records the outcome, even if the client goes away.
	raw, err := s.generator.GenerateScript(context.WithoutCancel(ctx), topic)
	if err != nil {
		sess.FailScript(displayMessage(err))
		return models.SessionView{}, err
	}

	lines, err := s.parser.Parse(raw)
	if err != nil {
		var parseErr *script.ParseError
		if !errors.As(err, &parseErr) {
			genErr := &llm.GenerationError{Reason: "model returned an empty script", Err: err}
			sess.FailScript(genErr.Reason)
			return models.SessionView{}, genErr
		}
		log.Warn().
			Str("session_id", id.String()).
			Int("raw_bytes", parseErr.RawLength).
			Msg("No dialogue lines recognized, falling back to raw output")
		lines = []models.ScriptLine{script.RawOutputLine(raw)}
	}

	sess.FinishScript(lines)
	log.Info().Str("session_id", id.String()).Int("lines", len(lines)).Msg("Script ready")
	return sess.Snapshot(), nil
}

// UpdateLine applies a partial edit to one script line.
func (s *StudioService) UpdateLine(id uuid.UUID, index int, req models.UpdateLineRequest) (models.SessionView, error) {
	if req.Speaker == nil && req.Text == nil {
		return models.SessionView{}, fmt.Errorf("%w: provide a speaker or text to update", ErrInvalidInput)
	}

	sess, err := s.store.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}

	line, err := sess.UpdateLine(index, req.Speaker, req.Text)
	if err != nil {
		if errors.Is(err, session.ErrNoSuchLine) {
			return models.SessionView{}, fmt.Errorf("%w: no script line at index %d", ErrInvalidInput, index)
		}
		return models.SessionView{}, err
	}

	log.Debug().
		Str("session_id", id.String()).
		Int("index", index).
		Str("speaker", line.Speaker).
		Msg("Script line updated")
	return sess.Snapshot(), nil
}

// GenerateAudio synthesizes the current script into one audio track. Synthesis
// failures do not error the session: the result degrades to the placeholder
// resource with the cause in the status message. The static video placeholder
// is attached whenever a track (real or placeholder) was produced.
func (s *StudioService) GenerateAudio(ctx context.Context, id uuid.UUID) (models.SessionView, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}

	lines, err := sess.BeginAudio()
	if err != nil {
		if errors.Is(err, session.ErrNoScript) {
			return models.SessionView{}, fmt.Errorf("%w: generate a script before requesting audio", ErrInvalidInput)
		}
		return models.SessionView{}, err
	}

	log.Info().Str("session_id", id.String()).Int("lines", len(lines)).Msg("Starting audio generation")

	synth := s.synthesizer.SynthesizeScript(context.WithoutCancel(ctx), lines, sess.PublishProgress)
	if synth.Err != nil {
		log.Error().Err(synth.Err).Str("session_id", id.String()).Msg("Audio synthesis degraded to placeholder")
	}

	result := models.AudioResult{StatusMessage: synth.Status}
	var (
		audio    []byte
		mime     string
		videoURL string
	)
	switch {
	case len(synth.Audio) > 0:
		result.URL = fmt.Sprintf("/v1/sessions/%s/audio", id)
		audio = synth.Audio
		mime = synth.MimeType
		videoURL = s.videoURL
	case synth.Placeholder:
		result.URL = tts.PlaceholderAudioURL
		videoURL = s.videoURL
	default:
		// Nothing speakable: no track, no video, just the status message.
	}

	sess.FinishAudio(audio, mime, result, videoURL)
	log.Info().
		Str("session_id", id.String()).
		Int("segments", synth.Segments).
		Bool("placeholder", synth.Placeholder).
		Msg("Audio generation finished")
	return sess.Snapshot(), nil
}

// AudioContent returns the synthesized audio bytes and their MIME type.
func (s *StudioService) AudioContent(id uuid.UUID) ([]byte, string, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, "", err
	}
	audio, mime := sess.Audio()
	if len(audio) == 0 {
		return nil, "", ErrNoAudio
	}
	return audio, mime, nil
}

// ScriptText renders the current script as plain text, one "Speaker: text"
// paragraph per line, separated by blank lines.
func (s *StudioService) ScriptText(id uuid.UUID) (string, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return "", err
	}

	view := sess.Snapshot()
	if len(view.Lines) == 0 {
		return "", fmt.Errorf("%w: session has no script to download", ErrInvalidInput)
	}

	paragraphs := make([]string, 0, len(view.Lines))
	for _, line := range view.Lines {
		paragraphs = append(paragraphs, fmt.Sprintf("%s: %s", line.Speaker, line.Text))
	}
	return strings.Join(paragraphs, "\n\n") + "\n", nil
}

// Subscribe attaches an event channel to a session. The returned func detaches
// and closes it.
func (s *StudioService) Subscribe(id uuid.UUID) (<-chan models.Event, func(), error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	ch := sess.Subscribe()
	return ch, func() { sess.Unsubscribe(ch) }, nil
}

// displayMessage extracts the user-facing message for the session error field.
func displayMessage(err error) string {
	var genErr *llm.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Reason
	}
	return err.Error()
}
