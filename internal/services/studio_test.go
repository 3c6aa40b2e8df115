package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koji0701/peter-video-agent/internal/config"
	"github.com/koji0701/peter-video-agent/internal/llm"
	"github.com/koji0701/peter-video-agent/internal/models"
	"github.com/koji0701/peter-video-agent/internal/script"
	"github.com/koji0701/peter-video-agent/internal/session"
	"github.com/koji0701/peter-video-agent/internal/tts"
)

const gravityScript = `Person A: Hey, I keep hearing about gravity. What is it, really?
Person B: At its simplest, gravity is the attraction between things that have mass.`

type fakeGenerator struct {
	generateFunc func(ctx context.Context, topic string) (string, error)
	calls        int
	topics       []string
}

func (f *fakeGenerator) GenerateScript(ctx context.Context, topic string) (string, error) {
	f.calls++
	f.topics = append(f.topics, topic)
	if f.generateFunc != nil {
		return f.generateFunc(ctx, topic)
	}
	return gravityScript, nil
}

type fakeSynthesizer struct {
	synthesizeFunc func(ctx context.Context, lines []models.ScriptLine, progress tts.ProgressFunc) *tts.Synthesis
	calls          int
	lastLines      []models.ScriptLine
}

func (f *fakeSynthesizer) SynthesizeScript(ctx context.Context, lines []models.ScriptLine, progress tts.ProgressFunc) *tts.Synthesis {
	f.calls++
	f.lastLines = lines
	if f.synthesizeFunc != nil {
		return f.synthesizeFunc(ctx, lines, progress)
	}
	return &tts.Synthesis{
		Audio:    []byte("mp3-bytes"),
		MimeType: "audio/mpeg",
		Segments: len(lines),
		Status:   fmt.Sprintf("Generated %d audio segments (9 bytes).", len(lines)),
	}
}

func newTestService(t *testing.T, gen ScriptGenerator, synth AudioSynthesizer) (*StudioService, *session.Store) {
	t.Helper()
	cfg := &config.Config{
		SpeakerOneLabel:    "Person A",
		SpeakerTwoLabel:    "Person B",
		PlaceholderVideoID: "jNQXAC9IVRw",
		MaxTopicChars:      300,
		SessionTTL:         time.Hour,
	}
	store := session.NewStore(cfg.SessionTTL)
	t.Cleanup(store.Stop)
	parser := script.NewParser(cfg.SpeakerOneLabel, cfg.SpeakerTwoLabel)
	return NewStudioService(store, gen, synth, parser, cfg), store
}

func TestGenerateScript_EndToEnd(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen, &fakeSynthesizer{})

	id := svc.CreateSession().ID
	view, err := svc.GenerateScript(context.Background(), id, "  gravity  ")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("expected 1 generator call, got %d", gen.calls)
	}
	if gen.topics[0] != "gravity" {
		t.Errorf("expected trimmed topic, got %q", gen.topics[0])
	}
	if view.State != models.StateScriptReady {
		t.Errorf("expected script_ready, got %s", view.State)
	}
	if view.Topic != "gravity" {
		t.Errorf("expected topic on the view, got %q", view.Topic)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected 2 parsed lines, got %d", len(view.Lines))
	}
	if view.Lines[0].Speaker != "Person A" || !strings.Contains(view.Lines[0].Text, "gravity") {
		t.Errorf("unexpected first line: %+v", view.Lines[0])
	}
	if view.ScriptDirty {
		t.Error("expected a fresh script to start clean")
	}
}

func TestGenerateScript_TopicValidation(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	tests := []struct {
		name  string
		topic string
	}{
		{"empty", ""},
		{"whitespace only", "   \t  "},
		{"too long", strings.Repeat("g", 301)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GenerateScript(context.Background(), id, tt.topic); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if gen.calls != 0 {
		t.Errorf("expected no generator calls for invalid topics, got %d", gen.calls)
	}
}

func TestGenerateScript_RawOutputFallback(t *testing.T) {
	gen := &fakeGenerator{
		generateFunc: func(context.Context, string) (string, error) {
			return "I'm sorry, I can't produce a dialogue for that.", nil
		},
	}
	svc, _ := newTestService(t, gen, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	view, err := svc.GenerateScript(context.Background(), id, "gravity")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if view.State != models.StateScriptReady {
		t.Errorf("expected script_ready despite fallback, got %s", view.State)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected a single raw-output line, got %d", len(view.Lines))
	}
	if view.Lines[0].Speaker != script.RawOutputSpeaker {
		t.Errorf("expected %q speaker, got %q", script.RawOutputSpeaker, view.Lines[0].Speaker)
	}
	if !strings.Contains(view.Lines[0].Text, "I'm sorry") {
		t.Errorf("expected raw model output to be preserved, got %q", view.Lines[0].Text)
	}
}

func TestGenerateScript_FailureMarksSessionErrored(t *testing.T) {
	gen := &fakeGenerator{
		generateFunc: func(context.Context, string) (string, error) {
			return "", &llm.GenerationError{Reason: "script request failed", Err: errors.New("connection refused")}
		},
	}
	svc, _ := newTestService(t, gen, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	_, err := svc.GenerateScript(context.Background(), id, "gravity")
	var genErr *llm.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *llm.GenerationError, got %v", err)
	}

	view, err := svc.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if view.State != models.StateErrored {
		t.Errorf("expected errored state, got %s", view.State)
	}
	if view.Error != "script request failed" {
		t.Errorf("expected display message on the session, got %q", view.Error)
	}

	// The next run starts from a clean slate.
	gen.generateFunc = nil
	view, err = svc.GenerateScript(context.Background(), id, "gravity")
	if err != nil {
		t.Fatalf("GenerateScript after failure: %v", err)
	}
	if view.State != models.StateScriptReady || view.Error != "" {
		t.Errorf("expected recovered session, got state=%s error=%q", view.State, view.Error)
	}
}

func TestGenerateScript_BusySessionRejected(t *testing.T) {
	svc, store := newTestService(t, &fakeGenerator{}, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	sess, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := sess.BeginScript("first"); err != nil {
		t.Fatalf("BeginScript: %v", err)
	}

	if _, err := svc.GenerateScript(context.Background(), id, "second"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if _, err := svc.GenerateAudio(context.Background(), id); !errors.Is(err, session.ErrBusy) {
		t.Errorf("expected ErrBusy for audio, got %v", err)
	}
}

func TestGenerateAudio_Success(t *testing.T) {
	synth := &fakeSynthesizer{}
	svc, _ := newTestService(t, &fakeGenerator{}, synth)
	id := svc.CreateSession().ID

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	view, err := svc.GenerateAudio(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}

	if synth.calls != 1 {
		t.Fatalf("expected 1 synthesizer call, got %d", synth.calls)
	}
	if len(synth.lastLines) != 2 {
		t.Errorf("expected the parsed script to be synthesized, got %d lines", len(synth.lastLines))
	}
	wantURL := fmt.Sprintf("/v1/sessions/%s/audio", id)
	if view.Audio.URL != wantURL {
		t.Errorf("expected audio URL %q, got %q", wantURL, view.Audio.URL)
	}
	if !strings.Contains(view.Audio.StatusMessage, "audio segments") {
		t.Errorf("expected status message, got %q", view.Audio.StatusMessage)
	}
	if view.State != models.StateAudioReady {
		t.Errorf("expected audio_ready, got %s", view.State)
	}
	if view.VideoURL != "https://youtu.be/jNQXAC9IVRw" {
		t.Errorf("expected placeholder video, got %q", view.VideoURL)
	}
	if view.ScriptDirty {
		t.Error("expected audio run to clear the dirty flag")
	}

	audio, mime, err := svc.AudioContent(id)
	if err != nil {
		t.Fatalf("AudioContent: %v", err)
	}
	if string(audio) != "mp3-bytes" || mime != "audio/mpeg" {
		t.Errorf("unexpected audio content: %d bytes, %q", len(audio), mime)
	}
}

func TestGenerateAudio_PlaceholderFallback(t *testing.T) {
	synth := &fakeSynthesizer{
		synthesizeFunc: func(context.Context, []models.ScriptLine, tts.ProgressFunc) *tts.Synthesis {
			return &tts.Synthesis{
				Placeholder: true,
				Status:      "Audio simulated (API key missing). Set ELEVENLABS_API_KEY to synthesize real narration.",
			}
		},
	}
	svc, _ := newTestService(t, &fakeGenerator{}, synth)
	id := svc.CreateSession().ID

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	view, err := svc.GenerateAudio(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}

	if view.Audio.URL != tts.PlaceholderAudioURL {
		t.Errorf("expected placeholder URL, got %q", view.Audio.URL)
	}
	if !strings.Contains(view.Audio.StatusMessage, "simulated (API key missing)") {
		t.Errorf("expected simulated status, got %q", view.Audio.StatusMessage)
	}
	if view.State != models.StateAudioReady {
		t.Errorf("expected audio_ready with placeholder track, got %s", view.State)
	}
	if view.VideoURL == "" {
		t.Error("expected video placeholder alongside the placeholder track")
	}

	if _, _, err := svc.AudioContent(id); !errors.Is(err, ErrNoAudio) {
		t.Errorf("expected ErrNoAudio for placeholder outcome, got %v", err)
	}
}

func TestGenerateAudio_NoSpeakableLines(t *testing.T) {
	synth := &fakeSynthesizer{
		synthesizeFunc: func(context.Context, []models.ScriptLine, tts.ProgressFunc) *tts.Synthesis {
			return &tts.Synthesis{Status: "No audio generated: the script has no speakable lines."}
		},
	}
	svc, _ := newTestService(t, &fakeGenerator{}, synth)
	id := svc.CreateSession().ID

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	view, err := svc.GenerateAudio(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}

	if view.Audio.URL != "" {
		t.Errorf("expected empty URL, got %q", view.Audio.URL)
	}
	if !strings.Contains(view.Audio.StatusMessage, "No audio generated") {
		t.Errorf("expected no-audio status, got %q", view.Audio.StatusMessage)
	}
	if view.State != models.StateScriptReady {
		t.Errorf("expected script_ready without a track, got %s", view.State)
	}
	if view.VideoURL != "" {
		t.Errorf("expected no video without a track, got %q", view.VideoURL)
	}
}

func TestGenerateAudio_RequiresScript(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	if _, err := svc.GenerateAudio(context.Background(), id); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without a script, got %v", err)
	}
}

func TestGenerateAudio_ForwardsProgressEvents(t *testing.T) {
	synth := &fakeSynthesizer{
		synthesizeFunc: func(_ context.Context, lines []models.ScriptLine, progress tts.ProgressFunc) *tts.Synthesis {
			for i, line := range lines {
				progress(i+1, len(lines), line.Speaker)
			}
			return &tts.Synthesis{Audio: []byte("x"), MimeType: "audio/mpeg", Segments: len(lines), Status: "Generated 2 audio segments (1 bytes)."}
		},
	}
	svc, _ := newTestService(t, &fakeGenerator{}, synth)
	id := svc.CreateSession().ID

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}

	events, cancel, err := svc.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if _, err := svc.GenerateAudio(context.Background(), id); err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}

	var segments []models.Event
	for len(events) > 0 {
		ev := <-events
		if ev.Type == models.EventSegment {
			segments = append(segments, ev)
		}
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segment events, got %d", len(segments))
	}
	if segments[0].Segment != 1 || segments[0].Total != 2 || segments[0].Speaker != "Person A" {
		t.Errorf("unexpected first segment event: %+v", segments[0])
	}
	if segments[1].Segment != 2 || segments[1].Speaker != "Person B" {
		t.Errorf("unexpected second segment event: %+v", segments[1])
	}
}

func TestUpdateLine(t *testing.T) {
	synth := &fakeSynthesizer{}
	svc, _ := newTestService(t, &fakeGenerator{}, synth)
	id := svc.CreateSession().ID

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if _, err := svc.GenerateAudio(context.Background(), id); err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}

	newText := "Gravity is the curvature of spacetime."
	view, err := svc.UpdateLine(id, 1, models.UpdateLineRequest{Text: &newText})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if view.Lines[1].Text != newText {
		t.Errorf("expected edited text, got %q", view.Lines[1].Text)
	}
	if !view.ScriptDirty {
		t.Error("expected edit to mark the script dirty")
	}
	if view.Audio.URL != "" {
		t.Errorf("expected audio to be invalidated, got %q", view.Audio.URL)
	}
	if _, _, err := svc.AudioContent(id); !errors.Is(err, ErrNoAudio) {
		t.Errorf("expected stored audio to be dropped, got %v", err)
	}

	// Regeneration synthesizes the edited script.
	if _, err := svc.GenerateAudio(context.Background(), id); err != nil {
		t.Fatalf("GenerateAudio after edit: %v", err)
	}
	if synth.lastLines[1].Text != newText {
		t.Errorf("expected edited line to reach the synthesizer, got %q", synth.lastLines[1].Text)
	}

	if _, err := svc.UpdateLine(id, 1, models.UpdateLineRequest{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty edit, got %v", err)
	}
	if _, err := svc.UpdateLine(id, 99, models.UpdateLineRequest{Text: &newText}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad index, got %v", err)
	}
}

func TestScriptText(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, &fakeSynthesizer{})
	id := svc.CreateSession().ID

	if _, err := svc.ScriptText(id); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without a script, got %v", err)
	}

	if _, err := svc.GenerateScript(context.Background(), id, "gravity"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	text, err := svc.ScriptText(id)
	if err != nil {
		t.Fatalf("ScriptText: %v", err)
	}

	want := "Person A: Hey, I keep hearing about gravity. What is it, really?\n\n" +
		"Person B: At its simplest, gravity is the attraction between things that have mass.\n"
	if text != want {
		t.Errorf("unexpected script text:\n%q\nwant:\n%q", text, want)
	}
}

func TestSessionLifecycleThroughService(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, &fakeSynthesizer{})

	view := svc.CreateSession()
	if view.State != models.StateIdle {
		t.Errorf("expected idle, got %s", view.State)
	}

	got, err := svc.GetSession(view.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != view.ID {
		t.Errorf("expected same session, got %s", got.ID)
	}

	if err := svc.DeleteSession(view.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := svc.GetSession(view.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := svc.GetSession(uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}
