package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koji0701/peter-video-agent/internal/models"
)

var (
	// ErrNotFound indicates an unknown or expired session ID.
	ErrNotFound = errors.New("session not found")
	// ErrBusy indicates a generation is already running for the session.
	ErrBusy = errors.New("session is busy with another generation")
	// ErrNoScript indicates audio was requested before a script exists.
	ErrNoScript = errors.New("session has no script")
	// ErrNoSuchLine indicates a line edit addressed an index outside the script.
	ErrNoSuchLine = errors.New("script line index out of range")
)

// eventBuffer is the per-subscriber channel capacity. Slow subscribers drop
// events rather than block generation.
const eventBuffer = 16

// Session holds the per-browser-session studio state: topic, script, audio
// and the named generation state. All access goes through its mutators, which
// enforce the state machine and notify subscribers on transitions.
type Session struct {
	ID uuid.UUID

	mu           sync.Mutex
	state        models.State
	topic        string
	lines        []models.ScriptLine
	dirty        bool
	audio        []byte
	audioMime    string
	result       models.AudioResult
	videoURL     string
	errMsg       string
	createdAt    time.Time
	lastActiveAt time.Time
	subscribers  map[chan models.Event]struct{}
}

func newSession(id uuid.UUID) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		state:        models.StateIdle,
		createdAt:    now,
		lastActiveAt: now,
		subscribers:  make(map[chan models.Event]struct{}),
	}
}

// Snapshot returns a copy of the session safe to serialize without the lock.
func (s *Session) Snapshot() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]models.ScriptLine, len(s.lines))
	copy(lines, s.lines)

	return models.SessionView{
		ID:           s.ID,
		State:        s.state,
		Topic:        s.topic,
		Lines:        lines,
		ScriptDirty:  s.dirty,
		Audio:        s.result,
		VideoURL:     s.videoURL,
		Error:        s.errMsg,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
	}
}

// BeginScript moves the session into script generation for the given topic,
// wiping script, audio, video and error state in one step so a failed or
// stale run never leaks into the new one.
func (s *Session) BeginScript(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Busy() {
		return ErrBusy
	}

	s.topic = topic
	s.lines = nil
	s.dirty = false
	s.audio = nil
	s.audioMime = ""
	s.result = models.AudioResult{}
	s.videoURL = ""
	s.errMsg = ""
	s.setState(models.StateGeneratingScript, "")
	return nil
}

// FinishScript stores the generated script and returns the session to an
// editable state.
func (s *Session) FinishScript(lines []models.ScriptLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = make([]models.ScriptLine, len(lines))
	copy(s.lines, lines)
	s.dirty = false
	s.setState(models.StateScriptReady, "")
}

// FailScript records a script generation failure.
func (s *Session) FailScript(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errMsg = msg
	s.setState(models.StateErrored, msg)
}

// BeginAudio moves the session into audio generation and returns a copy of
// the script lines to synthesize.
func (s *Session) BeginAudio() ([]models.ScriptLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Busy() {
		return nil, ErrBusy
	}
	if len(s.lines) == 0 {
		return nil, ErrNoScript
	}

	lines := make([]models.ScriptLine, len(s.lines))
	copy(lines, s.lines)

	s.errMsg = ""
	s.setState(models.StateGeneratingAudio, "")
	return lines, nil
}

// FinishAudio stores the outcome of an audio run. Synthesis failures are
// absorbed into the result (placeholder URL plus status), so this is the only
// exit from the generating_audio state: audio_ready when a playable URL
// exists, script_ready otherwise. Either way the script is no longer dirty.
func (s *Session) FinishAudio(audio []byte, mime string, result models.AudioResult, videoURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audio = audio
	s.audioMime = mime
	s.result = result
	if videoURL != "" {
		s.videoURL = videoURL
	}
	s.dirty = false

	next := models.StateAudioReady
	if result.URL == "" {
		next = models.StateScriptReady
	}
	s.setState(next, result.StatusMessage)
}

// UpdateLine applies a partial edit to one script line. Any edit, including
// one that writes back identical text, marks the script dirty and invalidates
// previously generated audio.
func (s *Session) UpdateLine(index int, speaker, text *string) (models.ScriptLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Busy() {
		return models.ScriptLine{}, ErrBusy
	}
	if index < 0 || index >= len(s.lines) {
		return models.ScriptLine{}, ErrNoSuchLine
	}

	if speaker != nil {
		s.lines[index].Speaker = *speaker
	}
	if text != nil {
		s.lines[index].Text = *text
	}

	s.dirty = true
	s.audio = nil
	s.audioMime = ""
	s.result = models.AudioResult{}
	if s.state == models.StateAudioReady {
		s.setState(models.StateScriptReady, "")
	} else {
		s.lastActiveAt = time.Now()
	}
	return s.lines[index], nil
}

// Audio returns the stored audio bytes and their MIME type.
func (s *Session) Audio() ([]byte, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio, s.audioMime
}

// Subscribe registers a new event channel. The caller must Unsubscribe when
// done or the channel leaks until the session is deleted.
func (s *Session) Subscribe() chan models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan models.Event, eventBuffer)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (s *Session) Unsubscribe(ch chan models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// PublishProgress fans out a per-segment progress event during audio runs.
func (s *Session) PublishProgress(done, total int, speaker string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(models.Event{
		Type:    models.EventSegment,
		State:   s.state,
		Segment: done,
		Total:   total,
		Speaker: speaker,
	})
}

// setState transitions the state, refreshes activity and notifies
// subscribers. Callers must hold s.mu.
func (s *Session) setState(next models.State, status string) {
	s.state = next
	s.lastActiveAt = time.Now()
	s.publish(models.Event{Type: models.EventState, State: next, Status: status})
}

// publish fans an event out without blocking. Callers must hold s.mu.
func (s *Session) publish(ev models.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close shuts down every subscriber channel. Used on delete and expiry.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// expired reports whether the session has been idle past the cutoff. Busy
// sessions never expire mid-generation.
func (s *Session) expired(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Busy() && s.lastActiveAt.Before(cutoff)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}
