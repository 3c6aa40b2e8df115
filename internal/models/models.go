package models

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session. A session is busy while in
// StateGeneratingScript or StateGeneratingAudio and rejects overlapping
// generation requests.
type State string

const (
	StateIdle             State = "idle"
	StateGeneratingScript State = "generating_script"
	StateScriptReady      State = "script_ready"
	StateGeneratingAudio  State = "generating_audio"
	StateAudioReady       State = "audio_ready"
	StateErrored          State = "errored"
)

// Busy reports whether a generation is in flight for this state.
func (s State) Busy() bool {
	return s == StateGeneratingScript || s == StateGeneratingAudio
}

// ScriptLine is one dialogue line. Identity is positional: edits replace
// text (and optionally speaker) at an index, there is no stable line id.
type ScriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AudioResult is the outcome of one synthesis attempt. URL is empty when no
// audio exists. A new attempt replaces the previous result wholesale.
type AudioResult struct {
	URL           string `json:"url"`
	StatusMessage string `json:"status_message"`
}

// SessionView is the API snapshot of a session.
type SessionView struct {
	ID           uuid.UUID    `json:"id"`
	State        State        `json:"state"`
	Topic        string       `json:"topic,omitempty"`
	Lines        []ScriptLine `json:"lines"`
	ScriptDirty  bool         `json:"script_dirty"`
	Audio        AudioResult  `json:"audio"`
	VideoURL     string       `json:"video_url,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// Event types pushed to session subscribers.
const (
	EventState   = "state"   // lifecycle transition
	EventSegment = "segment" // per-line synthesis progress
)

// Event is pushed to session subscribers over the websocket stream.
type Event struct {
	Type    string `json:"type"`
	State   State  `json:"state,omitempty"`
	Status  string `json:"status,omitempty"`
	Segment int    `json:"segment,omitempty"`
	Total   int    `json:"total,omitempty"`
	Speaker string `json:"speaker,omitempty"`
}

// GenerateScriptRequest is the body of POST /v1/sessions/{id}/script
type GenerateScriptRequest struct {
	Topic string `json:"topic"`
}

// UpdateLineRequest is the body of PUT /v1/sessions/{id}/script/lines/{index}.
// Nil fields keep the current value; text-only edits are the common case.
type UpdateLineRequest struct {
	Speaker *string `json:"speaker,omitempty"`
	Text    *string `json:"text,omitempty"`
}

// CreateSessionResponse is returned by POST /v1/sessions
type CreateSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
