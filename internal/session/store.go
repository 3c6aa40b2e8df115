package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// sweepInterval is how often the store scans for idle sessions.
const sweepInterval = 1 * time.Minute

// Store keeps all live sessions in memory and expires the ones that have
// been idle longer than the configured TTL. There is no persistence: a
// restart forgets everything.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	ttl     time.Duration
	ticker  *time.Ticker
	stopped chan struct{}
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*Session),
		ttl:      ttl,
		ticker:   time.NewTicker(sweepInterval),
		stopped:  make(chan struct{}),
	}
}

// Create registers a new session in the idle state.
func (st *Store) Create() *Session {
	sess := newSession(uuid.New())

	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()

	log.Info().Str("session_id", sess.ID.String()).Msg("Session created")
	return sess
}

// Get returns the session and refreshes its activity timestamp.
func (st *Store) Get(id uuid.UUID) (*Session, error) {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	sess.touch()
	return sess, nil
}

// Delete removes the session and closes its subscribers.
func (st *Store) Delete(id uuid.UUID) error {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	sess.close()
	log.Info().Str("session_id", id.String()).Msg("Session deleted")
	return nil
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Start launches the background expiry sweeper. It stops when the context is
// cancelled or Stop is called.
func (st *Store) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-st.stopped:
				return
			case <-st.ticker.C:
				st.sweep()
			}
		}
	}()
}

// Stop halts the expiry sweeper.
func (st *Store) Stop() {
	st.ticker.Stop()
	close(st.stopped)
}

func (st *Store) sweep() {
	cutoff := time.Now().Add(-st.ttl)

	st.mu.Lock()
	var expired []*Session
	for id, sess := range st.sessions {
		if sess.expired(cutoff) {
			delete(st.sessions, id)
			expired = append(expired, sess)
		}
	}
	st.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		log.Info().Str("session_id", sess.ID.String()).Msg("Expired idle session")
	}
}
