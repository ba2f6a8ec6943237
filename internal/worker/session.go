package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sequencer serializes WhatsApp provider calls per session and enforces the
// provider's mandatory gap between sends of the same session. Handles are
// in-process only; the bus keeps a session on one worker process at a time.
type Sequencer struct {
	gap     time.Duration
	mu      sync.Mutex
	handles map[string]*sessionHandle
}

type sessionHandle struct {
	mu   sync.Mutex
	refs int
}

func NewSequencer(gap time.Duration) *Sequencer {
	return &Sequencer{
		gap:     gap,
		handles: make(map[string]*sessionHandle),
	}
}

// SessionKey derives the sequencing key: the explicit session name when
// present, else the site-scoped fallback, else "default".
func SessionKey(sessionName *string, siteID uuid.UUID) string {
	if sessionName != nil && *sessionName != "" {
		return *sessionName
	}
	if siteID != uuid.Nil {
		return "site:" + siteID.String()
	}
	return "default"
}

// acquire and release refcount handles so the map holds only keys with
// in-flight or queued sends. A handle with no waiters is dropped.
func (s *Sequencer) acquire(key string) *sessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[key]
	if !ok {
		h = &sessionHandle{}
		s.handles[key] = h
	}
	h.refs++
	return h
}

func (s *Sequencer) release(key string, h *sessionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		delete(s.handles, key)
	}
}

// Do runs fn while holding the session's handle, then waits the full
// inter-message gap before releasing. The gap wait is not interruptible:
// releasing early would let the next send violate the session's pacing, so
// cancellation surfaces only after the gap has elapsed.
func (s *Sequencer) Do(ctx context.Context, key string, fn func() error) error {
	h := s.acquire(key)
	defer s.release(key, h)
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	err := fn()
	time.Sleep(s.gap)

	if err != nil {
		return err
	}
	return ctx.Err()
}
