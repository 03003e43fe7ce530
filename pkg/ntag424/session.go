package ntag424

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/barnettlynn/sdmkit/internal/syncutil"
)

// Session holds the keys and counter of one authenticated EV2 session.
// Only the Authenticate functions create a Session. A session is owned by a
// single caller; overlapping secure commands fail with ErrSessionBusy.
type Session struct {
	mu       syncutil.Mutex
	inFlight atomic.Bool

	kenc   [16]byte
	kmac   [16]byte
	ti     [4]byte
	cmdCtr uint16
	keyNo  byte
	closed bool
}

func newSession(ti, kenc, kmac []byte, keyNo byte) *Session {
	s := &Session{keyNo: keyNo}
	copy(s.ti[:], ti)
	copy(s.kenc[:], kenc)
	copy(s.kmac[:], kmac)
	return s
}

// TI returns a copy of the 4-byte transaction identifier.
func (s *Session) TI() []byte {
	return append([]byte(nil), s.ti[:]...)
}

// KeyNo returns the key slot the session authenticated with.
func (s *Session) KeyNo() byte {
	return s.keyNo
}

// Counter returns the current command counter.
func (s *Session) Counter() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdCtr
}

// Usable reports whether the session can still carry secure commands.
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close discards the session. Later secure commands fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.invalidateLocked("closed by caller")
	s.mu.Unlock()
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{TI=%X keyNo=%d ctr=%d}", s.ti[:], s.keyNo, s.Counter())
}

// acquire marks a command in flight. It never blocks.
func (s *Session) acquire() error {
	if s == nil {
		return ErrSessionClosed
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	return nil
}

func (s *Session) release() {
	s.inFlight.Store(false)
}

func (s *Session) invalidateLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	for i := range s.kenc {
		s.kenc[i] = 0
		s.kmac[i] = 0
	}
	slog.Debug("session invalidated", "ti", fmt.Sprintf("%X", s.ti[:]), "reason", reason)
}
