package toversok

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/edup2p/peerprobe/types/peer"
)

// Session is the shared state of one probe run.
//
// It is written from the inbound message callback and read from the polling loop, every accessor locks.
type Session struct {
	mu sync.Mutex

	self peer.Identity

	// target is the resolved peer on the initiator, and the pinned peer under test on the responder.
	target peer.Identity

	correlation uint64
	sentAt      time.Time
	probes      int

	ack *msgprobe.Envelope

	replies int

	err error
}

func NewSession(self peer.Identity) *Session {
	return &Session{self: self}
}

func (s *Session) Self() peer.Identity {
	return s.self
}

func (s *Session) SetTarget(id peer.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.target = id
}

func (s *Session) Target() peer.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.target
}

// PinPeer fixes id as the peer under test if no peer is fixed yet.
//
// It reports whether id is the peer under test.
func (s *Session) PinPeer(id peer.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target.IsZero() {
		s.target = id
		slog.Info("pinned peer under test", "peer", id.Short())
	}

	return s.target == id
}

// RecordProbe remembers the correlation and time of a sent probe.
func (s *Session) RecordProbe(correlation uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probes == 0 || s.correlation != correlation {
		s.sentAt = at
	}

	s.correlation = correlation
	s.probes++
}

// Probe returns the correlation value and time of the first sent probe, and how many times it was sent.
func (s *Session) Probe() (correlation uint64, sentAt time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.correlation, s.sentAt, s.probes
}

// ObserveAck stores env as the acknowledgment, if none was observed yet.
//
// It reports whether env was stored.
func (s *Session) ObserveAck(env *msgprobe.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ack != nil {
		return false
	}

	s.ack = env
	return true
}

func (s *Session) AckObserved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ack != nil
}

// Ack returns the observed acknowledgment, or nil.
func (s *Session) Ack() *msgprobe.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ack
}

func (s *Session) CountReply() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies++
}

func (s *Session) Replies() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replies
}

// Fail records the first fatal error raised outside the polling loop.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = err
	}
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}
