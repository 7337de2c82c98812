// Package session wraps an algorithm.Algorithm with the participant table,
// the group status machine, and the "central method" message-forwarding
// rule a publisher/subscriber group uses once synchronized.
package session

import (
	"fmt"
	"sync"

	"github.com/shiv248/kolaborate/internal/algorithm"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/user"
	"github.com/shiv248/kolaborate/internal/vector"
)

// Status is a session's position in the PRESYNC -> SYNCHRONIZING ->
// RUNNING -> CLOSED machine.
type Status int

const (
	PreSync Status = iota
	Synchronizing
	Running
	Closed
)

func (s Status) String() string {
	switch s {
	case PreSync:
		return "presync"
	case Synchronizing:
		return "synchronizing"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes the publisher (authoritative for the central method)
// from an ordinary group member.
type Role int

const (
	Publisher Role = iota
	Member
)

// StatusHandler is invoked whenever the session's status changes.
type StatusHandler func(Status)

// OutgoingHandler is how a Session asks its transport to send a message to
// every other group member. origin is the user whose message this is (so
// the transport can skip echoing it back to its own sender).
type OutgoingHandler func(origin uint32, msg any)

// Session is the participant-facing wrapper around one document's
// Algorithm: it owns the Status machine, the user table, and decides,
// per the central method, whether an incoming message may be trusted.
type Session struct {
	mu sync.Mutex

	status Status
	role   Role

	Algo  *algorithm.Algorithm
	Users *user.Table

	statusHandlers []StatusHandler
	outgoing       []OutgoingHandler
}

// New returns a fresh, not-yet-synchronized session around algo, in the
// given role. A publisher starts Running immediately (it has nothing to
// sync against); a member starts PreSync. A member that joins through
// synchronization is built Running by Syncer.Finish instead.
func New(algo *algorithm.Algorithm, role Role) *Session {
	s := &Session{
		Algo:  algo,
		Users: user.NewTable(),
		role:  role,
	}
	if role == Publisher {
		s.status = Running
	} else {
		s.status = PreSync
	}
	return s
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Role returns whether this session is the group's publisher.
func (s *Session) Role() Role { return s.role }

// OnStatusChange registers a handler invoked on every status transition.
func (s *Session) OnStatusChange(h StatusHandler) { s.statusHandlers = append(s.statusHandlers, h) }

// OnOutgoing registers a handler the session uses to hand off a message
// for broadcast to other group members (wired to pkg/transport).
func (s *Session) OnOutgoing(h OutgoingHandler) { s.outgoing = append(s.outgoing, h) }

func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	s.status = next
	s.mu.Unlock()
	for _, h := range s.statusHandlers {
		h(next)
	}
}

// Close transitions the session to CLOSED. Idempotent.
func (s *Session) Close() {
	if s.Status() == Closed {
		return
	}
	s.setStatus(Closed)
}

// fail transitions to CLOSED in response to a fatal protocol error.
// ReceiveRequest calls it when a request fails to apply while Running.
func (s *Session) fail(err *protocol.Error) *protocol.Error {
	s.setStatus(Closed)
	return err
}

func (s *Session) broadcast(origin uint32, msg any) {
	for _, h := range s.outgoing {
		h(origin, msg)
	}
}

// LocalRequest forwards a request generated by this process's own local
// user (already committed to Algo by the caller via GenerateLocal/
// GenerateUndo/GenerateRedo) and, if this session is Running, forwards it
// to the rest of the group per the central method: a publisher
// broadcasts directly; a member sends it to the publisher only (the
// transport layer is expected to route a Member's outgoing traffic to the
// publisher connection specifically, not to other members).
func (s *Session) LocalRequest(r *request.Request) {
	if s.Status() != Running {
		return
	}
	s.broadcast(r.User, r)
}

// ReceiveRequest handles a request arriving from the transport layer.
// fromPublisher must be true when the message arrived over the
// connection to the group's publisher; central-method forwarding trusts a
// non-publisher message only when this session itself is the publisher.
func (s *Session) ReceiveRequest(fromPublisher bool, r *request.Request) error {
	if s.Status() != Running {
		return fmt.Errorf("session: not running (status=%s)", s.Status())
	}
	if s.role != Publisher && !fromPublisher {
		// Central method: a non-publisher never trusts a peer-to-peer
		// message, only ones that actually came from the publisher.
		return nil
	}
	if err := s.Algo.Receive(r); err != nil {
		// An operation that fails to apply is a fatal session error, not a
		// discarded message: it indicates the algorithm diverged from the
		// rest of the group.
		s.fail(&protocol.Error{Domain: "request", Code: protocol.InvalidRequest, Message: err.Error()})
		return err
	}
	if s.role == Publisher {
		s.broadcast(r.User, r)
	}
	return nil
}

// ReceiveUserStatus and ReceiveUserColorChange apply and, if this session
// is the publisher, re-broadcast the two text-only session messages sent
// alongside <request/>.
func (s *Session) ReceiveUserStatus(fromPublisher bool, userID uint32, status user.Status) error {
	if s.role != Publisher && !fromPublisher {
		return nil
	}
	u, ok := s.Users.Get(userID)
	if !ok {
		return newNoSuchUser(userID)
	}
	u.Status = status
	if s.role == Publisher {
		s.broadcast(userID, protocol.UserStatusMsg{User: userID, Status: status.String()})
	}
	return nil
}

func (s *Session) ReceiveUserColorChange(fromPublisher bool, userID uint32, hue float64) error {
	if s.role != Publisher && !fromPublisher {
		return nil
	}
	u, ok := s.Users.Get(userID)
	if !ok {
		return newNoSuchUser(userID)
	}
	u.Hue = hue
	if s.role == Publisher {
		s.broadcast(userID, protocol.UserColorChangeMsg{User: userID, Hue: hue})
	}
	return nil
}

func newNoSuchUser(userID uint32) *protocol.Error {
	return &protocol.Error{Domain: "request", Code: protocol.NoSuchUser, Message: fmt.Sprintf("no such user %d", userID)}
}

// GroupVector returns the vector incoming/outgoing request messages
// should be diffed against: the session's own algorithm's current
// vector. Under the central method's total ordering this is always the
// last vector both this session and its peers agree the group has
// reached.
func (s *Session) GroupVector() *vector.Vector {
	return s.Algo.CurrentVector()
}
