// Package transport is the WebSocket transport layer: a bidirectional
// framed message channel carrying XML documents, where the core engine
// observes only connection-status, received(xml) and sent(xml) events.
// It handles nhooyr.io/websocket connections framed as XML and wires
// them to internal/session.
package transport

import (
	"sync"
	"time"

	"github.com/shiv248/kolaborate/internal/algorithm"
	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/session"
	"github.com/shiv248/kolaborate/internal/user"
	"github.com/shiv248/kolaborate/internal/vector"
	"github.com/shiv248/kolaborate/pkg/logger"
)

const maxLogSize = 4096

// Document is one collaboratively-edited text's process-local state: the
// session this server process is authoritative (Publisher) for, its
// live connections, the OTP that gates who may subscribe, and the
// diff-encoding baseline a broadcast needs (see broadcastOrigin).
//
// The core engine assumes a single-threaded cooperative event loop: all
// buffer mutations, log appends and vector updates run on one thread. A
// WebSocket server naturally gives each connection its own goroutine
// instead, so mu reproduces that single-loop guarantee explicitly: every
// method that touches Session or connections holds it for the entire
// operation, including the synchronous broadcast callback Session fires
// while still inside the locked call. broadcastLocked is therefore never
// called except while mu is already held, and never takes the lock
// itself — taking it would deadlock against the non-reentrant mutex.
//
// One process owns exactly one Document per document id, so it always
// plays the publisher half of the central method against every
// WebSocket-connected client; Member-role synchronization is exercised
// where a second *process* joins, which this single-server transport
// does not model (see DESIGN.md).
type Document struct {
	mu sync.Mutex

	ID      string
	OTP     string
	Session *session.Session

	LastAccessed time.Time

	connections map[uint32]*Connection
	nextUserID  uint32

	// broadcastOrigin is the group vector captured immediately before
	// the request currently being committed was received, so that a
	// rebroadcast to other connections (who have not yet applied it) can
	// diff-encode against the same baseline the original sender used.
	broadcastOrigin *vector.Vector
}

func newDocument(id, otp string, algo *algorithm.Algorithm) *Document {
	d := &Document{
		ID:          id,
		OTP:         otp,
		Session:     session.New(algo, session.Publisher),
		connections: make(map[uint32]*Connection),
		nextUserID:  1,
	}
	d.Session.OnOutgoing(d.broadcastLocked)
	return d
}

// NewDocument creates a fresh, empty document, its session running as
// Publisher from the start (nothing to synchronize against).
func NewDocument(id, otp string) *Document {
	return newDocument(id, otp, algorithm.New(buffer.New(), maxLogSize))
}

// FromSnapshot restores a document from a previously persisted buffer
// (internal/storage.Store.Read), preserving history loss the same way a
// fresh process restart always has: the restored session starts with an
// empty request log, since the on-disk format only retains buffer
// content, not per-user history. Full history survives only via
// internal/replay.
func FromSnapshot(id, otp string, buf *buffer.Buffer) *Document {
	return newDocument(id, otp, algorithm.New(buf, maxLogSize))
}

// Protect sets otp as the document's required connection secret,
// replacing any prior one. An empty OTP (the zero value a Document
// starts with) means unprotected.
func (d *Document) Protect(otp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OTP = otp
}

// CheckOTP reports whether otp authorizes a connection: always true for
// an unprotected document, otherwise an exact match against the current
// secret. This is the transport-level "authorized" flag the core engine
// receives already resolved, with no knowledge of document ACLs.
func (d *Document) CheckOTP(otp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.OTP == "" || d.OTP == otp
}

// NextUserID allocates a fresh id for a newly connecting participant.
func (d *Document) NextUserID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextUserID
	d.nextUserID++
	return id
}

// addConnection registers c and joins its user into the shared table,
// under one lock so a concurrent edit from another connection cannot
// observe the user table mid-join.
func (d *Document) addConnection(c *Connection, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connections[c.userID] = c
	u := &user.User{ID: c.userID, Name: name, Status: user.Active, Flags: user.Flags{Local: false}}
	if err := d.Session.Users.Add(u); err != nil {
		logger.Warn("transport: add user %d to doc %s: %v", c.userID, d.ID, err)
	}
}

func (d *Document) removeConnection(userID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.connections, userID)
	d.Session.Users.Remove(userID)
}

// Receive decodes and applies an incoming <request> element from c.
func (d *Document) Receive(c *Connection, elem protocol.RequestElem) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	origin := d.Session.GroupVector().Copy()
	d.broadcastOrigin = origin

	r, err := protocol.DecodeRequest(elem, origin)
	if err != nil {
		return err
	}
	return d.Session.ReceiveRequest(false, r)
}

// ReceiveUserStatus and ReceiveUserColorChange apply and broadcast the
// two text-only session messages, under the same lock as Receive.
func (d *Document) ReceiveUserStatus(userID uint32, status user.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Session.ReceiveUserStatus(false, userID, status)
}

func (d *Document) ReceiveUserColorChange(userID uint32, hue float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Session.ReceiveUserColorChange(false, userID, hue)
}

// broadcastLocked is Session's OnOutgoing callback. It is only ever
// invoked synchronously from within a method above that already holds
// mu, so it must not (and does not) lock it itself.
func (d *Document) broadcastLocked(originUser uint32, msg any) {
	var payload any
	switch m := msg.(type) {
	case *request.Request:
		elem, err := protocol.EncodeRequest(m, d.broadcastOrigin)
		if err != nil {
			logger.Warn("transport: encode broadcast request for doc %s: %v", d.ID, err)
			return
		}
		payload = elem
	default:
		payload = msg
	}

	for _, c := range d.connections {
		if c.userID == originUser {
			continue
		}
		if err := c.sendXML(payload); err != nil {
			logger.Warn("transport: broadcast to user %d on doc %s: %v", c.userID, d.ID, err)
		}
	}
}

// Snapshot returns the document's current buffer, for persistence.
func (d *Document) Snapshot() *buffer.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Session.Algo.Buffer()
}
