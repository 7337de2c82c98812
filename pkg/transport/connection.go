package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/session"
	"github.com/shiv248/kolaborate/internal/user"
	"github.com/shiv248/kolaborate/pkg/logger"
)

// readTimeout bounds how long a connection may go without sending
// anything before its read is abandoned and the connection torn down.
const readTimeout = 60 * time.Second

// Connection is a single client's WebSocket handle on one Document,
// carrying the XML message schema over nhooyr.io/websocket.
type Connection struct {
	userID uint32
	doc    *Document
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	sendMu sync.Mutex
}

// NewConnection allocates a user id from doc and wraps conn.
func NewConnection(doc *Document, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		userID: doc.NextUserID(),
		doc:    doc,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handle runs the connection's lifecycle: join, full synchronization,
// then the read loop dispatching <request>/<user-status>/
// <user-color-change> elements until the client disconnects.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.cleanup()

	c.doc.addConnection(c, fmt.Sprintf("user-%d", c.userID))

	if err := c.sendSync(); err != nil {
		return fmt.Errorf("transport: sync user %d: %w", c.userID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, readTimeout)
		typ, data, err := c.conn.Read(readCtx)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		if err := c.dispatch(data); err != nil {
			logger.Warn("transport: user %d sent a bad message: %v", c.userID, err)
		}
	}
}

// sendSync streams a full synchronization to a freshly joined client:
// this process's Document is always the publisher, so every new
// connection gets exactly this, never a Member-role handshake.
func (c *Connection) sendSync() error {
	c.doc.mu.Lock()
	items, err := session.BuildSyncItems(c.doc.Session)
	c.doc.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.sendXML(protocol.SyncBegin{NumMessages: len(items)}); err != nil {
		return err
	}
	for _, it := range items {
		var payload any
		switch {
		case it.User != nil:
			payload = *it.User
		case it.Request != nil:
			payload = *it.Request
		case it.Segment != nil:
			payload = *it.Segment
		default:
			continue
		}
		if err := c.sendXML(payload); err != nil {
			return err
		}
	}
	return c.sendXML(protocol.SyncEnd{})
}

// dispatch decodes one incoming XML frame by its root element name and
// routes it to the document's session.
func (c *Connection) dispatch(data []byte) error {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("transport: malformed frame: %w", err)
	}

	switch probe.XMLName.Local {
	case "request":
		var elem protocol.RequestElem
		if err := xml.Unmarshal(data, &elem); err != nil {
			return fmt.Errorf("transport: bad request: %w", err)
		}
		return c.doc.Receive(c, elem)

	case "user-status":
		var m protocol.UserStatusMsg
		if err := xml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("transport: bad user-status: %w", err)
		}
		return c.doc.ReceiveUserStatus(m.User, user.ParseStatus(m.Status))

	case "user-color-change":
		var m protocol.UserColorChangeMsg
		if err := xml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("transport: bad user-color-change: %w", err)
		}
		return c.doc.ReceiveUserColorChange(m.User, m.Hue)

	case "sync-ack", "subscribe":
		// This process always pushes a full sync proactively on connect
		// (see sendSync); a resubscribe/ack needs no action.
		return nil

	default:
		return fmt.Errorf("transport: unknown message %q", probe.XMLName.Local)
	}
}

// sendXML marshals v and writes it as one WebSocket text frame.
func (c *Connection) sendXML(v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	writeCtx, writeCancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer writeCancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Connection) cleanup() {
	logger.Info("transport: user %d disconnected from doc %s", c.userID, c.doc.ID)
	c.doc.removeConnection(c.userID)
	c.cancel()
}
