package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/kolaborate/internal/storage"
	"github.com/shiv248/kolaborate/pkg/logger"
	"github.com/shiv248/kolaborate/pkg/secret"
)

// Stats is the /api/stats payload: enough for an operator to eyeball
// process health without a metrics stack.
type Stats struct {
	StartTime    int64 `json:"start_time"`
	NumDocuments int   `json:"num_documents"`
}

// Server is the HTTP entrypoint: WebSocket upgrades, a plain-text
// snapshot read, OTP protection, and the stats/cleanup ceremony, built
// on pkg/transport.Document and internal/session.
type Server struct {
	mux *http.ServeMux

	mu        sync.Mutex
	documents map[string]*Document

	store     *storage.Store // nil disables persistence
	startTime time.Time
}

// NewServer builds a Server. store may be nil, in which case documents
// live only for the process's lifetime.
func NewServer(store *storage.Store) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		documents: make(map[string]*Document),
		store:     store,
		startTime: time.Now(),
	}
	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	s.mux.HandleFunc("/api/text/", s.handleText)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/document/", s.handleProtect)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades to a WebSocket and hands the connection off to
// its document. Route: /api/socket/{id}[?otp=...].
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/api/socket/")
	if docID == "" {
		http.Error(w, "document ID required", http.StatusBadRequest)
		return
	}

	doc := s.getOrCreateDocument(docID)
	if !doc.CheckOTP(r.URL.Query().Get("otp")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Warn("transport: upgrade failed for doc %s: %v", docID, err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := NewConnection(doc, conn)
	if err := c.Handle(r.Context()); err != nil {
		logger.Info("transport: connection to doc %s ended: %v", docID, err)
	}
}

// handleText returns the document's current plain text.
// Route: /api/text/{id}
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/api/text/")
	if docID == "" {
		http.Error(w, "document ID required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	s.mu.Lock()
	doc, ok := s.documents[docID]
	s.mu.Unlock()
	if ok {
		w.Write([]byte(doc.Snapshot().String()))
		return
	}

	if s.store != nil {
		if buf, err := s.store.Read(docID); err == nil && buf != nil {
			w.Write([]byte(buf.String()))
			return
		}
	}
}

// handleStats reports process-wide counters.
// Route: /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	numDocs := len(s.documents)
	s.mu.Unlock()

	stats := Stats{StartTime: s.startTime.Unix(), NumDocuments: numDocs}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleProtect enables OTP protection on a document, returning the
// generated secret. Route: POST /api/document/{id}/protect
func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/document/")
	docID, action, ok := strings.Cut(path, "/")
	if !ok || action != "protect" || docID == "" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	doc := s.getOrCreateDocument(docID)
	otp := secret.Generate()
	doc.Protect(otp)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		OTP string `json:"otp"`
	}{OTP: otp})
}

// getOrCreateDocument returns the in-memory document for id, restoring
// it from storage on first access if a persisted snapshot exists.
func (s *Server) getOrCreateDocument(id string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.documents[id]; ok {
		doc.LastAccessed = time.Now()
		return doc
	}

	var doc *Document
	if s.store != nil {
		if buf, err := s.store.Read(id); err == nil && buf != nil {
			logger.Info("transport: restored doc %s from storage", id)
			doc = FromSnapshot(id, "", buf)
		} else if err != nil {
			logger.Warn("transport: load doc %s from storage: %v", id, err)
		}
	}
	if doc == nil {
		doc = NewDocument(id, "")
	}
	doc.LastAccessed = time.Now()
	s.documents[id] = doc

	if s.store != nil {
		go s.persister(context.Background(), id, doc)
	}
	return doc
}

// persister periodically snapshots doc to storage, jittered to avoid a
// thundering herd when many documents were created at once.
func (s *Server) persister(ctx context.Context, id string, doc *Document) {
	const interval = 3 * time.Second
	const jitter = 1 * time.Second

	for {
		wait := interval + time.Duration(rand.Int63n(int64(jitter)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		s.mu.Lock()
		_, alive := s.documents[id]
		s.mu.Unlock()
		if !alive {
			return
		}

		if err := s.store.Write(id, doc.Snapshot()); err != nil {
			logger.Warn("transport: persist doc %s: %v", id, err)
		}
	}
}

// StartCleaner runs until ctx is done, evicting documents idle longer
// than expiry from memory (their last snapshot, if any, stays in
// storage).
func (s *Server) StartCleaner(ctx context.Context, expiry time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired(expiry)
		}
	}
}

func (s *Server) evictExpired(expiry time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, doc := range s.documents {
		if now.Sub(doc.LastAccessed) > expiry {
			if s.store != nil {
				if err := s.store.Write(id, doc.Snapshot()); err != nil {
					logger.Warn("transport: final persist of doc %s before eviction: %v", id, err)
				}
			}
			logger.Info("transport: evicting idle doc %s", id)
			delete(s.documents, id)
		}
	}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("transport: listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

// Shutdown persists every in-memory document one final time.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	for id, doc := range s.documents {
		if err := s.store.Write(id, doc.Snapshot()); err != nil {
			logger.Warn("transport: final persist of doc %s on shutdown: %v", id, err)
			return fmt.Errorf("transport: shutdown persist %s: %w", id, err)
		}
	}
	return nil
}
