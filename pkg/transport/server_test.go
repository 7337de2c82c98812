package transport

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/operation"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/vector"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(nil)
}

func dial(t *testing.T, ts *httptest.Server, docID, otp string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/" + docID
	if otp != "" {
		url += "?otp=" + otp
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", docID, err)
	}
	return conn
}

// readFrame reads one text frame and unmarshals it by root element name
// into dst, failing the test if the name does not match want.
func readFrame(t *testing.T, conn *websocket.Conn, want string, dst any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected text frame, got %v", typ)
	}
	var probe struct{ XMLName xml.Name }
	if err := xml.Unmarshal(data, &probe); err != nil {
		t.Fatalf("unmarshal probe: %v", err)
	}
	if probe.XMLName.Local != want {
		t.Fatalf("expected <%s>, got <%s>: %s", want, probe.XMLName.Local, data)
	}
	if dst != nil {
		if err := xml.Unmarshal(data, dst); err != nil {
			t.Fatalf("unmarshal %s: %v", want, err)
		}
	}
}

func drainSync(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	var begin protocol.SyncBegin
	readFrame(t, conn, "sync-begin", &begin)
	for i := 0; i < begin.NumMessages; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("drain sync item %d: %v", i, err)
		}
	}
	readFrame(t, conn, "sync-end", nil)
	return begin.NumMessages
}

func writeXML(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := xml.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func insertRequest(t *testing.T, userID uint32, pos uint32, text string) protocol.RequestElem {
	t.Helper()
	origin := vector.New()
	r := &request.Request{
		Vector: vector.New(),
		User:   userID,
		Kind:   request.Do,
		Operation: &operation.Insert{
			Pos:   pos,
			Chunk: chunk.FromRun(text, userID),
		},
	}
	elem, err := protocol.EncodeRequest(r, origin)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return elem
}

func TestNewConnectionReceivesEmptySync(t *testing.T) {
	ts := httptest.NewServer(testServer(t))
	defer ts.Close()

	conn := dial(t, ts, "doc-a", "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	n := drainSync(t, conn)
	if n != 1 {
		t.Fatalf("expected a brand new document's sync to carry only the joining user's own sync-user, got %d items", n)
	}
}

func TestInsertBroadcastsToOtherConnection(t *testing.T) {
	ts := httptest.NewServer(testServer(t))
	defer ts.Close()

	a := dial(t, ts, "doc-b", "")
	defer a.Close(websocket.StatusNormalClosure, "")
	drainSync(t, a)

	b := dial(t, ts, "doc-b", "")
	defer b.Close(websocket.StatusNormalClosure, "")
	drainSync(t, b)

	writeXML(t, a, insertRequest(t, 1, 0, "hello"))

	var elem protocol.RequestElem
	readFrame(t, b, "request", &elem)

	op, err := protocol.DecodeOperation(elem.Operation)
	if err != nil {
		t.Fatalf("decode operation: %v", err)
	}
	ins, ok := op.(*operation.Insert)
	if !ok {
		t.Fatalf("expected an insert operation, got %T", op)
	}
	if ins.Chunk.String() != "hello" {
		t.Fatalf("expected broadcast text %q, got %q", "hello", ins.Chunk.String())
	}
}

func TestTextEndpointReflectsAppliedInsert(t *testing.T) {
	ts := httptest.NewServer(testServer(t))
	defer ts.Close()

	conn := dial(t, ts, "doc-c", "")
	defer conn.Close(websocket.StatusNormalClosure, "")
	drainSync(t, conn)

	writeXML(t, conn, insertRequest(t, 1, 0, "abc"))
	time.Sleep(50 * time.Millisecond) // let the server-side goroutine apply it

	resp, err := http.Get(ts.URL + "/api/text/doc-c")
	if err != nil {
		t.Fatalf("GET /api/text: %v", err)
	}
	defer resp.Body.Close()

	var buf strings.Builder
	buf.ReadFrom(resp.Body) //nolint:errcheck
	if buf.String() != "abc" {
		t.Fatalf("expected text %q, got %q", "abc", buf.String())
	}
}

func TestProtectedDocumentRejectsWrongOTP(t *testing.T) {
	ts := httptest.NewServer(testServer(t))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/document/doc-d/protect", "application/json", nil)
	if err != nil {
		t.Fatalf("protect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/doc-d"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial without otp to be rejected")
	}
}

func TestStatsReportsDocumentCount(t *testing.T) {
	ts := httptest.NewServer(testServer(t))
	defer ts.Close()

	conn := dial(t, ts, "doc-e", "")
	defer conn.Close(websocket.StatusNormalClosure, "")
	drainSync(t, conn)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.NumDocuments < 1 {
		t.Fatalf("expected at least 1 document, got %d", stats.NumDocuments)
	}
}
