package replay

import (
	"encoding/xml"
	"fmt"

	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/request"
)

// Recorder accumulates requests as a session applies them, in reception
// order, so the session's history can be reconstructed later from the
// initial buffer plus this sequence. Grounded on
// inf_adopted_session_record_start_recording/stop_recording; unlike the
// GObject original this has no open file descriptor to hold — a caller
// starts one by constructing a Recorder from the buffer's state at that
// moment and stops by simply discarding it (or keeping its Marshal
// output).
type Recorder struct {
	initial  *buffer.Buffer
	requests []*request.Request
}

// NewRecorder starts recording from initial's current content. initial is
// copied; later mutations to the caller's buffer do not affect the
// recording.
func NewRecorder(initial *buffer.Buffer) *Recorder {
	return &Recorder{initial: buffer.FromChunk(initial.Content())}
}

// Record appends r to the recording. Callers wire this to the same
// point a session commits a request (algorithm.Algorithm's OnApply
// handler), so the record matches exactly what was actually applied.
func (rec *Recorder) Record(r *request.Request) {
	rec.requests = append(rec.requests, r)
}

// Marshal renders the recording as an <infinote-adopted-session-record>
// document.
func (rec *Recorder) Marshal() ([]byte, error) {
	doc := recordElem{}
	for _, run := range rec.initial.Content().Runs() {
		doc.Buffer.Segments = append(doc.Buffer.Segments, recordSegmentElem{Author: run.Author, Text: run.Text})
	}
	for _, r := range rec.requests {
		rr, err := encodeRequestRecord(r)
		if err != nil {
			return nil, fmt.Errorf("replay: marshal record: %w", err)
		}
		doc.Requests = append(doc.Requests, rr)
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("replay: marshal record: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
