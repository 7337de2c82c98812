package session

import (
	"github.com/shiv248/kolaborate/internal/algorithm"
	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/user"
	"github.com/shiv248/kolaborate/internal/vector"
)

// Item is one element of a synchronization transfer, tagged by which
// field is set: exactly one of User, Request or Segment per item, sent in
// that relative order (all users, then all requests, then all segments).
type Item struct {
	User    *protocol.SyncUser
	Request *protocol.SyncRequest
	Segment *protocol.SyncSegment
}

// BuildSyncItems snapshots s for transfer to a joining participant: every
// user, every retained request of every user's log in ascending index
// order (so a Syncer can simply Add them back in the order received), then
// the buffer content as a sequence of authored segments.
func BuildSyncItems(s *Session) ([]Item, error) {
	var items []Item

	s.Users.Each(func(u *user.User) {
		v := vector.New()
		v.Set(u.ID, s.Algo.CurrentVector().Get(u.ID))
		su := protocol.EncodeSyncUser(u, v, s.Algo.Log(u.ID).Begin())
		items = append(items, Item{User: &su})
	})

	for _, uid := range s.Algo.UserIDs() {
		log := s.Algo.Log(uid)
		for i := log.Begin(); i < log.End(); i++ {
			r, ok := log.Get(i)
			if !ok {
				continue
			}
			sr, err := protocol.EncodeSyncRequest(r)
			if err != nil {
				return nil, err
			}
			items = append(items, Item{Request: &sr})
		}
	}

	for _, run := range s.Algo.Buffer().Content().Runs() {
		items = append(items, Item{Segment: &protocol.SyncSegment{Author: run.Author, Text: run.Text}})
	}

	return items, nil
}

// Syncer accumulates the items a publisher streams to a joining
// participant and, once exactly NumMessages have arrived and SyncEnd is
// seen, builds the Session the joiner will run. It is the joiner-side
// half of the synchronization protocol; the publisher side is just
// BuildSyncItems plus sending each item followed by a SyncEnd.
type Syncer struct {
	maxLogSize int

	numMessages int
	received    int

	users    []protocol.SyncUser
	requests []protocol.SyncRequest
	segments []protocol.SyncSegment

	err *protocol.Error
}

// NewSyncer starts accumulating a transfer promised to carry numMessages
// items (the sync-begin element's num-messages attribute).
func NewSyncer(numMessages int) *Syncer {
	return &Syncer{numMessages: numMessages}
}

// Failed reports whether this syncer has already recorded a protocol
// error (format or count mismatch); once true, Accept/Finish are no-ops.
func (sy *Syncer) Failed() *protocol.Error { return sy.err }

// Accept records one incoming item. Callers should stop feeding a Syncer
// as soon as Failed returns non-nil.
func (sy *Syncer) Accept(item Item) {
	if sy.err != nil {
		return
	}
	if sy.received >= sy.numMessages {
		sy.err = &protocol.Error{Domain: "sync", Code: protocol.SyncBadFormat, Message: "more sync items than num-messages promised"}
		return
	}
	sy.received++
	switch {
	case item.User != nil:
		sy.users = append(sy.users, *item.User)
	case item.Request != nil:
		sy.requests = append(sy.requests, *item.Request)
	case item.Segment != nil:
		sy.segments = append(sy.segments, *item.Segment)
	default:
		sy.err = &protocol.Error{Domain: "sync", Code: protocol.SyncBadFormat, Message: "empty sync item"}
	}
}

// Finish validates that exactly the promised number of items arrived and
// builds the synchronized Session, in the Member role, at status
// Running. Callers must have already seen SyncEnd before calling this;
// on success the caller should send SyncAck.
func (sy *Syncer) Finish(maxLogSize int) (*Session, *protocol.Error) {
	if sy.err != nil {
		return nil, sy.err
	}
	if sy.received != sy.numMessages {
		return nil, &protocol.Error{
			Domain:  "sync",
			Code:    protocol.SyncUnexpectedEOF,
			Message: "sync-end arrived after only a partial transfer",
		}
	}

	buf := chunk.New()
	for _, seg := range sy.segments {
		buf = chunk.Concat(buf, chunk.FromRun(seg.Text, seg.Author))
	}

	logs := make(map[uint32]*request.Log)
	byUser := make(map[uint32][]protocol.SyncRequest)
	for _, sr := range sy.requests {
		byUser[sr.User] = append(byUser[sr.User], sr)
	}

	current := vector.New()
	users := user.NewTable()
	for _, su := range sy.users {
		v, err := vector.Parse(su.Vector)
		if err != nil {
			return nil, &protocol.Error{Domain: "sync", Code: protocol.SyncBadFormat, Message: "bad sync-user vector: " + err.Error()}
		}
		v.ForEach(func(u, n uint32) { current.Set(u, n) })

		if err := users.Add(&user.User{
			ID:        su.ID,
			Name:      su.Name,
			Status:    user.ParseStatus(su.Status),
			Caret:     su.Caret,
			Selection: su.Selection,
			Hue:       su.Hue,
		}); err != nil {
			return nil, &protocol.Error{Domain: "sync", Code: protocol.SyncBadFormat, Message: err.Error()}
		}

		log := request.NewLogAt(su.ID, su.LogBegin)
		for _, sr := range byUser[su.ID] {
			r, err := protocol.DecodeSyncRequest(sr)
			if err != nil {
				return nil, err.(*protocol.Error)
			}
			if err := log.Add(r); err != nil {
				return nil, &protocol.Error{Domain: "sync", Code: protocol.SyncBadFormat, Message: err.Error()}
			}
		}
		logs[su.ID] = log
	}

	algo := algorithm.NewFromSnapshot(buffer.FromChunk(buf), maxLogSize, current, logs)
	s := New(algo, Member)
	s.Users = users
	s.setStatus(Running)
	return s, nil
}
