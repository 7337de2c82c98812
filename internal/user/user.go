// Package user implements the participant model: a User with text-session
// caret/selection/hue extensions, and a UserTable keyed by id with a
// unique-name invariant and a local-user secondary index.
package user

import "fmt"

// Status is a user's presence state.
type Status int

const (
	Active Status = iota
	Inactive
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String, used when decoding a
// status off the wire (<user-status status="...">, sync-user's status
// attribute). An unrecognized value parses as Unavailable rather than
// erroring, since presence is advisory, not safety-critical.
func ParseStatus(s string) Status {
	switch s {
	case "active":
		return Active
	case "inactive":
		return Inactive
	default:
		return Unavailable
	}
}

// Flags are static per-user bits; Local marks a user whose connection is
// this process's own client rather than a remote peer.
type Flags struct {
	Local bool
}

// Connection is the minimal handle the user model needs from the
// transport layer: something that can be asked to send bytes and closed.
// pkg/transport's Connection does not implement it; the users that
// package registers have a nil Connection.
type Connection interface {
	Send(frame []byte) error
	Close() error
}

// User is a session participant. Caret, Selection and Hue are populated
// only for users of a text session (Selection is signed: positive extends
// forward from Caret, negative backward).
type User struct {
	ID         uint32
	Name       string
	Status     Status
	Flags      Flags
	Connection Connection

	Caret     uint32
	Selection int32
	Hue       float64
}

// IsLocal reports whether this user's connection is the local client.
func (u *User) IsLocal() bool { return u.Flags.Local }

// ErrDuplicateName is returned by Table.Add when name is already taken by
// a different user.
type ErrDuplicateName struct{ Name string }

func (e ErrDuplicateName) Error() string {
	return fmt.Sprintf("user: name %q already taken", e.Name)
}

// ErrDuplicateID is returned by Table.Add when id is already registered.
type ErrDuplicateID struct{ ID uint32 }

func (e ErrDuplicateID) Error() string {
	return fmt.Sprintf("user: id %d already registered", e.ID)
}

// Table is a user-id -> User mapping enforcing unique names, with a
// secondary index over local users.
type Table struct {
	byID   map[uint32]*User
	byName map[string]uint32
	local  map[uint32]*User
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[uint32]*User),
		byName: make(map[string]uint32),
		local:  make(map[uint32]*User),
	}
}

// Add registers u, failing if its id or name is already taken.
func (t *Table) Add(u *User) error {
	if _, exists := t.byID[u.ID]; exists {
		return ErrDuplicateID{ID: u.ID}
	}
	if owner, exists := t.byName[u.Name]; exists && owner != u.ID {
		return ErrDuplicateName{Name: u.Name}
	}
	t.byID[u.ID] = u
	t.byName[u.Name] = u.ID
	if u.Flags.Local {
		t.local[u.ID] = u
	}
	return nil
}

// Remove drops the user with the given id, if present.
func (t *Table) Remove(id uint32) {
	u, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	delete(t.byName, u.Name)
	delete(t.local, id)
}

// Get returns the user with the given id, if present.
func (t *Table) Get(id uint32) (*User, bool) {
	u, ok := t.byID[id]
	return u, ok
}

// ByName returns the user with the given name, if present.
func (t *Table) ByName(name string) (*User, bool) {
	id, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	u, ok := t.byID[id]
	return u, ok
}

// Rename changes u's name, failing if the new name is already taken by a
// different user.
func (t *Table) Rename(id uint32, name string) error {
	u, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("user: no such user %d", id)
	}
	if owner, exists := t.byName[name]; exists && owner != id {
		return ErrDuplicateName{Name: name}
	}
	delete(t.byName, u.Name)
	u.Name = name
	t.byName[name] = id
	return nil
}

// LocalUsers returns a snapshot slice of the table's local users. Safe to
// call while iterating, since adds/removes happen only between events.
func (t *Table) LocalUsers() []*User {
	out := make([]*User, 0, len(t.local))
	for _, u := range t.local {
		out = append(out, u)
	}
	return out
}

// Each calls f for every user in the table. f must not mutate the table.
func (t *Table) Each(f func(*User)) {
	for _, u := range t.byID {
		f(u)
	}
}

// Len returns the number of registered users.
func (t *Table) Len() int { return len(t.byID) }
