package fics

import (
	"bytes"
	"log"
	"strings"

	"ficsniff/internal/dissect"
)

const (
	loginMarker     = "login:"
	timestampMarker = "TIMESTAMP"
	telnetIAC       = 0xff
)

// State is the progress of a capture session.
type State int

const (
	AwaitingUsername State = iota
	AwaitingPassword
)

func (s State) String() string {
	switch s {
	case AwaitingUsername:
		return "AWAITING_USERNAME"
	case AwaitingPassword:
		return "AWAITING_PASSWORD"
	}
	return "UNKNOWN"
}

// Session tracks one flow between the login banner and the password.
type Session struct {
	State           State
	PendingUsername string
}

// Store is the session-association store sessions are borrowed from.
type Store interface {
	Get(id dissect.Ident) (*Session, bool)
	Put(id dissect.Ident, s *Session) error
	Delete(id dissect.Ident)
}

// Observation is what a single chunk produced.
type Observation struct {
	// Captured is set when the chunk completed a username/password pair.
	Captured bool
	Username string
	Password string

	// Banner holds a client connection string carrying TIMESTAMP.
	Banner string
}

// Machine pairs usernames and passwords sent in separate client messages.
type Machine struct {
	store Store
}

// NewMachine creates a Machine keeping its sessions in store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store}
}

// Observe feeds one chunk of text for flow id into the state machine.
func (m *Machine) Observe(id dissect.Ident, dir dissect.Direction, text []byte) Observation {
	if dir == dissect.FromServer {
		m.observeServer(id, text)
		return Observation{}
	}
	return m.observeClient(id, text)
}

func (m *Machine) observeServer(id dissect.Ident, text []byte) {
	if _, ok := m.store.Get(id); ok {
		return
	}
	if !bytes.Contains(text, []byte(loginMarker)) {
		return
	}
	if err := m.store.Put(id, &Session{State: AwaitingUsername}); err != nil {
		log.Printf("fics: not tracking %s: %v", id, err)
	}
}

func (m *Machine) observeClient(id dissect.Ident, text []byte) Observation {
	var obs Observation
	if bytes.Contains(text, []byte(timestampMarker)) {
		obs.Banner = string(text)
	}

	s, ok := m.store.Get(id)
	if !ok {
		return obs
	}
	if len(text) > 0 && text[0] == telnetIAC {
		return obs
	}

	switch s.State {
	case AwaitingUsername:
		s.State = AwaitingPassword
		s.PendingUsername = string(text)
		if err := m.store.Put(id, s); err != nil {
			log.Printf("fics: dropping session %s: %v", id, err)
		}
	case AwaitingPassword:
		obs.Captured = true
		obs.Username = stripLine(s.PendingUsername)
		obs.Password = stripLine(string(text))
		m.store.Delete(id)
	}
	return obs
}

// stripLine cuts s at its first carriage return, then at its first line feed.
func stripLine(s string) string {
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
