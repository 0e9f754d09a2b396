// Package session tracks connected websocket sessions, the capabilities
// each one registered for, and routes commands and events between the
// sessions and the auction machine.
package session

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Role is self-declared by the client at registration. It is not
// authenticated.
type Role string

const (
	RoleNone        Role = ""
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Capability is a permission bit granted by a role.
type Capability uint8

const (
	CapAdminister Capability = 1 << iota // control phases, config and clearing
	CapTender                            // submit tenders
)

// Capabilities returns the permission set a role grants.
func (r Role) Capabilities() Capability {
	switch r {
	case RoleAdmin:
		return CapAdminister
	case RoleParticipant:
		return CapTender
	}
	return 0
}

// sendBuffer is the number of outbound frames queued per session before
// the session is considered too slow and dropped.
const sendBuffer = 64

// Session is one connected client. Role and capabilities are only read and
// written from the hub's event loop.
type Session struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	role Role
	caps Capability
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// Role returns the role the session last registered as.
func (s *Session) Role() Role { return s.role }

// Can reports whether the session holds the capability.
func (s *Session) Can(c Capability) bool { return s.caps&c != 0 }

// bind attaches a role, replacing any earlier registration.
func (s *Session) bind(r Role) {
	s.role = r
	s.caps = r.Capabilities()
}
