package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to sinks and WebSocket clients.
const (
	EventCredential     = "credential"
	EventTimesealBanner = "timeseal_banner"
)

// Credential is a username/password pair recovered from one flow.
type Credential struct {
	Protocol string `json:"protocol"`
	DstAddr  string `json:"dstAddr"`
	DstPort  uint16 `json:"dstPort"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// String renders the credential as the analyzer's output line.
func (c Credential) String() string {
	return fmt.Sprintf("%s : %s:%d -> USER: %s  PASS: %s", c.Protocol, c.DstAddr, c.DstPort, c.Username, c.Password)
}

// Event is one observable result of dissection.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Time       time.Time   `json:"time"`
	SrcAddr    string      `json:"srcAddr,omitempty"`
	DstAddr    string      `json:"dstAddr,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// NewEvent creates an event of the given type stamped with at, or the
// current time when at is zero.
func NewEvent(typ string, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{ID: uuid.NewString(), Type: typ, Time: at}
}
