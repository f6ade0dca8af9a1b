// Package sink delivers dissection events to their consumers.
package sink

import (
	"fmt"
	"io"
	"sync"

	"ficsniff/internal/models"
)

// Sink receives events produced by dissectors. Emit must not block for long;
// it is called from the reassembly goroutine.
type Sink interface {
	Emit(ev models.Event)
}

// LogSink writes one line per event to an io.Writer.
type LogSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogSink creates a LogSink writing to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{w: w}
}

// Emit writes credentials as "FICS : ip:port -> USER: u  PASS: p" and other
// events as their verbatim message.
func (s *LogSink) Emit(ev models.Event) {
	var line string
	switch {
	case ev.Credential != nil:
		line = ev.Credential.String()
	case ev.Message != "":
		line = ev.Message
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s\n", line)
}

// Multi fans every event out to all of its sinks in order.
type Multi []Sink

func (m Multi) Emit(ev models.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Func adapts a function to the Sink interface.
type Func func(ev models.Event)

func (f Func) Emit(ev models.Event) { f(ev) }
