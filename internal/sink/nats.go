package sink

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"ficsniff/internal/models"
)

// NATSSink publishes each event as JSON on a NATS subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("ficsniff"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	log.Printf("Connected to NATS server at %s", url)
	return &NATSSink{nc: nc, subject: subject}, nil
}

// Emit publishes ev. Publish errors are logged and the event is dropped.
func (s *NATSSink) Emit(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error encoding event %s: %v", ev.ID, err)
		return
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		log.Printf("Error publishing event %s to %s: %v", ev.ID, s.subject, err)
	}
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
