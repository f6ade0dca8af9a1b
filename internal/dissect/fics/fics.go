// Package fics captures logins to FICS chess servers. Clients send the
// username and the password as two separate lines after the server prints its
// "login:" banner, optionally scrambled with timeseal.
package fics

import (
	"bytes"

	"ficsniff/internal/dissect"
	"ficsniff/internal/models"
	"ficsniff/internal/sink"
	"ficsniff/internal/timeseal"
)

// Registration names. Name is also the tag of every flow identity this
// dissector creates.
const (
	Name     = "fics"
	Name5000 = "fics5000"
)

// Default FICS server ports.
const (
	DefaultPort    uint16 = 23
	DefaultAltPort uint16 = 5000
)

// Dissector turns FICS chunks into credential and banner events.
type Dissector struct {
	reg     *dissect.Registry
	machine *Machine
	out     sink.Sink
}

// New creates a Dissector that classifies direction through reg.
func New(reg *dissect.Registry, store Store, out sink.Sink) *Dissector {
	return &Dissector{
		reg:     reg,
		machine: NewMachine(store),
		out:     out,
	}
}

// Register creates a Dissector and registers it on port and altPort.
func Register(reg *dissect.Registry, store Store, out sink.Sink, port, altPort uint16) (*Dissector, error) {
	d := New(reg, store, out)
	if err := reg.Add(Name, port, d); err != nil {
		return nil, err
	}
	if err := reg.Add(Name5000, altPort, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Dissect processes one chunk. Client payloads carrying a timeseal trailer
// are decoded on a copy; pkt.Payload is never modified.
func (d *Dissector) Dissect(pkt *dissect.Packet) {
	// pure ACKs
	if len(pkt.Payload) == 0 {
		return
	}

	id := dissect.NewIdent(pkt, Name)

	dir := dissect.FromClient
	if d.reg.FromServer(Name, pkt) || d.reg.FromServer(Name5000, pkt) {
		dir = dissect.FromServer
	}

	text := cString(pkt.Payload)
	if dir == dissect.FromClient && timeseal.HasTrailer(pkt.Payload) {
		buf := append([]byte(nil), pkt.Payload...)
		if plain, ok := timeseal.Decode(buf); ok {
			text = cString(plain)
		}
	}

	obs := d.machine.Observe(id, dir, text)

	if obs.Banner != "" {
		ev := models.NewEvent(models.EventTimesealBanner, pkt.Timestamp)
		ev.SrcAddr = pkt.SrcIP.String()
		ev.DstAddr = pkt.DstIP.String()
		ev.Message = obs.Banner
		d.out.Emit(ev)
	}

	if obs.Captured {
		ev := models.NewEvent(models.EventCredential, pkt.Timestamp)
		ev.SrcAddr = pkt.SrcIP.String()
		ev.DstAddr = pkt.DstIP.String()
		ev.Credential = &models.Credential{
			Protocol: "FICS",
			DstAddr:  pkt.DstIP.String(),
			DstPort:  pkt.DstPort,
			Username: obs.Username,
			Password: obs.Password,
		}
		d.out.Emit(ev)
	}
}

// cString returns buf up to its first NUL byte.
func cString(buf []byte) []byte {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return buf[:i]
	}
	return buf
}
