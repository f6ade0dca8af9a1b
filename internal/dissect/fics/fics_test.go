package fics

import (
	"bytes"
	"net"
	"testing"

	"ficsniff/internal/dissect"
	"ficsniff/internal/models"
	"ficsniff/internal/session"
	"ficsniff/internal/sink"
	"ficsniff/internal/timeseal"
)

type harness struct {
	reg    *dissect.Registry
	store  *session.Table[*Session]
	events []models.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reg:   dissect.NewRegistry(),
		store: session.NewTable[*Session](4, 0),
	}
	out := sink.Func(func(ev models.Event) { h.events = append(h.events, ev) })
	if _, err := Register(h.reg, h.store, out, DefaultPort, DefaultAltPort); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) server(port uint16, payload []byte) {
	h.reg.Dispatch(&dissect.Packet{
		Payload: payload,
		SrcIP:   net.ParseIP("192.0.2.10"),
		DstIP:   net.ParseIP("198.51.100.7"),
		SrcPort: port,
		DstPort: 51515,
	})
}

func (h *harness) client(port uint16, payload []byte) {
	h.reg.Dispatch(&dissect.Packet{
		Payload: payload,
		SrcIP:   net.ParseIP("198.51.100.7"),
		DstIP:   net.ParseIP("192.0.2.10"),
		SrcPort: 51515,
		DstPort: port,
	})
}

func (h *harness) credentials() []models.Credential {
	var out []models.Credential
	for _, ev := range h.events {
		if ev.Credential != nil {
			out = append(out, *ev.Credential)
		}
	}
	return out
}

func TestDissectPlainLogin(t *testing.T) {
	for _, port := range []uint16{DefaultPort, DefaultAltPort} {
		h := newHarness(t)
		h.server(port, []byte("\r\nlogin: "))
		h.client(port, []byte("alice\r\n"))
		h.client(port, []byte("secret\r\n"))

		creds := h.credentials()
		if len(creds) != 1 {
			t.Fatalf("port %d: %d credentials, want 1", port, len(creds))
		}
		want := "FICS : 192.0.2.10:" + map[uint16]string{23: "23", 5000: "5000"}[port] + " -> USER: alice  PASS: secret"
		if got := creds[0].String(); got != want {
			t.Errorf("port %d: line = %q, want %q", port, got, want)
		}
		if h.store.Len() != 0 {
			t.Errorf("port %d: session left behind", port)
		}
	}
}

func TestDissectTimesealLogin(t *testing.T) {
	h := newHarness(t)
	h.server(DefaultAltPort, []byte("login: "))
	h.client(DefaultAltPort, timeseal.Encode([]byte("alice"), "1700000000", 7))
	h.client(DefaultAltPort, timeseal.Encode([]byte("s3cret"), "1700000001", 90))

	creds := h.credentials()
	if len(creds) != 1 {
		t.Fatalf("%d credentials, want 1", len(creds))
	}
	if creds[0].Username != "alice" || creds[0].Password != "s3cret" {
		t.Errorf("credential = %+v", creds[0])
	}
}

func TestDissectTimestampBanner(t *testing.T) {
	h := newHarness(t)
	h.client(DefaultAltPort, timeseal.Encode([]byte("TIMESTAMP|openseal|Linux|"), "1", 0))

	if len(h.events) != 1 {
		t.Fatalf("%d events, want 1", len(h.events))
	}
	ev := h.events[0]
	if ev.Type != models.EventTimesealBanner || ev.Message != "TIMESTAMP|openseal|Linux|" {
		t.Errorf("event = %+v", ev)
	}
	if h.store.Len() != 0 {
		t.Error("banner armed a session")
	}
}

func TestDissectSkipsEmptyAndTelnet(t *testing.T) {
	h := newHarness(t)
	h.server(DefaultPort, nil)
	if h.store.Len() != 0 {
		t.Fatal("empty chunk armed a session")
	}

	h.server(DefaultPort, []byte{0xff, 0xfd, 0x01, 'l', 'o', 'g', 'i', 'n', ':'})
	h.client(DefaultPort, []byte{0xff, 0xfc, 0x01})
	h.client(DefaultPort, []byte("bob\n"))
	h.client(DefaultPort, []byte("pw\n"))

	creds := h.credentials()
	if len(creds) != 1 || creds[0].Username != "bob" || creds[0].Password != "pw" {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestDissectStopsAtNul(t *testing.T) {
	h := newHarness(t)
	h.server(DefaultPort, []byte("log\x00in:"))
	if h.store.Len() != 0 {
		t.Fatal("banner matched across a NUL byte")
	}
}

func TestDissectLeavesPayloadUntouched(t *testing.T) {
	h := newHarness(t)
	h.server(DefaultAltPort, []byte("login: "))

	wire := timeseal.Encode([]byte("alice"), "1700000000", 7)
	orig := append([]byte(nil), wire...)
	h.client(DefaultAltPort, wire)

	if !bytes.Equal(wire, orig) {
		t.Errorf("payload rewritten: %q, was %q", wire, orig)
	}
	s, ok := h.store.Get(dissect.NewIdent(&dissect.Packet{
		SrcIP:   net.ParseIP("198.51.100.7"),
		DstIP:   net.ParseIP("192.0.2.10"),
		SrcPort: 51515,
		DstPort: DefaultAltPort,
	}, Name))
	if !ok || s.PendingUsername != "alice" {
		t.Errorf("session = %+v, %v", s, ok)
	}
}

func TestDissectTimestampWithTelnetPrefixOnArmedFlow(t *testing.T) {
	h := newHarness(t)
	h.server(DefaultPort, []byte("login: "))
	h.client(DefaultPort, []byte("\xff\xfb\x18TIMESTAMP|openseal|Linux|"))

	if len(h.events) != 1 || h.events[0].Type != models.EventTimesealBanner {
		t.Fatalf("events = %+v", h.events)
	}
	if h.store.Len() != 1 {
		t.Fatal("armed session lost")
	}

	h.client(DefaultPort, []byte("alice\r\n"))
	h.client(DefaultPort, []byte("secret\r\n"))
	if creds := h.credentials(); len(creds) != 1 || creds[0].Username != "alice" {
		t.Errorf("credentials = %+v", creds)
	}
}
