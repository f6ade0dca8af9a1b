package dissect

import (
	"net"
	"testing"
)

func packet(src string, sport uint16, dst string, dport uint16) *Packet {
	return &Packet{
		SrcIP:   net.ParseIP(src),
		DstIP:   net.ParseIP(dst),
		SrcPort: sport,
		DstPort: dport,
		Payload: []byte("x"),
	}
}

func TestNewIdentSameForBothDirections(t *testing.T) {
	c2s := packet("10.0.0.1", 40000, "10.0.0.2", 23)
	s2c := packet("10.0.0.2", 23, "10.0.0.1", 40000)

	if NewIdent(c2s, "fics") != NewIdent(s2c, "fics") {
		t.Fatal("directions produced different identities")
	}
	if NewIdent(c2s, "fics") == NewIdent(c2s, "other") {
		t.Fatal("tag not part of identity")
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var got []string
	mk := func(name string) Dissector {
		return DissectorFunc(func(pkt *Packet) { got = append(got, name) })
	}
	if err := r.Add("fics", 23, mk("fics")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("fics5000", 5000, mk("fics5000")); err != nil {
		t.Fatal(err)
	}

	r.Dispatch(packet("10.0.0.1", 40000, "10.0.0.2", 23))
	r.Dispatch(packet("10.0.0.2", 5000, "10.0.0.1", 40000))
	if ok := r.Dispatch(packet("10.0.0.1", 40000, "10.0.0.2", 80)); ok {
		t.Error("unregistered port dispatched")
	}

	if len(got) != 2 || got[0] != "fics" || got[1] != "fics5000" {
		t.Errorf("dispatched to %v", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	noop := DissectorFunc(func(*Packet) {})
	if err := r.Add("fics", 23, noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("fics", 24, noop); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := r.Add("telnet", 23, noop); err == nil {
		t.Error("duplicate port accepted")
	}
}

func TestRegistryFromServer(t *testing.T) {
	r := NewRegistry()
	noop := DissectorFunc(func(*Packet) {})
	r.Add("fics", 23, noop)
	r.Add("fics5000", 5000, noop)

	fromServer := packet("10.0.0.2", 5000, "10.0.0.1", 40000)
	if r.FromServer("fics", fromServer) {
		t.Error("port 5000 packet matched fics")
	}
	if !r.FromServer("fics5000", fromServer) {
		t.Error("port 5000 packet did not match fics5000")
	}
	if r.FromServer("fics5000", packet("10.0.0.1", 40000, "10.0.0.2", 5000)) {
		t.Error("client packet reported as from server")
	}
	if r.FromServer("missing", fromServer) {
		t.Error("unknown name matched")
	}

	ports := r.Ports()
	if len(ports) != 2 || ports[0] != 23 || ports[1] != 5000 {
		t.Errorf("Ports = %v", ports)
	}
}
