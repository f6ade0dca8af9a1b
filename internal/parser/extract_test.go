package parser

import (
	"testing"

	"ficsniff/internal/testutil"
)

func TestExtractFlowTuple(t *testing.T) {
	conn := testutil.NewConn("10.0.0.1", 40000, "10.0.0.2", 5000)
	syn := conn.Handshake()[0]
	data := conn.FromServer([]byte("login: "))

	tup := ExtractFlowTuple(syn)
	if !tup.IsTCP() {
		t.Fatalf("tuple not TCP: %+v", tup)
	}
	if tup.SrcIP != "10.0.0.1" || tup.DstIP != "10.0.0.2" || tup.SrcPort != 40000 || tup.DstPort != 5000 {
		t.Errorf("SYN tuple = %+v", tup)
	}
	if !tup.Flags.SYN || tup.Flags.ACK || tup.Payload != 0 {
		t.Errorf("SYN flags/payload = %+v/%d", tup.Flags, tup.Payload)
	}

	tup = ExtractFlowTuple(data)
	if tup.SrcPort != 5000 || tup.Payload != len("login: ") || !tup.Flags.PSH {
		t.Errorf("data tuple = %+v", tup)
	}
}
