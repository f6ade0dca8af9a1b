package flow

import (
	"testing"
	"time"
)

func TestMakeFlowKeySymmetric(t *testing.T) {
	a := MakeFlowKey("10.0.0.1", "10.0.0.2", 40000, 5000, "TCP")
	b := MakeFlowKey("10.0.0.2", "10.0.0.1", 5000, 40000, "TCP")
	if a != b {
		t.Fatalf("keys differ: %v vs %v", a, b)
	}
	if a.Port1 != 40000 || a.Port2 != 5000 {
		t.Errorf("ports not kept with their addresses: %v", a)
	}

	same := MakeFlowKey("10.0.0.1", "10.0.0.1", 5000, 40000, "TCP")
	rev := MakeFlowKey("10.0.0.1", "10.0.0.1", 40000, 5000, "TCP")
	if same != rev || same.Port1 != 5000 {
		t.Errorf("loopback keys not normalized: %v vs %v", same, rev)
	}
}

func TestTrackHandshakeAndClose(t *testing.T) {
	tr := NewTracker(0, 0)

	steps := []struct {
		client bool
		flags  TCPFlags
		want   TCPState
	}{
		{true, TCPFlags{SYN: true}, TCPStateSynSent},
		{false, TCPFlags{SYN: true, ACK: true}, TCPStateSynReceived},
		{true, TCPFlags{ACK: true}, TCPStateEstablished},
		{true, TCPFlags{ACK: true, PSH: true}, TCPStateEstablished},
		{true, TCPFlags{FIN: true, ACK: true}, TCPStateFinWait},
	}
	for i, s := range steps {
		src, dst, sp, dp := "10.0.0.1", "10.0.0.2", uint16(40000), uint16(23)
		if !s.client {
			src, dst, sp, dp = dst, src, dp, sp
		}
		_, f, closed := tr.Track(src, dst, sp, dp, "TCP", 60, s.flags)
		if f.TCPState != s.want {
			t.Fatalf("step %d: state = %s, want %s", i, f.TCPState, s.want)
		}
		if closed {
			t.Fatalf("step %d: flow reported closed", i)
		}
	}

	key, f, closed := tr.Track("10.0.0.2", "10.0.0.1", 23, 40000, "TCP", 60, TCPFlags{ACK: true})
	if !closed || f.TCPState != TCPStateClosed {
		t.Fatalf("final ack: closed=%v state=%s", closed, f.TCPState)
	}
	if f.FwdPackets != 4 || f.RevPackets != 2 {
		t.Errorf("directional counts = %d/%d, want 4/2", f.FwdPackets, f.RevPackets)
	}
	if key != MakeFlowKey("10.0.0.1", "10.0.0.2", 40000, 23, "TCP") {
		t.Errorf("unexpected key %v", key)
	}
	if tr.Len() != 0 {
		t.Errorf("closed flow still tracked")
	}
}

func TestTrackResetCloses(t *testing.T) {
	tr := NewTracker(0, 0)
	tr.Track("10.0.0.1", "10.0.0.2", 40000, 5000, "TCP", 60, TCPFlags{ACK: true})
	_, _, closed := tr.Track("10.0.0.2", "10.0.0.1", 5000, 40000, "TCP", 60, TCPFlags{RST: true})
	if !closed {
		t.Fatal("RST did not close the flow")
	}
}

func TestTrackEvictsIdleAtCapacity(t *testing.T) {
	tr := NewTracker(2, time.Minute)
	base := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return base }

	tr.Track("10.0.0.1", "10.0.0.2", 1, 23, "TCP", 1, TCPFlags{ACK: true})
	tr.Track("10.0.0.1", "10.0.0.2", 2, 23, "TCP", 1, TCPFlags{ACK: true})

	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	tr.Track("10.0.0.1", "10.0.0.2", 3, 23, "TCP", 1, TCPFlags{ACK: true})

	if got := tr.Len(); got != 1 {
		t.Errorf("Len = %d, want 1 after eviction", got)
	}
}
