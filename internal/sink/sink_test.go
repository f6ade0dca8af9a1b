package sink

import (
	"bytes"
	"testing"
	"time"

	"ficsniff/internal/models"
)

func TestLogSinkFormats(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(&buf)

	cred := models.NewEvent(models.EventCredential, time.Time{})
	cred.Credential = &models.Credential{
		Protocol: "FICS",
		DstAddr:  "10.0.0.2",
		DstPort:  5000,
		Username: "alice",
		Password: "secret",
	}
	s.Emit(cred)

	banner := models.NewEvent(models.EventTimesealBanner, time.Time{})
	banner.Message = "TIMESTAMP|openseal|Linux|"
	s.Emit(banner)

	s.Emit(models.NewEvent("empty", time.Time{}))

	want := "FICS : 10.0.0.2:5000 -> USER: alice  PASS: secret\n" +
		"TIMESTAMP|openseal|Linux|\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b []string
	m := Multi{
		Func(func(ev models.Event) { a = append(a, ev.Type) }),
		Func(func(ev models.Event) { b = append(b, ev.Type) }),
	}
	m.Emit(models.NewEvent(models.EventCredential, time.Time{}))

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("events delivered: %v %v", a, b)
	}
}

func TestNewEventDefaults(t *testing.T) {
	ev := models.NewEvent(models.EventCredential, time.Time{})
	if ev.ID == "" {
		t.Error("event has no ID")
	}
	if ev.Time.IsZero() {
		t.Error("event has no time")
	}
	other := models.NewEvent(models.EventCredential, time.Time{})
	if other.ID == ev.ID {
		t.Error("event IDs repeat")
	}
}
