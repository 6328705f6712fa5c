package internal

import "testing"

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != sid {
		t.Fatalf("parsed %s != %s", parsed, sid)
	}
	if _, err := ParseSessionID("AAAA"); err == nil {
		t.Fatal("expected short id to be rejected")
	}
}

func TestNewTokenIsPositive(t *testing.T) {
	for i := 0; i < 256; i++ {
		v, err := NewToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if v <= 0 {
			t.Fatalf("token must be positive, got %d", v)
		}
	}
}
