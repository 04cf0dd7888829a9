package logger

import "testing"

func TestRedactHidesSensitiveFields(t *testing.T) {
	in := map[string]interface{}{
		"cookie":     "sessionid=abc123",
		"User_Agent": "test-agent/1.0",
		"card_token": "tok_live_xyz",
		"username":   "alice",
		"count":      3,
	}

	out := redact(in)

	if out["cookie"] != "[redacted]" {
		t.Errorf("expected cookie to be redacted, got %v", out["cookie"])
	}
	if out["User_Agent"] != "[redacted]" {
		t.Errorf("expected a case-insensitive match on user_agent, got %v", out["User_Agent"])
	}
	if out["card_token"] != "[redacted]" {
		t.Errorf("expected card_token to be redacted, got %v", out["card_token"])
	}
	if out["username"] != "alice" {
		t.Errorf("expected non-sensitive fields to pass through untouched, got %v", out["username"])
	}
	if out["count"] != 3 {
		t.Errorf("expected non-sensitive fields to pass through untouched, got %v", out["count"])
	}
}

func TestRedactHandlesNilAndEmpty(t *testing.T) {
	if got := redact(nil); got != nil {
		t.Errorf("expected nil fields to pass through as nil, got %v", got)
	}
	if got := redact(map[string]interface{}{}); len(got) != 0 {
		t.Errorf("expected empty fields to stay empty, got %v", got)
	}
}

func TestLogWrappersNoopBeforeInit(t *testing.T) {
	Logger = nil
	// None of these should panic without a prior Init call.
	Info("test", map[string]interface{}{"cookie": "secret"})
	Error("test", nil)
	Debug("test", nil)
	Warn("test", nil)
	InfoMsg("test")
}
