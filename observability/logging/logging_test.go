package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewEmitsStructuredLayout(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "cdpd", "test")
	logger.Info("cdp created", MaskField("cdp_id", "abc123"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %q in log entry: %v", key, entry)
		}
	}
	if entry["severity"] != "INFO" || entry["service"] != "cdpd" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["cdp_id"] != "abc123" {
		t.Fatalf("allowlisted cdp_id should not be redacted: %v", entry["cdp_id"])
	}
}

func TestOwnerIsRedacted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "cdpd", "")
	owner := "0x52908400098527886E0F7030069857D2E4169EE7"
	logger.Warn("liquidation shortfall", MaskField("owner", owner))

	if IsAllowlisted("owner") {
		t.Fatalf("owner should not be allowlisted for logging: %v", RedactionAllowlist())
	}
	raw := buf.Bytes()
	if bytes.Contains(raw, []byte(owner)) {
		t.Fatalf("log output leaked owner address: %s", raw)
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}
	if entry["owner"] != RedactedValue {
		t.Fatalf("expected redacted owner, got %v", entry["owner"])
	}
	if _, ok := entry["env"]; ok {
		t.Fatalf("empty env should be omitted")
	}
	if MaskValue("") != "" || MaskValue("x") != RedactedValue {
		t.Fatalf("unexpected MaskValue behaviour")
	}
}

func TestPseudonymizeIsStableAndOpaque(t *testing.T) {
	owner := "0x52908400098527886E0F7030069857D2E4169EE7"
	first := Pseudonymize("owner", owner)
	second := Pseudonymize("owner", owner)
	other := Pseudonymize("owner", "0x0000000000000000000000000000000000000001")

	if first.Key != "owner_fp" {
		t.Fatalf("unexpected key %q", first.Key)
	}
	if first.Value.String() != second.Value.String() {
		t.Fatalf("fingerprint not stable: %s vs %s", first.Value, second.Value)
	}
	if first.Value.String() == other.Value.String() {
		t.Fatalf("distinct owners share a fingerprint")
	}
	if len(first.Value.String()) != 12 {
		t.Fatalf("unexpected fingerprint length: %s", first.Value)
	}
	if got := Pseudonymize("cdp_id", "abc"); got.Key != "cdp_id" || got.Value.String() != "abc" {
		t.Fatalf("allowlisted key should pass through: %v", got)
	}
}

func TestDevEnvironmentLogsDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf, "cdpd", "prod").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted outside dev: %s", buf.String())
	}
	New(buf, "cdpd", "dev").Debug("shown")
	if !bytes.Contains(buf.Bytes(), []byte(`"severity":"DEBUG"`)) {
		t.Fatalf("expected debug line in dev: %s", buf.String())
	}
}
