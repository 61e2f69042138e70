package common

import (
	"errors"
	"testing"
	"time"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "cdp.issuance"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	sw := NewPauseSwitch()
	if err := Guard(sw, "cdp.issuance"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sw.Pause("CDP.Issuance", "oracle incident", time.Unix(10, 0))
	if err := Guard(sw, "cdp.issuance"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(sw, ""); err != nil {
		t.Fatalf("empty module must not be guarded: %v", err)
	}
}

func TestPauseSwitchKeepsFirstState(t *testing.T) {
	sw := NewPauseSwitch()
	sw.Pause("cdp.issuance", "first", time.Unix(10, 0))
	sw.Pause("cdp.issuance", "second", time.Unix(20, 0))
	state, ok := sw.State("cdp.issuance")
	if !ok || state.Reason != "first" || !state.Since.Equal(time.Unix(10, 0)) {
		t.Fatalf("unexpected state %+v %v", state, ok)
	}
	sw.Resume(" CDP.ISSUANCE ")
	if sw.IsPaused("cdp.issuance") {
		t.Fatalf("expected module to resume")
	}
	if _, ok := sw.State("cdp.issuance"); ok {
		t.Fatalf("resumed module must not report state")
	}
	var nilSwitch *PauseSwitch
	if nilSwitch.IsPaused("x") {
		t.Fatalf("nil switch must report unpaused")
	}
}
