package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCommandLifecycle_AckPath(t *testing.T) {
	now := time.Date(2025, 7, 3, 6, 53, 1, 0, time.UTC)
	cmd := &Command{DeviceSN: "SN123", ID: 1, Type: TypeData, State: StateCreated, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	if err := cmd.MarkSent(now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if cmd.State != StateSent || cmd.Attempts != 1 || cmd.SentAt == nil {
		t.Fatalf("unexpected sent command: %+v", cmd)
	}

	zero := 0
	state, err := cmd.ApplyReply(&zero, nil, now.Add(time.Second))
	if err != nil {
		t.Fatalf("apply reply: %v", err)
	}
	if state != StateAcknowledged {
		t.Fatalf("expected acknowledged, got %s", state)
	}
}

func TestCommandLifecycle_DeviceError(t *testing.T) {
	now := time.Now().UTC()
	cmd := &Command{State: StateSent}
	code := -1
	state, err := cmd.ApplyReply(&code, nil, now)
	if err != nil {
		t.Fatalf("apply reply: %v", err)
	}
	if state != StateDeviceReportedError {
		t.Fatalf("expected device_reported_error, got %s", state)
	}
	if cmd.ReturnCode == nil || *cmd.ReturnCode != -1 {
		t.Fatalf("return code not recorded: %+v", cmd)
	}
}

func TestCommandLifecycle_TerminalIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	cmd := &Command{State: StateAcknowledged}
	code := 5
	state, err := cmd.ApplyReply(&code, nil, now)
	if err != nil {
		t.Fatalf("duplicate reply must not error: %v", err)
	}
	if state != StateAcknowledged {
		t.Fatalf("terminal state changed on duplicate reply: %s", state)
	}
	if cmd.ReturnCode != nil {
		t.Fatalf("duplicate reply must not overwrite result: %+v", cmd)
	}
	if cmd.LastReplyAt == nil {
		t.Fatal("duplicate reply should refresh LastReplyAt")
	}

	if err := cmd.MarkSent(now); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
	if err := cmd.Requeue(); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestCommandLifecycle_RequeueAndAbandon(t *testing.T) {
	cmd := &Command{State: StateSent, Attempts: 1}
	if err := cmd.Requeue(); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if cmd.State != StateCreated || cmd.Attempts != 1 {
		t.Fatalf("requeue must keep attempts: %+v", cmd)
	}
	if err := cmd.MarkSent(time.Now().UTC()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if cmd.Attempts != 2 {
		t.Fatalf("attempts should increase on transmission only, got %d", cmd.Attempts)
	}
	if err := cmd.Abandon(); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if !cmd.State.Terminal() {
		t.Fatalf("abandoned must be terminal: %s", cmd.State)
	}
}

func TestApplyReply_SuccessCodes(t *testing.T) {
	four := 4
	cmd := &Command{State: StateSent}
	state, err := cmd.ApplyReply(&four, []int{0, 4}, time.Now().UTC())
	if err != nil {
		t.Fatalf("apply reply: %v", err)
	}
	if state != StateAcknowledged {
		t.Fatalf("Return=4 should satisfy configured success codes, got %s", state)
	}
}

func TestPolicyFor_OverrideMerge(t *testing.T) {
	cfg := DefaultConfig()
	policy := cfg.PolicyFor(TypeReboot)
	if policy.MaxAttempts != 1 {
		t.Fatalf("REBOOT override lost: %+v", policy)
	}
	if policy.TTL != cfg.Defaults.TTL || policy.ReplyTimeout != cfg.Defaults.ReplyTimeout {
		t.Fatalf("zero override fields must inherit defaults: %+v", policy)
	}
	got := cfg.PolicyFor("SOMETHING ELSE")
	if got.TTL != cfg.Defaults.TTL || got.ReplyTimeout != cfg.Defaults.ReplyTimeout || got.MaxAttempts != cfg.Defaults.MaxAttempts {
		t.Fatalf("unknown type should use defaults: %+v", got)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	content := `
defaults:
  ttl: 1h
  reply_timeout: 30s
  max_attempts: 5
commands:
  CHECK:
    max_attempts: 2
    success_codes: [0, 1]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Defaults.TTL != time.Hour || cfg.Defaults.MaxAttempts != 5 {
		t.Fatalf("defaults not loaded: %+v", cfg.Defaults)
	}
	policy := cfg.PolicyFor(TypeCheck)
	if policy.MaxAttempts != 2 || policy.TTL != time.Hour {
		t.Fatalf("override merge failed: %+v", policy)
	}
	if len(policy.SuccessCodes) != 2 {
		t.Fatalf("success codes not loaded: %+v", policy)
	}
}

func TestParseInfo(t *testing.T) {
	info := ParseInfo("Ver 6.60 Apr 14 2015,101,150,4022,192.168.1.42,10,8,0")
	if info == nil {
		t.Fatal("expected info")
	}
	if info.FirmwareVersion != "Ver 6.60 Apr 14 2015" || info.UserCount != 101 || info.RecordCount != 4022 {
		t.Fatalf("info mismatch: %+v", info)
	}
	if info.IPAddress != "192.168.1.42" {
		t.Fatalf("ip mismatch: %+v", info)
	}
	if short := ParseInfo("Ver 1.0,5"); short == nil || short.UserCount != 5 || short.IPAddress != "" {
		t.Fatalf("short info mismatch: %+v", short)
	}
	if ParseInfo("   ") != nil {
		t.Fatal("blank info should parse to nil")
	}
}
