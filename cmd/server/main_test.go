package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	dc "github.com/linnemanlabs/deskmate/internal/cfg"
	"github.com/linnemanlabs/deskmate/internal/policy"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestNewPolicySource(t *testing.T) {
	t.Parallel()

	c := dc.Config{AutoCloseEnabled: true, ConfidenceThreshold: 0.75}
	src := newPolicySource(&c)
	if _, ok := src.(policy.Static); !ok {
		t.Fatalf("source = %T, want policy.Static", src)
	}
	p, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !p.AutoCloseEnabled || p.ConfidenceThreshold != 0.75 {
		t.Errorf("policy = %+v", p)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("auto_close_enabled: false\nconfidence_threshold: 0.9\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	c.PolicyFile = path
	src = newPolicySource(&c)
	if _, ok := src.(*policy.Cache); !ok {
		t.Fatalf("source = %T, want *policy.Cache", src)
	}
	p, err = src.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if p.AutoCloseEnabled || p.ConfidenceThreshold != 0.9 {
		t.Errorf("file policy = %+v, want file values over flags", p)
	}
}

func TestNewNotifiers(t *testing.T) {
	t.Parallel()

	ns, closeFn := newNotifiers(&dc.Config{}, log.Nop())
	if len(ns) != 0 {
		t.Errorf("notifiers = %d, want 0 when nothing is configured", len(ns))
	}
	if err := closeFn(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}

	ns, closeFn = newNotifiers(&dc.Config{
		SlackWebhookURL: "http://127.0.0.1:1/hook",
		KafkaBrokers:    "127.0.0.1:9092",
		KafkaTopic:      "deskmate.notifications",
	}, log.Nop())
	if len(ns) != 2 {
		t.Fatalf("notifiers = %d, want 2", len(ns))
	}
	if err := closeFn(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}
