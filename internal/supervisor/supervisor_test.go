package supervisor

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsmanager/internal/consolering"
	"vsmanager/internal/restart"
)

type fakeNotifier struct {
	calls []bool
}

func (f *fakeNotifier) SetServerRunning(running bool) {
	f.calls = append(f.calls, running)
}

type fakeResolver struct {
	url string
	md5 string
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, version, channel string) (string, string, error) {
	return f.url, f.md5, f.err
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestSupervisor(t *testing.T, resolver VersionResolver) (*Supervisor, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ServerDir:     filepath.Join(root, "server"),
		ServerDataDir: filepath.Join(root, "serverdata"),
		StateDir:      filepath.Join(root, "state"),
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.ServerDataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sup := New(cfg, consolering.New(0), restart.New(nil), &fakeNotifier{}, resolver, nil)
	return sup, cfg
}

func TestDetectInstalledFalseInitially(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	if sup.State() != StateNotInstalled {
		t.Fatalf("got state %q, want not_installed", sup.State())
	}
}

func TestInstallServerDownloadsExtractsAndMarksVersion(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"VintagestoryServer.dll": "binary-stub",
		"VintagestoryLib.dll":    "lib-stub",
	})
	sum := md5.Sum(archive)
	expectedMD5 := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	resolver := &fakeResolver{url: srv.URL, md5: expectedMD5}
	sup, cfg := newTestSupervisor(t, resolver)

	if err := sup.InstallServer(context.Background(), "1.19.8", "stable"); err != nil {
		t.Fatal(err)
	}
	if sup.State() != StateInstalled {
		t.Fatalf("got state %q, want installed", sup.State())
	}
	if _, err := os.Stat(filepath.Join(cfg.ServerDir, "VintagestoryServer.dll")); err != nil {
		t.Fatalf("expected extracted marker file: %v", err)
	}
	data, err := os.ReadFile(cfg.currentVersionPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1.19.8\n" {
		t.Fatalf("got current_version %q", data)
	}
}

func TestInstallServerRejectsMD5Mismatch(t *testing.T) {
	archive := buildZip(t, map[string]string{"VintagestoryServer.dll": "x", "VintagestoryLib.dll": "y"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	resolver := &fakeResolver{url: srv.URL, md5: "0000000000000000000000000000000"}
	sup, _ := newTestSupervisor(t, resolver)

	if err := sup.InstallServer(context.Background(), "1.19.8", "stable"); err == nil {
		t.Fatal("expected md5 mismatch to fail install")
	}
	if sup.State() != StateNotInstalled {
		t.Fatalf("got state %q, want not_installed after failed install", sup.State())
	}
}

func TestStartServerFailsWhenNotInstalled(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	if err := sup.StartServer(context.Background()); err == nil {
		t.Fatal("expected start to fail when not installed")
	}
}

func TestSendCommandFalseWhenNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	if sup.SendCommand("/time set day") {
		t.Fatal("expected SendCommand to return false with no live child")
	}
}

// installAndStart marks the supervisor installed without a real
// archive and starts a small shell child that echoes stdin and exits
// on "/quit".
func installAndStart(t *testing.T, script string) (*Supervisor, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	root := t.TempDir()
	cfg := Config{
		ServerDir:     filepath.Join(root, "server"),
		ServerDataDir: filepath.Join(root, "serverdata"),
		StateDir:      filepath.Join(root, "state"),
		Executable:    "/bin/sh",
		Args:          []string{"-c", script},
	}
	for _, dir := range []string{cfg.ServerDir, cfg.ServerDataDir, cfg.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, marker := range installMarkers {
		if err := os.WriteFile(filepath.Join(cfg.ServerDir, marker), []byte("stub"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sup := New(cfg, consolering.New(0), restart.New(nil), notifier, nil, nil)
	if sup.State() != StateInstalled {
		t.Fatalf("got state %q, want installed", sup.State())
	}
	if err := sup.StartServer(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sup, notifier
}

func TestStartStopLifecycle(t *testing.T) {
	script := `while read -r line; do echo "got: $line"; if [ "$line" = "/quit" ]; then exit 0; fi; done`
	sup, notifier := installAndStart(t, script)

	if sup.State() != StateRunning {
		t.Fatalf("got state %q, want running", sup.State())
	}
	if !sup.IsRunning() {
		t.Fatal("expected IsRunning true")
	}
	if pid, ok := sup.ProcessInfo(); !ok || pid == 0 {
		t.Fatalf("expected a live pid, got %d ok=%v", pid, ok)
	}

	if !sup.SendCommand("hello") {
		t.Fatal("expected SendCommand to succeed on a live child")
	}

	if err := sup.StopServer(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sup.State() != StateInstalled {
		t.Fatalf("got state %q, want installed after stop", sup.State())
	}
	if sup.IsRunning() {
		t.Fatal("expected IsRunning false after stop")
	}
	if len(notifier.calls) != 2 || notifier.calls[0] != true || notifier.calls[1] != false {
		t.Fatalf("got notifier calls %v, want [true false]", notifier.calls)
	}
	if code, ok := sup.LastExitCode(); !ok || code != 0 {
		t.Fatalf("got exit code %d ok=%v, want 0", code, ok)
	}
}

func TestStopServerEscalatesToKillOnTimeout(t *testing.T) {
	script := `trap '' TERM; while true; do sleep 0.05; done`
	sup, _ := installAndStart(t, script)
	sup.cfg.GracefulTimeout = 100 * time.Millisecond

	start := time.Now()
	if err := sup.StopServer(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stop took %v, expected kill escalation well under 5s", elapsed)
	}
	if sup.State() != StateInstalled {
		t.Fatalf("got state %q, want installed after forced kill", sup.State())
	}
}

func TestStartServerClearsRestartAndSetsRunningNotification(t *testing.T) {
	script := `while read -r line; do :; done`
	sup, notifier := installAndStart(t, script)
	defer sup.StopServer(context.Background())

	if sup.restart.Pending() {
		t.Fatal("expected restart to be cleared after a successful start")
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != true {
		t.Fatalf("got notifier calls %v, want [true]", notifier.calls)
	}
}

func TestConsoleCapturesChildOutput(t *testing.T) {
	script := `echo "hello from child"`
	sup, _ := installAndStart(t, script)

	deadline := time.After(2 * time.Second)
	for {
		history := sup.console.History(0)
		found := false
		for _, line := range history {
			if line == "hello from child" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for child output to appear in console ring")
		case <-time.After(10 * time.Millisecond):
		}
	}
	sup.StopServer(context.Background())
}
