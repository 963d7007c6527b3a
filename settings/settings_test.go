package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s != Default() {
		t.Fatalf("want defaults, got %+v", s)
	}
	if s.Port != 8090 || s.RequestTimeout != 30*time.Second || !s.AutoStart || s.AllowRemoteConnections || s.VerboseLogging {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	writeFile(t, path, "port: 9001\nrequest_timeout_seconds: 5\nverbose_logging: true\n")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Port != 9001 || s.RequestTimeout != 5*time.Second || !s.VerboseLogging || !s.AutoStart {
		t.Fatalf("file values not applied: %+v", s)
	}

	t.Setenv("UNITY_MCP_WS_PORT", "9100")
	t.Setenv("UNITY_MCP_ALLOW_REMOTE", "true")
	t.Setenv("UNITY_MCP_TIMEOUT", "2.5")

	s, err = Load(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if s.Port != 9100 || !s.AllowRemoteConnections || s.RequestTimeout != 2500*time.Millisecond {
		t.Fatalf("env overrides not applied: %+v", s)
	}
	if !s.VerboseLogging {
		t.Fatal("file value lost when env did not override it")
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown key", body: "prot: 1\n"},
		{name: "port range", body: "port: 70000\n"},
		{name: "zero timeout", body: "request_timeout_seconds: 0\n"},
		{name: "bad env bool", env: map[string]string{"UNITY_MCP_VERBOSE": "maybe"}},
		{name: "bad env port", env: map[string]string{"UNITY_MCP_WS_PORT": "http"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writeFile(t, path, tt.body)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	want := Default()
	want.Port = 9200
	want.RequestTimeout = 12 * time.Second
	want.InstanceName = "level-editor"
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}

	bad := want
	bad.Port = 0
	if err := Save(path, bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "port: 9001\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Settings, 8)
	if err := Watch(ctx, path, func(s Settings, err error) {
		if err == nil {
			got <- s
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	writeFile(t, path, "port: 9002\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-got:
			if s.Port == 9002 {
				return
			}
		case <-deadline:
			t.Fatal("no change observed")
		}
	}
}
