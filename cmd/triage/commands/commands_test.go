package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points every store at a temp dir and selects backends that need
// no network. Tests using it cannot run in parallel.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("TRIAGE_CONFIG", "")
	t.Setenv("VECTOR_BACKEND", "bolt")
	t.Setenv("METADATA_BACKEND", "sqlite")
	t.Setenv("BOLT_PATH", filepath.Join(dir, "v.db"))
	t.Setenv("METADATA_SQLITE_PATH", filepath.Join(dir, "m.db"))
	t.Setenv("ITEMS_DB", filepath.Join(dir, "items.db"))
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("MODEL_PROVIDER", "none")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"5m", 5 * time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := parseInterval(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseInterval(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseInterval(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "triage ") || !strings.Contains(out, "commit:") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestIngestAndList(t *testing.T) {
	isolate(t)

	out, err := run(t, "ingest", "--text", "Checkout button does nothing", "--text", "Dark mode please")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var res struct {
		Stored int `json:"stored"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode ingest output %q: %v", out, err)
	}
	if res.Stored != 2 {
		t.Errorf("stored: want 2, got %d", res.Stored)
	}

	out, err = run(t, "cluster", "list")
	if err != nil {
		t.Fatalf("cluster list: %v", err)
	}
	if !strings.HasPrefix(out, "ID") {
		t.Errorf("expected table header, got %q", out)
	}

	out, err = run(t, "cluster", "verify")
	if err != nil {
		t.Fatalf("cluster verify: %v", err)
	}
	var rep struct {
		Clusters int   `json:"clusters"`
		Drift    []any `json:"drift"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode verify output %q: %v", out, err)
	}
	if rep.Clusters != 0 || len(rep.Drift) != 0 {
		t.Errorf("verify before any pass: got %+v", rep)
	}
}

func TestCommandArgumentErrors(t *testing.T) {
	isolate(t)

	if _, err := run(t, "ingest"); err == nil {
		t.Error("ingest with no input should fail")
	}
	if _, err := run(t, "cluster", "reset"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("reset without --yes: got %v", err)
	}
	if _, err := run(t, "cluster", "status", "c1", "archived"); err == nil {
		t.Error("unknown status should fail")
	}
	if _, err := run(t, "cluster", "get", "missing"); err == nil {
		t.Error("unknown cluster should fail")
	}
	if _, err := run(t, "cluster", "search", "only-id"); err == nil {
		t.Error("search needs a cluster and a text")
	}
}
