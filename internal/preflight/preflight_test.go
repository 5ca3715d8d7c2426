package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tsusu/internal/config"
	"tsusu/internal/rundir"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckRuntimeDir_MissingLeaf(t *testing.T) {
	result := CheckRuntimeDir("runtime", filepath.Join(t.TempDir(), "tsusu"))
	if !result.Passed {
		t.Fatalf("expected pass when parent is usable, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "created on start") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckRuntimeDir_MissingParent(t *testing.T) {
	result := CheckRuntimeDir("runtime", filepath.Join(t.TempDir(), "a", "tsusu"))
	if result.Passed {
		t.Fatal("expected failure when parent is missing")
	}
}

func TestCheckSocketPath(t *testing.T) {
	if !CheckSocketPath("socket", "/run/user/1000/tsusu/sock").Passed {
		t.Fatal("expected short path to pass")
	}
	if CheckSocketPath("socket", "/"+strings.Repeat("x", 200)).Passed {
		t.Fatal("expected long path to fail")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(nil, rundir.Paths{}); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAll(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = base
	paths := rundir.ForDir(filepath.Join(base, "run"))

	results := RunAll(&cfg, paths)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("expected %s to pass, got: %s", r.Name, r.Detail)
		}
	}

	cfg.Paths.LogDir = ""
	if results := RunAll(&cfg, paths); len(results) != 2 {
		t.Fatalf("expected log dir check to be skipped, got %d results", len(results))
	}
}
