package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"prism/internal/imagedir"
	"prism/internal/journal"
	"prism/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_MissingButCreatable(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "a", "b"))
	if !result.Passed {
		t.Fatalf("expected pass for creatable dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail %q", result.Detail)
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

func TestCheckInputDirectory(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteImages(t, dir, 3, 2, 2)
	testsupport.WriteFile(t, filepath.Join(dir, "readme.txt"), []byte("x"))

	result := CheckInputDirectory("input", dir)
	if !result.Passed || !strings.Contains(result.Detail, "3 images") {
		t.Fatalf("unexpected result: %+v", result)
	}

	missing := CheckInputDirectory("input", filepath.Join(dir, "nope"))
	if missing.Passed || missing.Detail == "" {
		t.Fatalf("expected failure for missing input, got %+v", missing)
	}
}

func TestCheckOutputLock(t *testing.T) {
	dir := t.TempDir()
	if res := CheckOutputLock("lock", dir); !res.Passed {
		t.Fatalf("expected unlocked, got %s", res.Detail)
	}

	held := flock.New(filepath.Join(dir, imagedir.LockFileName))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	if res := CheckOutputLock("lock", dir); res.Passed {
		t.Fatal("expected locked result while another holder exists")
	}
}

func TestCheckJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	res := CheckJournal(context.Background(), "journal", path)
	if !res.Passed || !strings.Contains(res.Detail, "will be created") {
		t.Fatalf("unexpected result for missing journal: %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("check must not create the journal")
	}

	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.BeginRun(context.Background(), journal.RunInfo{}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	_ = store.Close()

	res = CheckJournal(context.Background(), "journal", path)
	if !res.Passed || !strings.Contains(res.Detail, "last run running") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMetricsTextfile())
	testsupport.WriteImages(t, cfg.Paths.InputDir, 2, 2, 2)

	results := RunAll(context.Background(), cfg)
	// input, output, lock, logs, journal, metrics
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if blocking := Blocking(results); len(blocking) != 0 {
		t.Fatalf("expected no blocking failures, got %v", blocking)
	}
}

func TestBlockingIgnoresOptionalFailures(t *testing.T) {
	results := []Result{
		{Name: "Input directory", Passed: false},
		{Name: "Journal", Passed: false, Optional: true},
		{Name: "Output directory", Passed: true},
	}
	blocking := Blocking(results)
	if len(blocking) != 1 || blocking[0].Name != "Input directory" {
		t.Fatalf("unexpected blocking results: %v", blocking)
	}
}
