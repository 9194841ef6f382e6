package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"prism/internal/imagedir"
	"prism/internal/journal"
)

// CheckInputDirectory verifies that the directory exists, is readable, and
// reports how many supported images it holds.
func CheckInputDirectory(name, path string) Result {
	res := checkDir(name, path, unix.R_OK|unix.X_OK)
	if !res.Passed {
		return res
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: list: %v)", path, err)}
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") && imagedir.Supported(entry.Name()) {
			count++
		}
	}
	if count == 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (no supported images)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d images)", path, count)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
// A missing directory passes when its parent is writable, since runs create it.
func CheckDirectoryAccess(name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		parent := nearestExisting(filepath.Dir(path))
		if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, parent, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
	}
	res := checkDir(name, path, unix.R_OK|unix.W_OK|unix.X_OK)
	if res.Passed {
		res.Detail = fmt.Sprintf("%s (read/write ok)", path)
	}
	return res
}

// CheckOutputLock reports whether another run currently holds the output directory.
func CheckOutputLock(name, dir string) Result {
	lockPath := filepath.Join(dir, imagedir.LockFileName)
	if _, err := os.Stat(lockPath); errors.Is(err, os.ErrNotExist) {
		return Result{Name: name, Passed: true, Detail: "not locked"}
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("error: probe lock: %v", err)}
	}
	if !ok {
		return Result{Name: name, Detail: "locked by another run"}
	}
	_ = lock.Unlock()
	return Result{Name: name, Passed: true, Detail: "not locked"}
}

// CheckJournal opens the journal database and reads the latest run.
func CheckJournal(ctx context.Context, name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		dir := CheckDirectoryAccess(name, filepath.Dir(path))
		if !dir.Passed {
			return dir
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
	}
	store, err := journal.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()
	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if len(runs) == 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (no runs yet)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (last run %s)", path, runs[0].Status)}
}

func checkDir(name, path string, mode uint32) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

func nearestExisting(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
