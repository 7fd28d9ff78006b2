package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lock, err := Acquire(int(f.Fd()))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// Acquiring again after Unlock must succeed without blocking.
	lock2, err := Acquire(int(f.Fd()))
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if err := lock2.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}
