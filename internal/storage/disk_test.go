package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.bin"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	total, err := DiskUsageBytes(dir, filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Errorf("total = %d", total)
	}

	total, err = DiskUsageBytes(filepath.Join(dir, "a.bin"))
	if err != nil || total != 100 {
		t.Errorf("file total = %d, %v", total, err)
	}
}
