package filesystem_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/odatamock/internal/testutil"
)

func startWatcher(t *testing.T, dir string, debounce time.Duration, exts []string) *atomic.Int32 {
	t.Helper()

	var reloadCount atomic.Int32
	w, err := filesystem.NewWatcher(dir, debounce, exts, &testutil.NoopLogger{}, func() {
		reloadCount.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(w.Stop)
	w.Start()
	return &reloadCount
}

func TestWatcher_DetectsMockdataCreate(t *testing.T) {
	tmpDir := t.TempDir()
	mockdata := filepath.Join(tmpDir, "localService", "mockdata")
	if err := os.MkdirAll(mockdata, 0o755); err != nil {
		t.Fatal(err)
	}

	reloads := startWatcher(t, tmpDir, 100*time.Millisecond, nil)

	if err := os.WriteFile(filepath.Join(mockdata, "Products.json"), []byte("[]"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	if reloads.Load() < 1 {
		t.Error("expected at least one reload")
	}
}

func TestWatcher_DetectsMetadataModify(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "metadata.xml")
	if err := os.WriteFile(f, []byte("<v1/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := startWatcher(t, tmpDir, 100*time.Millisecond, nil)

	_ = os.WriteFile(f, []byte("<v2/>"), 0o644)

	time.Sleep(500 * time.Millisecond)

	if reloads.Load() < 1 {
		t.Error("expected at least one reload on modify")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	reloads := startWatcher(t, tmpDir, 100*time.Millisecond, nil)

	_ = os.WriteFile(filepath.Join(tmpDir, "readme.txt"), []byte("hello"), 0o644)

	time.Sleep(500 * time.Millisecond)

	if reloads.Load() != 0 {
		t.Error("expected no reload for a .txt file")
	}
}

func TestWatcher_CustomExtensions(t *testing.T) {
	tmpDir := t.TempDir()
	reloads := startWatcher(t, tmpDir, 100*time.Millisecond, []string{".edmx"})

	_ = os.WriteFile(filepath.Join(tmpDir, "manifest.json"), []byte("{}"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if reloads.Load() != 0 {
		t.Fatal(".json should be ignored with a custom extension list")
	}

	_ = os.WriteFile(filepath.Join(tmpDir, "service.edmx"), []byte("<x/>"), 0o644)
	time.Sleep(500 * time.Millisecond)
	if reloads.Load() < 1 {
		t.Error("expected a reload for .edmx")
	}
}

func TestWatcher_Debounce(t *testing.T) {
	tmpDir := t.TempDir()
	reloads := startWatcher(t, tmpDir, 200*time.Millisecond, nil)

	// Rapid-fire changes should debounce into one reload.
	for i := range 5 {
		_ = os.WriteFile(filepath.Join(tmpDir, "manifest.json"), []byte(`{"v":`+string(rune('0'+i))+`}`), 0o644)
		time.Sleep(50 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	count := reloads.Load()
	if count > 2 {
		t.Errorf("expected 1-2 reloads (debounced), got %d", count)
	}
	if count < 1 {
		t.Error("expected at least one reload")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := filesystem.NewWatcher(t.TempDir(), 50*time.Millisecond, nil, &testutil.NoopLogger{}, func() {})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	w.Stop()
	w.Stop()
}
