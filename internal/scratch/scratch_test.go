package scratch

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSaveAndCleanup(t *testing.T) {
	d, err := New(filepath.Join(t.TempDir(), "nested", "scratch"))
	if err != nil {
		t.Fatal(err)
	}

	path, cleanup, err := d.Save(strings.NewReader("RIFF...."), "req1", ".WAV")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != d.Path() || !strings.HasSuffix(path, ".wav") {
		t.Fatalf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "RIFF...." {
		t.Fatalf("content = %q, err = %v", data, err)
	}

	cleanup()
	cleanup() // second call is harmless
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
}

func TestSaveRejectsOddExtensions(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path, cleanup, err := d.Save(strings.NewReader("x"), "req", "./../evil")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if filepath.Dir(path) != d.Path() || filepath.Ext(path) != "" {
		t.Fatalf("path = %s", path)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestSaveFailureLeavesNothing(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, cleanup, err := d.Save(io.MultiReader(strings.NewReader("abc"), failingReader{}), "req", ".wav")
	if err == nil {
		t.Fatal("expected error")
	}
	cleanup()

	entries, _ := os.ReadDir(d.Path())
	if len(entries) != 0 {
		t.Fatalf("scratch dir not empty: %v", entries)
	}
}

func TestSaveConcurrentNamesAreUnique(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := d.Save(strings.NewReader("data"), "same-id", ".wav")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			paths[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) != n {
		t.Fatalf("got %d unique paths, want %d", len(paths), n)
	}
}

func TestCreate(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	f, cleanup, err := d.Create("rec", ".wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("data"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if !strings.HasPrefix(filepath.Base(f.Name()), "upload-rec-") {
		t.Fatalf("name = %s", f.Name())
	}

	cleanup()
	entries, _ := os.ReadDir(d.Path())
	if len(entries) != 0 {
		t.Fatalf("%d entries left", len(entries))
	}
}
