//go:build linux

package tracer

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func inotifyRecord(wd int32, mask uint32, name string) []byte {
	padded := len(name)
	if padded > 0 {
		padded = (len(name)/16 + 1) * 16
	}
	buf := make([]byte, unix.SizeofInotifyEvent+padded)
	binary.NativeEndian.PutUint32(buf[0:], uint32(wd))
	binary.NativeEndian.PutUint32(buf[4:], mask)
	binary.NativeEndian.PutUint32(buf[12:], uint32(padded))
	copy(buf[unix.SizeofInotifyEvent:], name)
	return buf
}

func TestDecodeInotify(t *testing.T) {
	names := map[int32]string{1: "/w", 2: "/w/lib"}
	var buf []byte
	buf = append(buf, inotifyRecord(1, unix.IN_OPEN, "a.txt")...)
	buf = append(buf, inotifyRecord(2, unix.IN_ACCESS, "b.rb")...)
	buf = append(buf, inotifyRecord(1, unix.IN_OPEN|unix.IN_ISDIR, "lib")...)
	buf = append(buf, inotifyRecord(1, unix.IN_OPEN, "")...)
	buf = append(buf, inotifyRecord(9, unix.IN_OPEN, "unknown.txt")...)

	got := decodeInotify(buf, names)
	want := []string{"/w/a.txt", "/w/lib/b.rb"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("decodeInotify = %v, want %v", got, want)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInotifyObserverRun(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"a.txt", "sub/b.txt", ".git/HEAD"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&InotifyObserver{Root: root, Out: out}).Run(ctx) }()

	// allow the watches to be registered
	time.Sleep(300 * time.Millisecond)
	for i := 0; i < 2; i++ {
		for _, p := range []string{"a.txt", "sub/b.txt", ".git/HEAD"} {
			if _, err := os.ReadFile(filepath.Join(root, p)); err != nil {
				t.Fatal(err)
			}
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && strings.Count(out.String(), "\n") < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	got := map[string]int{}
	for _, l := range lines {
		got[l]++
	}
	for _, p := range []string{"a.txt", "sub/b.txt"} {
		if got[filepath.Join(root, p)] != 1 {
			t.Errorf("%s reported %d times, want once (output %q)", p, got[filepath.Join(root, p)], out.String())
		}
	}
	if got[filepath.Join(root, ".git/HEAD")] != 0 {
		t.Error(".git must not be watched")
	}
}
