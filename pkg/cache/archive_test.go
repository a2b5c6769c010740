package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestArchiveDirectory(t *testing.T) {
	chdir(t)
	_ = os.MkdirAll("out/nested", 0o755)
	_ = os.WriteFile("out/a.txt", []byte("a"), 0o644)
	_ = os.WriteFile("out/nested/b.txt", []byte("b"), 0o600)

	var buf bytes.Buffer
	n, err := writeArchive(&buf, []string{"out", "missing"})
	if err != nil {
		t.Fatalf("writeArchive failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files, got %d", n)
	}

	_ = os.RemoveAll("out")
	restored, err := extractArchive(bytes.NewReader(buf.Bytes()), []string{"out"})
	if err != nil {
		t.Fatalf("extractArchive failed: %v", err)
	}
	if restored != 2 {
		t.Errorf("expected 2 restored files, got %d", restored)
	}
	got, _ := os.ReadFile(filepath.Join("out", "nested", "b.txt"))
	if string(got) != "b" {
		t.Errorf("unexpected content %q", got)
	}
	info, _ := os.Stat(filepath.Join("out", "nested", "b.txt"))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestExtractOnlyRequestedPaths(t *testing.T) {
	chdir(t)
	_ = os.WriteFile("keep.txt", []byte("k"), 0o644)
	_ = os.WriteFile("other.txt", []byte("o"), 0o644)

	var buf bytes.Buffer
	if _, err := writeArchive(&buf, []string{"keep.txt", "other.txt"}); err != nil {
		t.Fatalf("writeArchive failed: %v", err)
	}
	_ = os.Remove("keep.txt")
	_ = os.Remove("other.txt")

	if _, err := extractArchive(bytes.NewReader(buf.Bytes()), []string{"keep.txt"}); err != nil {
		t.Fatalf("extractArchive failed: %v", err)
	}
	if _, err := os.Stat("other.txt"); !os.IsNotExist(err) {
		t.Error("unrequested entry should not be restored")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	chdir(t)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	_ = tw.WriteHeader(&tar.Header{Name: "0", Mode: 0o644, Size: 2, Typeflag: tar.TypeReg})
	_, _ = tw.Write([]byte("ok"))
	_ = tw.WriteHeader(&tar.Header{Name: "1/../../evil.txt", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg})
	_, _ = tw.Write([]byte("x"))
	_ = tw.Close()
	_ = gz.Close()

	if _, err := extractArchive(bytes.NewReader(buf.Bytes()), []string{"ok.txt", "sub"}); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := os.Stat("ok.txt"); !os.IsNotExist(err) {
		t.Error("no entry should be restored when the archive is rejected")
	}
	entries, _ := os.ReadDir(".")
	if len(entries) != 0 {
		t.Errorf("staged temp files were left behind: %d entries", len(entries))
	}
}

func TestExtractIntoOtherLocation(t *testing.T) {
	dir := chdir(t)
	_ = os.MkdirAll("runner-1/out", 0o755)
	_ = os.WriteFile("runner-1/list.txt", []byte("l"), 0o644)
	_ = os.WriteFile("runner-1/out/a.txt", []byte("a"), 0o644)

	var buf bytes.Buffer
	if _, err := writeArchive(&buf, []string{filepath.Join(dir, "runner-1", "list.txt"), "runner-1/out"}); err != nil {
		t.Fatalf("writeArchive failed: %v", err)
	}

	dest := []string{filepath.Join(dir, "runner-2", "list.txt"), "runner-2/out"}
	n, err := extractArchive(bytes.NewReader(buf.Bytes()), dest)
	if err != nil {
		t.Fatalf("extractArchive failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 restored files, got %d", n)
	}
	if got, _ := os.ReadFile(dest[0]); string(got) != "l" {
		t.Errorf("list.txt = %q", got)
	}
	if got, _ := os.ReadFile(filepath.Join("runner-2", "out", "a.txt")); string(got) != "a" {
		t.Errorf("out/a.txt = %q", got)
	}
}

func TestDestination(t *testing.T) {
	paths := []string{"/tmp/r2/filelist.txt", "/tmp/r2/dir"}
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"0", "/tmp/r2/filelist.txt", true},
		{"1/sub/x.txt", filepath.Join("/tmp/r2/dir", "sub", "x.txt"), true},
		{"2", "", false},
		{"-1", "", false},
		{"/etc/passwd", "", false},
		{"filelist.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := destination(tt.name, paths)
		if got != tt.want || ok != tt.ok {
			t.Errorf("destination(%q) = %q, %v, want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
