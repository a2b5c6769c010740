package usage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewDeduplicates(t *testing.T) {
	s := New("b.txt", "a.txt", "b.txt", "")
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", s.Len())
	}
	if got := s.Sorted(); !reflect.DeepEqual(got, []string{"a.txt", "b.txt"}) {
		t.Errorf("unexpected members %v", got)
	}
}

func TestIntersect(t *testing.T) {
	s := New("a.txt", "src/main.go")

	tests := []struct {
		name    string
		changed []string
		want    []string
	}{
		{"disjoint", []string{"c.txt", "docs/x.md"}, nil},
		{"overlap", []string{"c.txt", "src/main.go"}, []string{"src/main.go"}},
		{"duplicates collapse", []string{"a.txt", "a.txt"}, []string{"a.txt"}},
		{"empty change list", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Intersect(tt.changed); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Intersect(%v) = %v, want %v", tt.changed, got, tt.want)
			}
		})
	}
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filelist.txt")
	s := New("Gemfile", "main.rb", "Gemfile.lock")

	if err := s.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "Gemfile\nGemfile.lock\nmain.rb\n" {
		t.Errorf("unexpected file content %q", data)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch: %v vs %v", got.Sorted(), s.Sorted())
	}
}

func TestReadIgnoresBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filelist.txt")
	_ = os.WriteFile(path, []byte("a.txt\r\n\n\nb.txt"), 0o644)

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(got.Sorted(), []string{"a.txt", "b.txt"}) {
		t.Errorf("unexpected members %v", got.Sorted())
	}
}

func TestReadMissing(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
