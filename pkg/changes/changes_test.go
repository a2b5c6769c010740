package changes

import (
	"reflect"
	"testing"
)

func TestChangeSetHasAdditions(t *testing.T) {
	tests := []struct {
		name  string
		files []FileChange
		want  bool
	}{
		{"empty", nil, false},
		{"modified only", []FileChange{{Path: "a", Status: StatusModified}}, false},
		{"one added", []FileChange{{Path: "a", Status: StatusModified}, {Path: "b", Status: StatusAdded}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (ChangeSet{Files: tt.files}).HasAdditions(); got != tt.want {
				t.Errorf("HasAdditions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeSetPaths(t *testing.T) {
	cs := ChangeSet{Files: []FileChange{
		{Path: "z.txt", Status: StatusModified},
		{Path: "new.txt", Status: StatusAdded},
		{Path: "lib/new_name.rb", Status: StatusRenamed, PreviousPath: "lib/old_name.rb"},
		{Path: "gone.txt", Status: StatusRemoved},
		{Path: "z.txt", Status: StatusChanged},
		{Path: "same.txt", Status: StatusUnchanged},
	}}

	want := []string{"gone.txt", "lib/new_name.rb", "lib/old_name.rb", "z.txt"}
	if got := cs.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
	if got := cs.Additions(); !reflect.DeepEqual(got, []string{"new.txt"}) {
		t.Errorf("Additions() = %v", got)
	}
}
