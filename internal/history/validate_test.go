package history

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	types := NewFileTypes(nil)
	current := []FileEntry{
		{Path: "project.qgs", Checksum: "c-qgs", Size: 10, Location: "v1/project.qgs", Version: 1},
		{Path: "data/roads.gpkg", Checksum: "c-roads", Size: 100, Location: "v1/data/roads.gpkg", Version: 1},
	}
	patch := func(p, base string) FileUpdate {
		return FileUpdate{
			Path:     p,
			Kind:     UpdatePatch,
			Checksum: "c-new",
			Size:     120,
			Diff:     &DiffUpload{Checksum: "c-diff", Size: 12, BaseChecksum: base},
		}
	}

	tests := []struct {
		name     string
		cs       ChangeSet
		wantRule string
		wantPath string
	}{
		{name: "empty change set", cs: ChangeSet{}},
		{
			name: "add remove and patch",
			cs: ChangeSet{
				Added:   []FileUpload{{Path: "notes.txt", Checksum: "c-notes", Size: 3}},
				Removed: []FileRef{{Path: "project.qgs"}},
				Updated: []FileUpdate{patch("data/roads.gpkg", "c-roads")},
			},
		},
		{
			name: "replace any file type",
			cs: ChangeSet{Updated: []FileUpdate{
				{Path: "project.qgs", Kind: UpdateReplace, Checksum: "c-2", Size: 11},
			}},
		},
		{
			name:     "remove unknown path",
			cs:       ChangeSet{Removed: []FileRef{{Path: "missing.gpkg"}}},
			wantRule: RuleNotFound,
			wantPath: "missing.gpkg",
		},
		{
			name:     "add existing path",
			cs:       ChangeSet{Added: []FileUpload{{Path: "project.qgs", Checksum: "c", Size: 1}}},
			wantRule: RuleAlreadyExists,
			wantPath: "project.qgs",
		},
		{
			name:     "update unknown path",
			cs:       ChangeSet{Updated: []FileUpdate{{Path: "x.gpkg", Kind: UpdateReplace, Checksum: "c", Size: 1}}},
			wantRule: RuleNotFound,
			wantPath: "x.gpkg",
		},
		{
			name: "path in two lists",
			cs: ChangeSet{
				Removed: []FileRef{{Path: "project.qgs"}},
				Updated: []FileUpdate{{Path: "project.qgs", Kind: UpdateReplace, Checksum: "c", Size: 1}},
			},
			wantRule: RuleDuplicatePath,
			wantPath: "project.qgs",
		},
		{
			name: "path added twice",
			cs: ChangeSet{Added: []FileUpload{
				{Path: "a.txt", Checksum: "c", Size: 1},
				{Path: "a.txt", Checksum: "c", Size: 1},
			}},
			wantRule: RuleDuplicatePath,
			wantPath: "a.txt",
		},
		{
			name:     "absolute path",
			cs:       ChangeSet{Added: []FileUpload{{Path: "/etc/passwd", Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
		},
		{
			name:     "parent segment",
			cs:       ChangeSet{Added: []FileUpload{{Path: "../escape", Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
		},
		{
			name:     "unclean path",
			cs:       ChangeSet{Added: []FileUpload{{Path: "a//b", Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
		},
		{
			name:     "backslash",
			cs:       ChangeSet{Added: []FileUpload{{Path: `a\b`, Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
		},
		{
			name:     "empty path",
			cs:       ChangeSet{Removed: []FileRef{{Path: ""}}},
			wantRule: RuleInvalidPath,
		},
		{
			name:     "missing checksum",
			cs:       ChangeSet{Added: []FileUpload{{Path: "a.txt", Size: 1}}},
			wantRule: RuleInvalidChecksum,
			wantPath: "a.txt",
		},
		{
			name:     "negative size",
			cs:       ChangeSet{Added: []FileUpload{{Path: "a.txt", Checksum: "c", Size: -1}}},
			wantRule: RuleInvalidSize,
			wantPath: "a.txt",
		},
		{
			name:     "patch on non-versioned file",
			cs:       ChangeSet{Updated: []FileUpdate{patch("project.qgs", "c-qgs")}},
			wantRule: RuleNotVersioned,
			wantPath: "project.qgs",
		},
		{
			name:     "patch against stale base",
			cs:       ChangeSet{Updated: []FileUpdate{patch("data/roads.gpkg", "c-old")}},
			wantRule: RuleStaleBase,
			wantPath: "data/roads.gpkg",
		},
		{
			name: "patch without changeset",
			cs: ChangeSet{Updated: []FileUpdate{
				{Path: "data/roads.gpkg", Kind: UpdatePatch, Checksum: "c", Size: 1},
			}},
			wantRule: RuleInvalidUpdateKind,
		},
		{
			name: "replace with changeset",
			cs: ChangeSet{Updated: []FileUpdate{{
				Path: "data/roads.gpkg", Kind: UpdateReplace, Checksum: "c", Size: 1,
				Diff: &DiffUpload{Checksum: "d", Size: 1, BaseChecksum: "c-roads"},
			}}},
			wantRule: RuleInvalidUpdateKind,
		},
		{
			name: "unknown kind",
			cs: ChangeSet{Updated: []FileUpdate{
				{Path: "data/roads.gpkg", Kind: "merge", Checksum: "c", Size: 1},
			}},
			wantRule: RuleInvalidUpdateKind,
		},
		{
			name: "changeset without checksum",
			cs: ChangeSet{Updated: []FileUpdate{{
				Path: "data/roads.gpkg", Kind: UpdatePatch, Checksum: "c", Size: 1,
				Diff: &DiffUpload{Size: 1, BaseChecksum: "c-roads"},
			}}},
			wantRule: RuleInvalidChecksum,
		},
		{
			name:     "file under an existing file",
			cs:       ChangeSet{Added: []FileUpload{{Path: "project.qgs/extra.txt", Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
			wantPath: "project.qgs/extra.txt",
		},
		{
			name:     "file named like an existing directory",
			cs:       ChangeSet{Added: []FileUpload{{Path: "data", Checksum: "c", Size: 1}}},
			wantRule: RuleInvalidPath,
			wantPath: "data",
		},
		{
			name: "file and directory added together",
			cs: ChangeSet{Added: []FileUpload{
				{Path: "notes", Checksum: "c", Size: 1},
				{Path: "notes/today.txt", Checksum: "c", Size: 1},
			}},
			wantRule: RuleInvalidPath,
		},
		{
			name: "directory freed by a removal",
			cs: ChangeSet{
				Removed: []FileRef{{Path: "data/roads.gpkg"}},
				Added:   []FileUpload{{Path: "data", Checksum: "c", Size: 1}},
			},
		},
		{
			name: "sibling sharing a name prefix",
			cs:   ChangeSet{Added: []FileUpload{{Path: "data-old/roads.gpkg", Checksum: "c", Size: 1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(current, tt.cs, types)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if ve.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q (err %v)", ve.Rule, tt.wantRule, err)
			}
			if tt.wantPath != "" && ve.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", ve.Path, tt.wantPath)
			}
		})
	}
}

func TestValidate_DoesNotTouchSnapshot(t *testing.T) {
	current := []FileEntry{{Path: "a.gpkg", Checksum: "c", Size: 1, Location: "v1/a.gpkg", Version: 1}}
	cs := ChangeSet{Removed: []FileRef{{Path: "a.gpkg"}}}

	if err := Validate(current, cs, NewFileTypes(nil)); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(current) != 1 || current[0].Path != "a.gpkg" {
		t.Errorf("snapshot changed: %+v", current)
	}
}
