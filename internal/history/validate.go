package history

import (
	"fmt"
	"path"
	"strings"
)

// Validate checks cs against the current snapshot. It has no side effects.
// The first violation found is returned as a *ValidationError.
func Validate(current []FileEntry, cs ChangeSet, types FileTypes) error {
	existing := make(map[string]FileEntry, len(current))
	for _, f := range current {
		existing[f.Path] = f
	}

	seen := make(map[string]bool)
	claim := func(p string) error {
		if err := validatePath(p); err != nil {
			return err
		}
		if seen[p] {
			return &ValidationError{Path: p, Rule: RuleDuplicatePath}
		}
		seen[p] = true
		return nil
	}

	for _, r := range cs.Removed {
		if err := claim(r.Path); err != nil {
			return err
		}
		if _, ok := existing[r.Path]; !ok {
			return &ValidationError{Path: r.Path, Rule: RuleNotFound}
		}
	}

	for _, a := range cs.Added {
		if err := claim(a.Path); err != nil {
			return err
		}
		if _, ok := existing[a.Path]; ok {
			return &ValidationError{Path: a.Path, Rule: RuleAlreadyExists}
		}
		if err := validateContent(a.Path, a.Checksum, a.Size); err != nil {
			return err
		}
	}

	for _, u := range cs.Updated {
		if err := claim(u.Path); err != nil {
			return err
		}
		cur, ok := existing[u.Path]
		if !ok {
			return &ValidationError{Path: u.Path, Rule: RuleNotFound}
		}
		if err := validateContent(u.Path, u.Checksum, u.Size); err != nil {
			return err
		}

		switch u.Kind {
		case UpdateReplace:
			if u.Diff != nil {
				return &ValidationError{Path: u.Path, Rule: RuleInvalidUpdateKind, Detail: "replace must not carry a changeset"}
			}
		case UpdatePatch:
			if u.Diff == nil {
				return &ValidationError{Path: u.Path, Rule: RuleInvalidUpdateKind, Detail: "patch requires a changeset"}
			}
			if !types.IsVersioned(u.Path) {
				return &ValidationError{Path: u.Path, Rule: RuleNotVersioned}
			}
			if err := validateContent(u.Path, u.Diff.Checksum, u.Diff.Size); err != nil {
				return err
			}
			if u.Diff.BaseChecksum != cur.Checksum {
				return &ValidationError{
					Path:   u.Path,
					Rule:   RuleStaleBase,
					Detail: fmt.Sprintf("changeset base %s, current %s", u.Diff.BaseChecksum, cur.Checksum),
				}
			}
		default:
			return &ValidationError{Path: u.Path, Rule: RuleInvalidUpdateKind, Detail: fmt.Sprintf("unknown kind %q", u.Kind)}
		}
	}

	return checkNesting(current, cs)
}

// checkNesting rejects added paths that would make a file and a directory
// share a name in the resulting snapshot, e.g. "a" next to "a/b".
func checkNesting(current []FileEntry, cs ChangeSet) error {
	if len(cs.Added) == 0 {
		return nil
	}
	removed := make(map[string]bool, len(cs.Removed))
	for _, r := range cs.Removed {
		removed[r.Path] = true
	}

	files := make(map[string]bool, len(current)+len(cs.Added))
	dirs := make(map[string]bool)
	add := func(p string) {
		files[p] = true
		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	for _, f := range current {
		if !removed[f.Path] {
			add(f.Path)
		}
	}
	for _, a := range cs.Added {
		add(a.Path)
	}

	for _, a := range cs.Added {
		if dirs[a.Path] {
			return &ValidationError{Path: a.Path, Rule: RuleInvalidPath, Detail: "is a directory of another file"}
		}
		for d := path.Dir(a.Path); d != "."; d = path.Dir(d) {
			if files[d] {
				return &ValidationError{Path: a.Path, Rule: RuleInvalidPath, Detail: "parent " + d + " is a file"}
			}
		}
	}
	return nil
}

func validatePath(p string) error {
	switch {
	case p == "":
		return &ValidationError{Path: p, Rule: RuleInvalidPath, Detail: "empty"}
	case strings.Contains(p, `\`):
		return &ValidationError{Path: p, Rule: RuleInvalidPath, Detail: "backslash"}
	case strings.HasPrefix(p, "/"):
		return &ValidationError{Path: p, Rule: RuleInvalidPath, Detail: "absolute"}
	case path.Clean(p) != p:
		return &ValidationError{Path: p, Rule: RuleInvalidPath, Detail: "not clean"}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return &ValidationError{Path: p, Rule: RuleInvalidPath, Detail: "relative segment"}
		}
	}
	return nil
}

func validateContent(p, checksum string, size int64) error {
	if checksum == "" {
		return &ValidationError{Path: p, Rule: RuleInvalidChecksum}
	}
	if size < 0 {
		return &ValidationError{Path: p, Rule: RuleInvalidSize}
	}
	return nil
}
