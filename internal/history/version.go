package history

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionID identifies a project version. Versions start at 1 and increase
// by exactly one per accepted push. The zero value means "no versions yet".
type VersionID int64

// String renders the version as "v<n>".
func (v VersionID) String() string {
	return "v" + strconv.FormatInt(int64(v), 10)
}

// Next returns the version that follows v.
func (v VersionID) Next() VersionID {
	return v + 1
}

// ParseVersion parses "v7" or "7" into a VersionID.
func ParseVersion(s string) (VersionID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid version %q: must not be negative", s)
	}
	return VersionID(n), nil
}
