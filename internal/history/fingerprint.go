package history

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Fingerprint returns an xxh3-128 digest of a file list. It is independent
// of entry order, so two versions with the same files share a fingerprint.
func Fingerprint(files []FileEntry) string {
	sorted := make([]FileEntry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	for _, f := range sorted {
		buf.WriteString(f.Path)
		buf.WriteByte(0)
		buf.WriteString(f.Checksum)
		buf.WriteByte(0)
		buf.WriteString(strconv.FormatInt(f.Size, 10))
		buf.WriteByte(0)
		buf.WriteString(f.Location)
		buf.WriteByte(0)
		if f.Diff != nil {
			buf.WriteString(f.Diff.Location)
		}
		buf.WriteByte('\n')
	}
	return fmt.Sprintf("%x", xxh3.Hash128(buf.Bytes()).Bytes())
}
