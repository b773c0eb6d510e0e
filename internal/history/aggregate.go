package history

import (
	"path"
	"sort"
	"strings"
)

// Tags derived from a snapshot's file types.
const (
	TagValidQGIS     = "valid_qgis"
	TagInputUse      = "input_use"
	TagVersionedData = "versioned_data"
)

// DefaultVersionedExtensions are the data file types that may carry diffs.
var DefaultVersionedExtensions = []string{".gpkg", ".sqlite"}

var qgisExtensions = map[string]bool{".qgs": true, ".qgz": true}

// FileTypes classifies paths by extension.
type FileTypes struct {
	versioned map[string]bool
}

// NewFileTypes builds a classifier. An empty list uses DefaultVersionedExtensions.
func NewFileTypes(versionedExtensions []string) FileTypes {
	if len(versionedExtensions) == 0 {
		versionedExtensions = DefaultVersionedExtensions
	}
	m := make(map[string]bool, len(versionedExtensions))
	for _, ext := range versionedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m[ext] = true
	}
	return FileTypes{versioned: m}
}

// IsVersioned reports whether p is a versioned data file.
func (t FileTypes) IsVersioned(p string) bool {
	return t.versioned[strings.ToLower(path.Ext(p))]
}

// IsQGIS reports whether p is a QGIS project file.
func (t FileTypes) IsQGIS(p string) bool {
	return qgisExtensions[strings.ToLower(path.Ext(p))]
}

// Aggregates are the project-level values derived from a snapshot.
type Aggregates struct {
	DiskUsage int64
	Tags      []string
}

// Aggregate computes disk usage and tags for a snapshot. It does no I/O.
func Aggregate(files []FileEntry, types FileTypes) Aggregates {
	var agg Aggregates
	qgis := 0
	versioned := false
	for _, f := range files {
		agg.DiskUsage += f.Size
		if types.IsQGIS(f.Path) {
			qgis++
		}
		if types.IsVersioned(f.Path) {
			versioned = true
		}
	}

	tags := []string{}
	if qgis == 1 {
		tags = append(tags, TagValidQGIS, TagInputUse)
	}
	if versioned {
		tags = append(tags, TagVersionedData)
	}
	sort.Strings(tags)
	agg.Tags = tags
	return agg
}

// SnapshotSize returns the sum of all file sizes in a snapshot.
func SnapshotSize(files []FileEntry) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
