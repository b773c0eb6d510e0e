// Package diff provides the binary diff engine used for versioned data files.
package diff

import (
	"fmt"
	"io"

	"github.com/kr/binarydist"

	"verhist/internal/history"
)

// Bsdiff produces and applies bsdiff-format changesets.
type Bsdiff struct{}

var _ history.DiffEngine = Bsdiff{}

// NewBsdiff returns the bsdiff engine.
func NewBsdiff() Bsdiff {
	return Bsdiff{}
}

func (Bsdiff) CreateChangeset(base, modified io.Reader, changeset io.Writer) error {
	if err := binarydist.Diff(base, modified, changeset); err != nil {
		return fmt.Errorf("bsdiff: %w", err)
	}
	return nil
}

func (Bsdiff) ApplyChangeset(base, changeset io.Reader, patched io.Writer) error {
	if err := binarydist.Patch(base, patched, changeset); err != nil {
		return fmt.Errorf("bspatch: %w", err)
	}
	return nil
}
