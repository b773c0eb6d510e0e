package testutil

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"verhist/internal/history"
)

// ErrInjected is returned by FailingDiffEngine.
var ErrInjected = errors.New("injected diff failure")

// FailingDiffEngine fails every apply. Create delegates to Inner.
type FailingDiffEngine struct {
	Inner history.DiffEngine
}

func (f FailingDiffEngine) CreateChangeset(base, modified io.Reader, changeset io.Writer) error {
	return f.Inner.CreateChangeset(base, modified, changeset)
}

func (FailingDiffEngine) ApplyChangeset(io.Reader, io.Reader, io.Writer) error {
	return ErrInjected
}

// SlowDiffEngine sleeps for Delay before delegating every call to Inner.
type SlowDiffEngine struct {
	Inner history.DiffEngine
	Delay time.Duration
}

func (s SlowDiffEngine) CreateChangeset(base, modified io.Reader, changeset io.Writer) error {
	time.Sleep(s.Delay)
	return s.Inner.CreateChangeset(base, modified, changeset)
}

func (s SlowDiffEngine) ApplyChangeset(base, changeset io.Reader, patched io.Writer) error {
	time.Sleep(s.Delay)
	return s.Inner.ApplyChangeset(base, changeset, patched)
}

// CountingDiffEngine counts apply calls made through it.
type CountingDiffEngine struct {
	Inner   history.DiffEngine
	Applies atomic.Int64
}

func (c *CountingDiffEngine) CreateChangeset(base, modified io.Reader, changeset io.Writer) error {
	return c.Inner.CreateChangeset(base, modified, changeset)
}

func (c *CountingDiffEngine) ApplyChangeset(base, changeset io.Reader, patched io.Writer) error {
	c.Applies.Add(1)
	return c.Inner.ApplyChangeset(base, changeset, patched)
}

var (
	_ history.DiffEngine = FailingDiffEngine{}
	_ history.DiffEngine = SlowDiffEngine{}
	_ history.DiffEngine = (*CountingDiffEngine)(nil)
)
