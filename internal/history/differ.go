package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DiffEngine is a binary diff capability. Implementations are treated as
// trusted but possibly failing; they are never called concurrently on the
// same buffers.
type DiffEngine interface {
	// CreateChangeset writes the changeset that turns base into modified.
	CreateChangeset(base, modified io.Reader, changeset io.Writer) error

	// ApplyChangeset writes the result of applying changeset to base.
	ApplyChangeset(base, changeset io.Reader, patched io.Writer) error
}

// DefaultDiffTimeout bounds a single diff engine call.
const DefaultDiffTimeout = 2 * time.Minute

// Differ wraps a DiffEngine with a bounded worker pool and per-call
// timeouts, and translates engine failures into DiffApplyError.
type Differ struct {
	engine  DiffEngine
	timeout time.Duration
	slots   chan struct{}
}

// NewDiffer creates a Differ. A non-positive timeout uses DefaultDiffTimeout;
// a non-positive workers count allows one call at a time.
func NewDiffer(engine DiffEngine, timeout time.Duration, workers int) *Differ {
	if timeout <= 0 {
		timeout = DefaultDiffTimeout
	}
	if workers <= 0 {
		workers = 1
	}
	return &Differ{
		engine:  engine,
		timeout: timeout,
		slots:   make(chan struct{}, workers),
	}
}

// Apply applies changeset to base and returns the patched content.
// Every failure, including a timeout, is a *DiffApplyError for path.
func (d *Differ) Apply(ctx context.Context, path string, base, changeset []byte) ([]byte, error) {
	out, err := d.run(ctx, func(w io.Writer) error {
		return d.engine.ApplyChangeset(bytes.NewReader(base), bytes.NewReader(changeset), w)
	})
	if err != nil {
		return nil, &DiffApplyError{
			Path:    path,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	return out, nil
}

// Create computes the changeset from base to modified.
func (d *Differ) Create(ctx context.Context, base, modified []byte) ([]byte, error) {
	out, err := d.run(ctx, func(w io.Writer) error {
		return d.engine.CreateChangeset(bytes.NewReader(base), bytes.NewReader(modified), w)
	})
	if err != nil {
		return nil, fmt.Errorf("creating changeset: %w", err)
	}
	return out, nil
}

// run executes fn on a worker slot and waits for it or the deadline.
// A timed-out call keeps its slot until the engine returns.
func (d *Differ) run(ctx context.Context, fn func(w io.Writer) error) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() { <-d.slots }()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("diff engine panic: %v", r)}
			}
		}()
		var buf bytes.Buffer
		err := fn(&buf)
		done <- result{out: buf.Bytes(), err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
