// Package batch provides bounded batch writes for bulk persistence.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// FlushFunc persists one batch of items.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Writer buffers items and hands them to a flush callback in batches of at most size.
// All methods are safe for concurrent use.
type Writer[T any] struct {
	mu      sync.Mutex
	size    int
	flush   FlushFunc[T]
	buf     []T
	written int
}

// NewWriter creates a writer that flushes every size items.
func NewWriter[T any](size int, flush FlushFunc[T]) *Writer[T] {
	if size <= 0 {
		size = 1
	}
	return &Writer[T]{
		size:  size,
		flush: flush,
		buf:   make([]T, 0, size),
	}
}

// Add buffers items, flushing each time the buffer fills.
func (w *Writer[T]) Add(ctx context.Context, items ...T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, item := range items {
		w.buf = append(w.buf, item)
		if len(w.buf) >= w.size {
			if err := w.flushLocked(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes any buffered items.
func (w *Writer[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Written returns how many items have been flushed successfully.
func (w *Writer[T]) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Caller must hold w.mu.
func (w *Writer[T]) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.flush(ctx, w.buf); err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(w.buf), err)
	}
	w.written += len(w.buf)
	w.buf = make([]T, 0, w.size)
	return nil
}

// Partition splits items into consecutive chunks of at most size.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
