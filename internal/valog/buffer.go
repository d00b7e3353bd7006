// File: internal/valog/buffer.go
// Package valog implements the buffered validation log: an append-only
// in-process buffer flushed to a rotated file either periodically, when the
// buffer exceeds its size threshold, or on demand.
package valog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Buffer accumulates validation entries and writes them out in batches.
// Flush is idempotent and safe to call with an empty buffer.
type Buffer struct {
	logger    *zap.Logger
	threshold int

	mu      sync.Mutex
	entries []string
	w       io.Writer
	closer  io.Closer
	closed  bool

	now func() time.Time
}

// New creates a buffer flushing to path via lumberjack rotation.
func New(logger *zap.Logger, path string, threshold int) *Buffer {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 3,
		Compress:   true,
	}
	return &Buffer{
		logger:    logger.Named("valog"),
		threshold: threshold,
		w:         lj,
		closer:    lj,
		now:       time.Now,
	}
}

// NewWithWriter creates a buffer over an arbitrary writer; used by tests.
func NewWithWriter(logger *zap.Logger, w io.Writer, threshold int) *Buffer {
	return &Buffer{
		logger:    logger.Named("valog"),
		threshold: threshold,
		w:         w,
		now:       time.Now,
	}
}

// Append records one entry. The buffer is flushed synchronously once it
// reaches the threshold.
func (b *Buffer) Append(format string, args ...any) {
	b.mu.Lock()
	entry := fmt.Sprintf("%s %s", b.now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	b.entries = append(b.entries, entry)
	over := len(b.entries) >= b.threshold
	b.mu.Unlock()

	if over {
		if err := b.Flush(); err != nil {
			b.logger.Warn("Threshold flush failed", zap.Error(err))
		}
	}
}

// Len returns the number of buffered, unflushed entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush writes all buffered entries to the underlying writer.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 || b.closed {
		return nil
	}
	for _, entry := range b.entries {
		if _, err := io.WriteString(b.w, entry+"\n"); err != nil {
			return fmt.Errorf("validation log write failed: %w", err)
		}
	}
	b.entries = b.entries[:0]
	return nil
}

// Run flushes on the given interval until the context is cancelled, then
// performs a final flush. Intended to be owned by the run context (e.g. via
// errgroup) so no timer leaks across runs.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return b.Flush()
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.logger.Warn("Periodic flush failed", zap.Error(err))
			}
		}
	}
}

// Close flushes remaining entries and closes the underlying file.
func (b *Buffer) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}
