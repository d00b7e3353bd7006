// File: internal/valog/buffer_test.go
package valog

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestBufferAppendAndFlush(t *testing.T) {
	var out bytes.Buffer
	b := NewWithWriter(zaptest.NewLogger(t), &out, 100)

	b.Append("combo %d verdict=%s", 1, "PASSED")
	b.Append("combo %d verdict=%s", 2, "FAILED")
	assert.Equal(t, 2, b.Len())
	assert.Empty(t, out.String(), "nothing written before flush")

	require.NoError(t, b.Flush())
	assert.Zero(t, b.Len())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "combo 1 verdict=PASSED")
	assert.Contains(t, lines[1], "combo 2 verdict=FAILED")
	// Entries carry a timestamp prefix.
	_, err := time.Parse(time.RFC3339, strings.SplitN(lines[0], " ", 2)[0])
	assert.NoError(t, err)
}

func TestBufferFlushEmptyIsNoop(t *testing.T) {
	var out bytes.Buffer
	b := NewWithWriter(zaptest.NewLogger(t), &out, 10)
	require.NoError(t, b.Flush())
	require.NoError(t, b.Flush())
	assert.Empty(t, out.String())
}

func TestBufferThresholdTriggersSynchronousFlush(t *testing.T) {
	var out bytes.Buffer
	b := NewWithWriter(zaptest.NewLogger(t), &out, 3)

	b.Append("one")
	b.Append("two")
	assert.Empty(t, out.String())

	b.Append("three")
	assert.Zero(t, b.Len())
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}

func TestBufferRunFlushesPeriodicallyAndOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out safeBuffer
	b := NewWithWriter(zaptest.NewLogger(t), &out, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 10*time.Millisecond) }()

	b.Append("periodic entry")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "periodic entry")
	}, time.Second, 5*time.Millisecond)

	b.Append("final entry")
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "final entry")
}

func TestBufferCloseFlushesOnce(t *testing.T) {
	out := &closableWriter{}
	b := NewWithWriter(zaptest.NewLogger(t), out, 100)
	b.closer = out

	b.Append("last words")
	require.NoError(t, b.Close())
	assert.Contains(t, out.buf.String(), "last words")
	assert.Equal(t, 1, out.closes)

	// Close is idempotent and appends after close are dropped at flush.
	require.NoError(t, b.Close())
	assert.Equal(t, 1, out.closes)
}

func TestBufferWriteFailureKeepsEntries(t *testing.T) {
	b := NewWithWriter(zaptest.NewLogger(t), &failingWriter{}, 100)
	b.Append("doomed")
	err := b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation log write failed")
	assert.Equal(t, 1, b.Len(), "failed entries stay buffered for the next flush")
}

// -- test writers --

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type closableWriter struct {
	buf    bytes.Buffer
	closes int
}

func (c *closableWriter) Write(p []byte) (int, error) { return c.buf.Write(p) }
func (c *closableWriter) Close() error {
	c.closes++
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
