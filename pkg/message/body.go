package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrBodyAbandoned is returned by Send once the reader has given up on the body.
	ErrBodyAbandoned = errors.New("message body abandoned by reader")
	// ErrBodyTruncated is returned by Next once the buffered chunks of a body that was
	// closed early have been read.
	ErrBodyTruncated = errors.New("message body truncated")
	// ErrInvalidChunkSize is returned by CopyFrom for a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Body is a consumable, possibly unbounded stream of chunks with a single writer and a
// single reader.
//
// The writer calls Send for every chunk and Close once done, or CloseWithError when it
// stops early; Send must not be called after either. The reader consumes with Next, Chunks
// or ReadAll, and calls Abandon if it stops reading early so that a blocked writer is
// released.
type Body struct {
	ch          chan Chunk
	abandoned   chan struct{}
	done        chan struct{}
	err         error
	closeOnce   sync.Once
	abandonOnce sync.Once
}

// NewBody creates an open body buffering up to capacity chunks.
func NewBody(capacity int) *Body {
	if capacity < 0 {
		capacity = 0
	}
	return &Body{
		ch:        make(chan Chunk, capacity),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// BodyFrom creates an already closed body holding chunks.
func BodyFrom(chunks ...Chunk) *Body {
	b := NewBody(len(chunks))
	for _, c := range chunks {
		b.ch <- c
	}
	b.Close()
	return b
}

// Send hands c to the reader, waiting while the buffer is full.
func (b *Body) Send(ctx context.Context, c Chunk) error {
	select {
	case <-b.abandoned:
		return ErrBodyAbandoned
	default:
	}

	select {
	case b.ch <- c:
		return nil
	case <-b.abandoned:
		return ErrBodyAbandoned
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the body. It is safe to call more than once.
func (b *Body) Close() {
	b.CloseWithError(nil)
}

// CloseWithError ends the body early. Once the buffered chunks are read, Next returns err,
// wrapped so that it also matches ErrBodyTruncated. A nil err behaves like Close. Only
// the first Close or CloseWithError takes effect.
func (b *Body) CloseWithError(err error) {
	b.closeOnce.Do(func() {
		if err != nil && !errors.Is(err, ErrBodyTruncated) {
			err = fmt.Errorf("%w: %w", ErrBodyTruncated, err)
		}
		b.err = err
		close(b.done)
		close(b.ch)
	})
}

// Err returns the error the body was closed with, or nil. It is only meaningful after the
// channel returned by Chunks has been closed.
func (b *Body) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// CopyFrom reads r in chunks of at most chunkSize bytes and sends them, then closes the
// body. It returns the number of bytes read from r. When an error is returned the body
// is closed with that error, so the reader sees ErrBodyTruncated instead of a clean end.
func (b *Body) CopyFrom(ctx context.Context, r io.Reader, chunkSize int) (total int64, err error) {
	defer func() {
		b.CloseWithError(err)
	}()

	if chunkSize <= 0 {
		return 0, ErrInvalidChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if sendErr := b.Send(ctx, NewChunk(buf[:n])); sendErr != nil {
				return total, sendErr
			}
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// Next returns the next chunk, or io.EOF once the writer closed the body and every chunk
// has been read. A body ended by CloseWithError returns its error instead of io.EOF.
func (b *Body) Next(ctx context.Context) (Chunk, error) {
	select {
	case c, ok := <-b.ch:
		if !ok {
			if b.err != nil {
				return Chunk{}, b.err
			}
			return Chunk{}, io.EOF
		}
		return c, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Chunks exposes the body as a channel that is closed at the end of the body. Check Err
// after the channel is closed to tell a truncated body from a complete one.
func (b *Body) Chunks() <-chan Chunk {
	return b.ch
}

// ReadAll drains the body and returns the concatenated bytes.
func (b *Body) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for {
		c, err := b.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(c.Bytes())
	}
}

// Abandon tells the writer that nobody will read further chunks. Pending and future Send
// calls fail with ErrBodyAbandoned.
func (b *Body) Abandon() {
	b.abandonOnce.Do(func() {
		close(b.abandoned)
	})
}

// Abandoned is closed once the reader called Abandon.
func (b *Body) Abandoned() <-chan struct{} {
	return b.abandoned
}
