package service

import (
	"context"
	"io"
	"sync"

	"bournemouth-hq/relay/pkg/openrouter"
)

// ChunkStream is a single-pass chunk sequence handed across the pool
// boundary. It keeps its backing client referenced and the call in
// flight until it is exhausted or closed, so abandoning a stream early
// must Close it.
type ChunkStream struct {
	inner   *openrouter.Stream
	release func()

	once sync.Once
}

// Recv returns the next chunk. io.EOF reports clean end of stream; any
// other error has already been collapsed to the service taxonomy and
// terminates the sequence.
func (cs *ChunkStream) Recv(ctx context.Context) (*openrouter.StreamChunk, error) {
	chunk, err := cs.inner.Recv(ctx)
	if err == io.EOF {
		cs.finish()
		return nil, io.EOF
	}
	if err != nil {
		if ctx.Err() != nil {
			cs.finish()
			return nil, ctx.Err()
		}
		cs.finish()
		return nil, mapClientError(err)
	}
	return chunk, nil
}

// Close abandons the stream and releases the underlying connection,
// pool reference, and in-flight slot. It is idempotent.
func (cs *ChunkStream) Close() error {
	cs.finish()
	return nil
}

// finish releases the connection and the pool slot exactly once.
func (cs *ChunkStream) finish() {
	cs.once.Do(func() {
		cs.inner.Close()
		cs.release()
	})
}
