package openrouter

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// sseDataPrefix marks an SSE payload line.
const sseDataPrefix = "data: "

// doneSentinel is the OpenAI-compatible end-of-stream marker some
// upstreams emit in place of an empty data payload.
const doneSentinel = "[DONE]"

// Stream is a lazy, single-pass sequence of chunks from one streaming
// exchange. It holds the underlying HTTP body until Close, so early
// abandonment must Close to release the connection.
//
// Recv and Close may be called from different goroutines, but Recv
// itself is not safe for concurrent callers.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	strict  bool

	closeOnce sync.Once
	done      bool
	err       error
}

// newStream wraps a streaming response body.
func newStream(body io.ReadCloser, strict bool) *Stream {
	scanner := bufio.NewScanner(body)
	// Chunks with large content parts can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: scanner, strict: strict}
}

// Recv returns the next chunk. It returns io.EOF once the stream ends
// cleanly (end-of-stream sentinel or body exhausted). Any other error
// terminates the sequence: subsequent calls return the same error.
func (s *Stream) Recv(ctx context.Context) (*StreamChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.err = classifyTransportError(err)
				s.Close()
				return nil, s.err
			}
			s.finish()
			return nil, io.EOF
		}

		line := s.scanner.Text()

		// Blank lines are event separators, ":"-prefixed lines are
		// keep-alive comments.
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		payload := strings.TrimPrefix(line, sseDataPrefix)
		if payload == "" || payload == doneSentinel {
			s.finish()
			return nil, io.EOF
		}

		var chunk StreamChunk
		if err := decodeJSON([]byte(payload), &chunk, s.strict); err != nil {
			s.err = &DecodeError{RawResponse: payload, Cause: err}
			s.Close()
			return nil, s.err
		}
		return &chunk, nil
	}
}

// finish marks the stream cleanly ended and releases the body.
func (s *Stream) finish() {
	s.done = true
	s.Close()
}

// Close releases the underlying connection. It is idempotent and safe
// to call while a Recv is pending; the pending read fails and Recv
// surfaces the teardown.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
