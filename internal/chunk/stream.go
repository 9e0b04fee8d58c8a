package chunk

import (
	"context"
	"errors"
	"io"
	"time"

	"webpushrelay/internal/framing"
)

var (
	ErrInvalidBody        = errors.New("invalid request body")
	ErrBodyTimeout        = errors.New("request body timeout")
	ErrPayloadExceedsLimit = errors.New("payload exceeds limit")
)

// Options configures one streaming chunk run.
type Options struct {
	// MaxBodyBytes bounds the raw request body (meta is accounted for
	// separately): max_payload_bytes - meta_bytes from spec §4.1.
	MaxBodyBytes int64
	// ChunkDataBytes is the operator-configured preferred chunk size; the
	// resolved size is capped by the envelope ceiling regardless.
	ChunkDataBytes int64
	// ChunkDelayMS spaces consecutive chunks' SendAfter timestamps.
	ChunkDelayMS int64
}

// Chunk pairs an emitted envelope with the wall-clock time it should be
// dispatched no earlier than.
type Chunk struct {
	Envelope  Envelope
	SendAfter time.Time
}

// Stream frames meta+body per spec §4.1 (WHP1 || meta_len || meta || body),
// resolves a single chunk size, and emits one Chunk per call to emit, in
// increasing chunk_index order, until the body is exhausted. emit is called
// synchronously and in order; a non-nil return from emit aborts the stream.
func Stream(ctx context.Context, requestID string, meta []byte, body io.Reader, opts Options, emit func(Chunk) error) error {
	header := framing.Header(meta)
	maxTotal := int64(len(header)) + int64(len(meta)) + opts.MaxBodyBytes
	chunkSize, err := ResolveChunkSize(requestID, maxTotal, opts.ChunkDataBytes)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, chunkSize*2)
	buf = append(buf, header...)
	buf = append(buf, meta...)

	var (
		index      int64
		bodyRead   int64
		nextSendAt = time.Now().UTC()
		delay      = time.Duration(opts.ChunkDelayMS) * time.Millisecond
		readBuf    = make([]byte, 32*1024)
		eof        bool
	)

	drain := func(last bool) error {
		for int64(len(buf)) >= chunkSize && !last {
			chunkBytes := buf[:chunkSize]
			buf = append([]byte(nil), buf[chunkSize:]...)
			index++
			env := Envelope{
				RequestID:  requestID,
				ChunkIndex: index,
				IsLast:     false,
				Data:       encodeData(chunkBytes),
			}
			if err := emit(Chunk{Envelope: env, SendAfter: nextSendAt}); err != nil {
				return err
			}
			nextSendAt = nextSendAt.Add(delay)
		}
		return nil
	}

	// Drain whatever the seeded header+meta buffer already holds before
	// touching the body stream: an oversized prefix must be chunked even
	// when the body is empty (the first Read below can return (0, io.EOF)
	// without ever reaching the drain inside the n > 0 branch).
	if err := drain(false); err != nil {
		return err
	}

	for !eof {
		if err := ctx.Err(); err != nil {
			return ErrBodyTimeout
		}
		n, rerr := readWithContext(ctx, body, readBuf)
		if n > 0 {
			bodyRead += int64(n)
			if bodyRead > opts.MaxBodyBytes {
				return ErrPayloadExceedsLimit
			}
			buf = append(buf, readBuf[:n]...)
		}
		if err := drain(false); err != nil {
			return err
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				eof = true
				break
			}
			if errors.Is(rerr, context.DeadlineExceeded) {
				return ErrBodyTimeout
			}
			return ErrInvalidBody
		}
	}

	index++
	final := Envelope{
		RequestID:   requestID,
		ChunkIndex:  index,
		TotalChunks: index,
		IsLast:      true,
		Data:        encodeData(buf),
	}
	return emit(Chunk{Envelope: final, SendAfter: nextSendAt})
}

func readWithContext(ctx context.Context, r io.Reader, p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		return 0, context.DeadlineExceeded
	case res := <-ch:
		return res.n, res.err
	}
}
