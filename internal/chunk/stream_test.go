package chunk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"webpushrelay/internal/framing"
)

func collect(t *testing.T, requestID string, meta, body []byte, opts Options) []Chunk {
	t.Helper()
	var chunks []Chunk
	err := Stream(context.Background(), requestID, meta, bytes.NewReader(body), opts, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return chunks
}

func reassemble(t *testing.T, chunks []Chunk) []byte {
	t.Helper()
	var out []byte
	for _, c := range chunks {
		b, err := DecodeData(c.Envelope.Data)
		if err != nil {
			t.Fatalf("decode data: %v", err)
		}
		out = append(out, b...)
	}
	return out
}

func TestStreamEmptyBodyProducesSingleLastEnvelope(t *testing.T) {
	meta := []byte(`{"method":"GET"}`)
	chunks := collect(t, "req-1", meta, nil, Options{MaxBodyBytes: 1024, ChunkDataBytes: 512})

	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 envelope for empty body, got %d", len(chunks))
	}
	env := chunks[0].Envelope
	if !env.IsLast || env.ChunkIndex != 1 || env.TotalChunks != 1 {
		t.Fatalf("unexpected envelope for empty body: %+v", env)
	}

	want := append(framing.Header(meta), meta...)
	got := reassemble(t, chunks)
	if !bytes.Equal(got, want) {
		t.Fatalf("reassembled frame mismatch: got %x want %x", got, want)
	}
}

func TestStreamRoundTripReconstructsFrame(t *testing.T) {
	meta := []byte(`{"method":"POST","path":"/abc"}`)
	body := bytes.Repeat([]byte{0x00}, 10_000)
	opts := Options{MaxBodyBytes: int64(len(body)), ChunkDataBytes: 2400, ChunkDelayMS: 10}

	chunks := collect(t, "req-2", meta, body, opts)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a 10000-byte body, got %d", len(chunks))
	}

	for i, c := range chunks {
		wantIndex := int64(i + 1)
		if c.Envelope.ChunkIndex != wantIndex {
			t.Fatalf("chunk %d has index %d, want %d", i, c.Envelope.ChunkIndex, wantIndex)
		}
		isLast := i == len(chunks)-1
		if c.Envelope.IsLast != isLast {
			t.Fatalf("chunk %d IsLast=%v, want %v", i, c.Envelope.IsLast, isLast)
		}
		b, err := c.Envelope.Marshal()
		if err != nil {
			t.Fatalf("marshal envelope %d: %v", i, err)
		}
		if len(b) > MaxEnvelopeBytes {
			t.Fatalf("envelope %d is %d bytes, exceeds %d", i, len(b), MaxEnvelopeBytes)
		}
	}

	last := chunks[len(chunks)-1].Envelope
	if last.TotalChunks != int64(len(chunks)) {
		t.Fatalf("final envelope total_chunks=%d, want %d", last.TotalChunks, len(chunks))
	}

	want := append(framing.Header(meta), meta...)
	want = append(want, body...)
	got := reassemble(t, chunks)
	if !bytes.Equal(got, want) {
		t.Fatalf("reassembled frame does not match original: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestStreamSendAfterAdvancesByChunkDelay(t *testing.T) {
	meta := []byte(`{}`)
	body := bytes.Repeat([]byte{0x01}, 5000)
	opts := Options{MaxBodyBytes: int64(len(body)), ChunkDataBytes: 1000, ChunkDelayMS: 50}

	chunks := collect(t, "req-3", meta, body, opts)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		diff := chunks[i].SendAfter.Sub(chunks[i-1].SendAfter)
		if diff < 50*time.Millisecond {
			t.Fatalf("chunk %d SendAfter did not advance by chunk_delay_ms: diff=%v", i, diff)
		}
	}
}

func TestStreamEmptyBodyWithOversizedMetaStillChunksTheHeader(t *testing.T) {
	// A meta blob bigger than the resolved chunk_size must still be split
	// across multiple envelopes even though the body itself is empty: the
	// seeded header+meta buffer has to drain before the stream ever looks
	// at the (empty) body.
	meta := bytes.Repeat([]byte{0x41}, 5000)
	opts := Options{MaxBodyBytes: 1024, ChunkDataBytes: 2400}

	chunks := collect(t, "req-5", meta, nil, opts)
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized meta to be split into multiple envelopes, got %d", len(chunks))
	}
	for i, c := range chunks {
		b, err := c.Envelope.Marshal()
		if err != nil {
			t.Fatalf("marshal envelope %d: %v", i, err)
		}
		if len(b) > MaxEnvelopeBytes {
			t.Fatalf("envelope %d is %d bytes, exceeds %d", i, len(b), MaxEnvelopeBytes)
		}
	}
	last := chunks[len(chunks)-1].Envelope
	if !last.IsLast || last.TotalChunks != int64(len(chunks)) {
		t.Fatalf("unexpected final envelope: %+v", last)
	}

	want := append(framing.Header(meta), meta...)
	got := reassemble(t, chunks)
	if !bytes.Equal(got, want) {
		t.Fatalf("reassembled frame mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestStreamPayloadExceedingLimitFails(t *testing.T) {
	meta := []byte(`{}`)
	body := bytes.Repeat([]byte{0x02}, 101)
	opts := Options{MaxBodyBytes: 100, ChunkDataBytes: 50}

	err := Stream(context.Background(), "req-4", meta, bytes.NewReader(body), opts, func(Chunk) error { return nil })
	if err != ErrPayloadExceedsLimit {
		t.Fatalf("expected ErrPayloadExceedsLimit, got %v", err)
	}
}
