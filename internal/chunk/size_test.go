package chunk

import "testing"

func TestResolveChunkSizeFitsEnvelopeCeiling(t *testing.T) {
	requestID := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	chunkSize, err := ResolveChunkSize(requestID, 10_000, 2400)
	if err != nil {
		t.Fatalf("resolve chunk size: %v", err)
	}
	if chunkSize <= 0 {
		t.Fatalf("expected positive chunk size, got %d", chunkSize)
	}

	worst := Envelope{
		RequestID:   requestID,
		ChunkIndex:  10_000,
		TotalChunks: 10_000,
		IsLast:      true,
		Data:        encodeData(make([]byte, chunkSize)),
	}
	b, err := worst.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) > MaxEnvelopeBytes {
		t.Fatalf("worst-case envelope is %d bytes, want <= %d", len(b), MaxEnvelopeBytes)
	}
}

func TestResolveChunkSizeHonorsConfiguredCap(t *testing.T) {
	// A tiny configured size should be used as-is (not expanded to the max).
	chunkSize, err := ResolveChunkSize("req-1", 1_000_000, 64)
	if err != nil {
		t.Fatalf("resolve chunk size: %v", err)
	}
	if chunkSize != 64 {
		t.Fatalf("expected configured 64-byte chunk size to be honored, got %d", chunkSize)
	}
}

func TestResolveChunkSizeZeroOrNegativeConfiguredFallsBackToMax(t *testing.T) {
	chunkSize, err := ResolveChunkSize("req-1", 100, 0)
	if err != nil {
		t.Fatalf("resolve chunk size: %v", err)
	}
	if chunkSize <= 0 {
		t.Fatalf("expected a positive fallback chunk size, got %d", chunkSize)
	}
}

func TestBase64LenMatchesStdlibExpansion(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 100, 2400} {
		got := Base64Len(n)
		want := (n + 2) / 3 * 4
		if got != want {
			t.Fatalf("Base64Len(%d) = %d, want %d", n, got, want)
		}
	}
}
