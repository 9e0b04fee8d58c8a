package chunk

import (
	"encoding/base64"
	"errors"
)

// ErrOverheadExceedsLimit is returned when even an empty-data envelope at
// the pessimistic worst-case index/total would not fit under
// MaxEnvelopeBytes.
var ErrOverheadExceedsLimit = errors.New("chunk overhead exceeds push limit")

// ResolveChunkSize implements the fixed-point sizing described in spec
// §4.1: it picks one chunk_size, usable for every chunk of the request,
// such that the worst-case envelope (maximum index/total digit width)
// still serializes within MaxEnvelopeBytes.
//
// requestID is a sample request id of the same length every request will
// use (a UUID string), so its contribution to overhead is exact.
// maxTotalBytes is a safe over-estimate of the largest possible chunk
// count (conservatively, the maximum body size in bytes, since no chunk
// carries fewer than 1 byte).
func ResolveChunkSize(requestID string, maxTotalBytes int64, configuredChunkDataBytes int64) (int64, error) {
	worst := Envelope{
		RequestID:   requestID,
		ChunkIndex:  maxTotalBytes,
		TotalChunks: maxTotalBytes,
		IsLast:      true,
		Data:        "",
	}
	b, err := worst.Marshal()
	if err != nil {
		return 0, err
	}
	overhead := int64(len(b))
	if overhead >= MaxEnvelopeBytes {
		return 0, ErrOverheadExceedsLimit
	}
	available := MaxEnvelopeBytes - overhead

	// Largest r >= 0 such that 4*ceil(r/3) <= available (base64 expansion).
	k := available / 4
	r := 3 * k
	if r <= 0 {
		return 0, ErrOverheadExceedsLimit
	}

	chunkSize := configuredChunkDataBytes
	if chunkSize <= 0 || chunkSize > r {
		chunkSize = r
	}
	if chunkSize <= 0 {
		return 0, ErrOverheadExceedsLimit
	}
	return chunkSize, nil
}

// Base64Len returns the encoded length of n raw bytes under standard
// base64 (exported so tests can cross-check the fixed-point arithmetic
// above against the stdlib's own expansion formula).
func Base64Len(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}
