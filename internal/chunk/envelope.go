// Package chunk implements the streaming request→chunk→envelope pipeline:
// resolving a single chunk size that keeps every envelope under the Web
// Push size ceiling, then emitting envelopes as the framed body streams in.
package chunk

import (
	"encoding/base64"
	"encoding/json"
)

// MaxEnvelopeBytes is the absolute Web Push envelope ceiling (spec §3).
const MaxEnvelopeBytes = 3000

// Envelope is the JSON object sent as a single Web Push message body.
type Envelope struct {
	RequestID   string `json:"request_id"`
	ChunkIndex  int64  `json:"chunk_index"`
	TotalChunks int64  `json:"total_chunks,omitempty"`
	IsLast      bool   `json:"is_last"`
	Data        string `json:"data"`
}

// Marshal returns the canonical JSON encoding of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// encodeData renders raw chunk bytes as the envelope's base64 "data" field.
func encodeData(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeData reverses encodeData; exported for client-reassembly tests.
func DecodeData(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
