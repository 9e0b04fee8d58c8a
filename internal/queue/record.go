// Package queue implements the durable, byte-bounded dispatch queue: a
// SQLite-backed FIFO with per-record send_after timestamps and attempt
// counters, drained by a bounded pool of workers.
package queue

import (
	"encoding/binary"
	"fmt"
)

// MaxAttempts bounds how many delivery attempts a record gets: the failure
// that would bring its attempts counter to MaxAttempts drops it instead of
// requeuing it.
const MaxAttempts = 5

// Record is one envelope payload queued for delivery to a subscription.
type Record struct {
	UUID        string
	SendAfterMS int64
	Attempts    uint32
	Payload     []byte
}

// Encode serializes a Record using the fixed-prefix layout from spec §4.2:
// uuid_len (1 byte) || uuid || send_after_ms (8, BE, signed) ||
// attempts (4, BE) || payload_len (4, BE) || payload.
func (r Record) Encode() ([]byte, error) {
	if len(r.UUID) > 255 {
		return nil, fmt.Errorf("queue: uuid too long")
	}
	out := make([]byte, 0, 1+len(r.UUID)+8+4+4+len(r.Payload))
	out = append(out, byte(len(r.UUID)))
	out = append(out, r.UUID...)

	var sendAfter [8]byte
	binary.BigEndian.PutUint64(sendAfter[:], uint64(r.SendAfterMS))
	out = append(out, sendAfter[:]...)

	var attempts [4]byte
	binary.BigEndian.PutUint32(attempts[:], r.Attempts)
	out = append(out, attempts[:]...)

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(r.Payload)))
	out = append(out, payloadLen[:]...)
	out = append(out, r.Payload...)
	return out, nil
}

// DecodeRecord parses the layout written by Encode.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < 1 {
		return Record{}, fmt.Errorf("queue: record too short")
	}
	uuidLen := int(b[0])
	off := 1
	if len(b) < off+uuidLen+8+4+4 {
		return Record{}, fmt.Errorf("queue: record truncated")
	}
	uuid := string(b[off : off+uuidLen])
	off += uuidLen

	sendAfter := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	attempts := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	payloadLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	if uint64(len(b)-off) != uint64(payloadLen) {
		return Record{}, fmt.Errorf("queue: payload length mismatch")
	}
	payload := append([]byte(nil), b[off:]...)

	return Record{
		UUID:        uuid,
		SendAfterMS: sendAfter,
		Attempts:    attempts,
		Payload:     payload,
	}, nil
}
