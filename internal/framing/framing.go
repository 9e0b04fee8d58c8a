// Package framing builds the HookMeta captured for each inbound request and
// the WHP1 wire frame (magic || meta length || meta || body) that the
// chunker slices into envelopes.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Magic is the 4-byte frame identifier. Future revisions of the framing
// should use a different magic so clients can reject what they don't
// understand.
const Magic = "WHP1"

// HookMeta captures everything about the inbound request except its body.
type HookMeta struct {
	Timestamp   string            `json:"timestamp"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryString string            `json:"query_string"`
	Headers     map[string]string `json:"headers"`
	SourceIP    string            `json:"source_ip"`
}

// BuildHookMeta captures HookMeta from an inbound *http.Request. Binary
// (non-UTF8) header values are replaced with the literal "<binary>" so the
// metadata always serializes as valid JSON text.
func BuildHookMeta(r *http.Request, sourceIP string) HookMeta {
	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		v := strings.Join(vs, ", ")
		if !utf8.ValidString(v) {
			v = "<binary>"
		}
		headers[k] = v
	}
	return HookMeta{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
		SourceIP:    sourceIP,
	}
}

// Marshal serializes meta to its canonical JSON bytes.
func (m HookMeta) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Header returns the 8-byte WHP1 frame header (magic + big-endian meta
// length) for the given serialized meta.
func Header(metaBytes []byte) []byte {
	h := make([]byte, 8)
	copy(h[0:4], Magic)
	binary.BigEndian.PutUint32(h[4:8], uint32(len(metaBytes)))
	return h
}

// SplitFrame splits a fully reassembled WHP1 frame back into its meta and
// body components. Used by tests to verify the round trip described in
// spec invariant 2.
func SplitFrame(frame []byte) (meta, body []byte, err error) {
	if len(frame) < 8 || string(frame[0:4]) != Magic {
		return nil, nil, fmt.Errorf("framing: bad magic")
	}
	metaLen := binary.BigEndian.Uint32(frame[4:8])
	if uint64(len(frame)) < uint64(8)+uint64(metaLen) {
		return nil, nil, fmt.Errorf("framing: truncated frame")
	}
	meta = frame[8 : 8+metaLen]
	body = frame[8+metaLen:]
	return meta, body, nil
}
