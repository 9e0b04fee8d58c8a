package framing

import (
	"bytes"
	"net/http"
	"net/url"
	"testing"
)

func TestHeaderAndSplitFrameRoundTrip(t *testing.T) {
	meta := []byte(`{"method":"GET","path":"/x"}`)
	body := []byte("hello world")

	frame := append(Header(meta), meta...)
	frame = append(frame, body...)

	gotMeta, gotBody, err := SplitFrame(frame)
	if err != nil {
		t.Fatalf("split frame: %v", err)
	}
	if !bytes.Equal(gotMeta, meta) {
		t.Fatalf("meta mismatch: got %q want %q", gotMeta, meta)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch: got %q want %q", gotBody, body)
	}
}

func TestSplitFrameRejectsBadMagic(t *testing.T) {
	_, _, err := SplitFrame([]byte("XXXX\x00\x00\x00\x00"))
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestSplitFrameRejectsTruncatedFrame(t *testing.T) {
	meta := []byte(`{"a":1}`)
	frame := Header(meta) // header claims len(meta) bytes follow, but none do
	_, _, err := SplitFrame(frame)
	if err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestBuildHookMetaSubstitutesBinaryHeaderValues(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com/hook?x=1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Binary", string([]byte{0xff, 0xfe, 0x00}))
	req.Header.Set("X-Text", "plain-value")

	meta := BuildHookMeta(req, "203.0.113.5")
	if meta.Headers["X-Binary"] != "<binary>" {
		t.Fatalf("expected binary header value to be substituted, got %q", meta.Headers["X-Binary"])
	}
	if meta.Headers["X-Text"] != "plain-value" {
		t.Fatalf("expected text header to pass through, got %q", meta.Headers["X-Text"])
	}
	if meta.Method != http.MethodPost || meta.SourceIP != "203.0.113.5" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.QueryString != (url.Values{"x": {"1"}}).Encode() {
		t.Fatalf("unexpected query string: %q", meta.QueryString)
	}
}
