package model

import (
	"bytes"
	"testing"
)

func TestPayload_RoundTrip(t *testing.T) {
	t.Parallel()

	queries := []KV{{Key: []byte("id"), Value: []byte("42")}}
	reqHeaders := []KV{{Key: []byte("Accept-Encoding"), Value: []byte("identity")}}
	respHeaders := []KV{{Key: []byte("Content-Type"), Value: []byte("application/json")}}
	body := []byte(`{"ok":true}`)

	p := EncodePayload(queries, reqHeaders, 200, respHeaders, body)

	req, resp, err := Decode(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(req.Queries) != 1 || string(req.Queries[0].Value) != "42" {
		t.Fatalf("queries mismatch: %+v", req.Queries)
	}
	if len(req.RequestHeaders) != 1 || string(req.RequestHeaders[0].Key) != "Accept-Encoding" {
		t.Fatalf("request headers mismatch: %+v", req.RequestHeaders)
	}
	if resp.Status != 200 {
		t.Fatalf("status mismatch: %d", resp.Status)
	}
	if len(resp.ResponseHeaders) != 1 || string(resp.ResponseHeaders[0].Value) != "application/json" {
		t.Fatalf("response headers mismatch: %+v", resp.ResponseHeaders)
	}
	if !bytes.Equal(resp.Body, body) {
		t.Fatalf("body mismatch: %q", resp.Body)
	}
}

func TestPayload_EmptySectionsRoundTrip(t *testing.T) {
	t.Parallel()

	p := EncodePayload(nil, nil, 204, nil, nil)
	req, resp, err := Decode(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(req.Queries) != 0 || len(req.RequestHeaders) != 0 {
		t.Fatal("expected empty request sections")
	}
	if resp.Status != 204 || len(resp.Body) != 0 {
		t.Fatal("expected empty response body and status 204")
	}
}

func TestDecode_NilOrTooShortIsMalformed(t *testing.T) {
	t.Parallel()

	if _, _, err := Decode(nil); err != ErrMalformedPayload {
		t.Fatalf("want ErrMalformedPayload for nil, got %v", err)
	}
	if _, _, err := Decode(Payload{1, 2, 3}); err != ErrMalformedPayload {
		t.Fatalf("want ErrMalformedPayload for short buffer, got %v", err)
	}
}

func TestDecode_TruncatedSectionIsCorrupted(t *testing.T) {
	t.Parallel()

	p := EncodePayload([]KV{{Key: []byte("a"), Value: []byte("b")}}, nil, 200, nil, []byte("x"))
	truncated := p[:len(p)-2]

	_, _, err := Decode(truncated)
	if err == nil {
		t.Fatal("expected an error decoding a truncated payload")
	}
	var pe *PayloadError
	if !asPayloadError(err, &pe) {
		t.Fatalf("expected *PayloadError, got %T: %v", err, err)
	}
}

func asPayloadError(err error, target **PayloadError) bool {
	pe, ok := err.(*PayloadError)
	if ok {
		*target = pe
	}
	return ok
}
