// Package model holds the data shapes the cache core operates on: rules,
// entries, fingerprints, and the binary payload format cached responses are
// stored in.
package model

import "fmt"

// Section identifies which part of an encoded payload failed to decode.
type Section int

const (
	SectionQueries Section = iota
	SectionRequestHeaders
	SectionStatus
	SectionResponseHeaders
	SectionBody
)

func (s Section) String() string {
	switch s {
	case SectionQueries:
		return "queries"
	case SectionRequestHeaders:
		return "request-headers"
	case SectionStatus:
		return "status"
	case SectionResponseHeaders:
		return "response-headers"
	case SectionBody:
		return "body"
	default:
		return "unknown"
	}
}

// CacheRuleNotFoundError is returned when no rule matches a request path.
// The handler falls back to proxy mode (no caching) on this error.
type CacheRuleNotFoundError struct{ Path string }

func (e *CacheRuleNotFoundError) Error() string {
	return fmt.Sprintf("model: no cache rule matches path %q", e.Path)
}

// IsCacheRuleNotFound reports whether err is a CacheRuleNotFoundError.
func IsCacheRuleNotFound(err error) bool {
	_, ok := err.(*CacheRuleNotFoundError)
	return ok
}

// PayloadError reports a malformed or truncated binary payload.
// Out-of-range or truncated sections surface here (nil, empty or too-short
// payloads return ErrMalformedPayload instead); callers treat any
// PayloadError as a cache miss.
type PayloadError struct {
	Section Section
	Reason  string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("model: corrupted %s section: %s", e.Section, e.Reason)
}

// ErrMalformedPayload is returned when the payload is nil, empty, or shorter
// than the fixed 20-byte offset table.
var ErrMalformedPayload = fmt.Errorf("model: malformed or nil payload")

// UpstreamError wraps a failure returned by the upstream client.
type UpstreamError struct{ Err error }

func (e *UpstreamError) Error() string { return fmt.Sprintf("model: upstream error: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// NeedRetryThroughProxyError is an internal control signal: the cache path
// cannot serve this request (missing rule, malformed payload) and the
// handler should retry through the plain proxy path. It is never surfaced
// to a client.
type NeedRetryThroughProxyError struct{ Reason error }

func (e *NeedRetryThroughProxyError) Error() string {
	return fmt.Sprintf("model: retry through proxy: %v", e.Reason)
}
func (e *NeedRetryThroughProxyError) Unwrap() error { return e.Reason }
