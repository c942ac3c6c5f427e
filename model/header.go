package model

import (
	"sort"
	"strings"
)

// FilterAndSortHeaders keeps only the headers whose name case-insensitively
// matches an entry in whitelist, retaining the request's original-case key
// bytes for the hash input.
func FilterAndSortHeaders(whitelist []string, headers []KV) []KV {
	if len(headers) == 0 || len(whitelist) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		allowed[strings.ToLower(w)] = struct{}{}
	}

	filtered := make([]KV, 0, len(headers))
	for _, h := range headers {
		if _, ok := allowed[strings.ToLower(string(h.Key))]; ok {
			filtered = append(filtered, h)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return lessBytes(filtered[i].Key, filtered[j].Key)
	})
	return filtered
}

// HopByHopHeaders must be stripped from both outgoing upstream requests and
// cached response headers.
var HopByHopHeaders = []string{
	"connection",
	"proxy-connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailer",
	"transfer-encoding",
	"upgrade",
}

// IsHopByHop reports whether name (any case) is a hop-by-hop header.
func IsHopByHop(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range HopByHopHeaders {
		if h == lower {
			return true
		}
	}
	return false
}

// StripHopByHop removes hop-by-hop headers from a KV slice in place,
// returning the filtered slice.
func StripHopByHop(headers []KV) []KV {
	out := headers[:0]
	for _, h := range headers {
		if !IsHopByHop(string(h.Key)) {
			out = append(out, h)
		}
	}
	return out
}
