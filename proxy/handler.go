// Package proxy implements the request-handler glue that sits above the
// cache engine: rule match, filter+sort query/headers per rule, build an
// Entry skeleton, engine.Get, on miss fetch from upstream and engine.Set,
// then render.
package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/edgecache/engine"
	"github.com/IvanBrykalov/edgecache/model"
)

// Metrics is the subset of metrics/prom.Adapter the handler touches. Kept
// as a narrow interface so tests can stub it and so the handler does not
// import the metrics package directly.
type Metrics interface {
	Hit()
	Miss()
	MalformedPayload()
}

// Handler serves cacheable GET requests: a hit is replayed from the
// engine, a miss is fetched from upstream, stored, and replayed the same
// way. Paths with no matching rule fall through to a plain (uncached)
// proxy fetch.
type Handler struct {
	Rules    *model.RuleSet
	Engine   *engine.Engine
	Upstream Upstream
	Log      *zap.Logger
	Metrics  Metrics

	// bypass routes every request straight to upstream, uncached
	// (the cache-bypass admin hook).
	bypass atomic.Bool

	now func() int64
}

// NewHandler builds a Handler. metrics may be nil.
func NewHandler(rules *model.RuleSet, eng *engine.Engine, upstream Upstream, metrics Metrics, log *zap.Logger) *Handler {
	return &Handler{
		Rules:    rules,
		Engine:   eng,
		Upstream: upstream,
		Log:      log,
		Metrics:  metrics,
		now:      func() int64 { return time.Now().UnixNano() },
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.bypass.Load() {
		h.serveProxy(w, r)
		return
	}

	rule, err := h.Rules.Match(r.URL.Path)
	if err != nil {
		// No cache rule for this path: NeedRetryThroughProxy, fall back to
		// a plain, uncached proxy fetch instead of caching anything.
		h.serveProxy(w, r)
		return
	}

	queries := model.FilterAndSortQuery(rule.QueryWhitelist, model.ParseQuery(r.URL.RawQuery))
	reqHeaders := model.FilterAndSortHeaders(rule.HeaderWhitelist, headerKVs(r.Header))

	key, fp := model.BuildKeyHash(rule, queries, reqHeaders)

	if entry, hit := h.Engine.Get(key, fp); hit {
		resp, err := h.Engine.DecodeResponse(entry)
		if err == nil {
			h.metric(func(m Metrics) { m.Hit() })
			resp.ResponseHeaders = model.FilterAndSortHeaders(rule.ResponseHeaderWhitelist, resp.ResponseHeaders)
			writeResponse(w, resp, entry.UpdatedAt())
			return
		}
		h.metric(func(m Metrics) { m.MalformedPayload() })
		// Fall through and treat as a miss: re-fetch and overwrite the
		// corrupted entry.
	} else {
		h.metric(func(m Metrics) { m.Miss() })
	}

	outHeaders := model.StripHopByHop(headerKVs(r.Header))
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	// The whitelist governs the cache key, but Host is always forwarded
	// regardless of whether the rule whitelists it.
	fetchHeaders := setHeader(model.FilterAndSortHeaders(rule.HeaderWhitelist, outHeaders), "Host", host)

	ctx := r.Context()
	status, respHeaders, body, err := h.Upstream.Fetch(ctx, rule, queries, fetchHeaders)
	if err != nil {
		h.Log.Error("upstream fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeUpstreamError(w, err)
		return
	}
	respHeaders = model.StripHopByHop(respHeaders)

	now := h.now()
	if status >= 200 && status < 300 {
		payload := model.EncodePayload(queries, reqHeaders, uint32(status), respHeaders, body)
		entry := model.NewEntry(key, fp, rule, payload, now)
		h.Engine.Set(entry)
	}

	resp := &model.ResponsePayload{
		Status:          uint32(status),
		ResponseHeaders: model.FilterAndSortHeaders(rule.ResponseHeaderWhitelist, respHeaders),
		Body:            body,
	}
	writeResponse(w, resp, now)
}

// SetBypass flips the cache-bypass admin hook: when on, every request is
// forwarded straight to upstream and nothing is read from or written to
// the cache.
func (h *Handler) SetBypass(on bool) { h.bypass.Store(on) }

// Bypassed reports the current bypass state.
func (h *Handler) Bypassed() bool { return h.bypass.Load() }

// Invalidate marks the cached entry for (path, rawQuery, header) as stale
// without removing it: the next GET of the same identity stale-serves the
// old payload and schedules a background refresh. Returns false when no
// rule matches the path or nothing is cached under that key.
func (h *Handler) Invalidate(path, rawQuery string, header http.Header) bool {
	rule, err := h.Rules.Match(path)
	if err != nil {
		return false
	}
	queries := model.FilterAndSortQuery(rule.QueryWhitelist, model.ParseQuery(rawQuery))
	reqHeaders := model.FilterAndSortHeaders(rule.HeaderWhitelist, headerKVs(header))
	key, fp := model.BuildKeyHash(rule, queries, reqHeaders)
	return h.Engine.Invalidate(key, fp)
}

// serveProxy handles a path with no matching cache rule: it forwards the
// request to upstream uncached (no rule means no whitelist to build a
// cache key from, and nothing is stored on the way back).
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request) {
	queries := model.ParseQuery(r.URL.RawQuery)

	outHeaders := model.StripHopByHop(headerKVs(r.Header))
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	fetchHeaders := setHeader(outHeaders, "Host", host)

	passthrough := &model.Rule{Path: r.URL.Path, PathBytes: []byte(r.URL.Path)}

	status, respHeaders, body, err := h.Upstream.Fetch(r.Context(), passthrough, queries, fetchHeaders)
	if err != nil {
		h.Log.Error("upstream fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeUpstreamError(w, err)
		return
	}
	respHeaders = model.StripHopByHop(respHeaders)

	resp := &model.ResponsePayload{
		Status:          uint32(status),
		ResponseHeaders: respHeaders,
		Body:            body,
	}
	writeResponse(w, resp, h.now())
}

// writeUpstreamError renders an upstream failure as 503 with an
// X-Error-Reason header, on both the cache-mode miss path and proxy mode.
func writeUpstreamError(w http.ResponseWriter, err error) {
	w.Header().Set("X-Error-Reason", err.Error())
	http.Error(w, "upstream error", http.StatusServiceUnavailable)
}

// writeResponse renders a cache-hit or freshly-fetched response: replay
// response headers (already rule-filtered for a hit; caller filters for a
// fresh fetch via rule.ResponseHeaderWhitelist upstream of this call), set
// Content-Length from the body, and add Last-Updated-At from updatedAt.
func writeResponse(w http.ResponseWriter, resp *model.ResponsePayload, updatedAt int64) {
	hdr := w.Header()
	for _, kv := range resp.ResponseHeaders {
		hdr.Add(string(kv.Key), string(kv.Value))
	}
	hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	hdr.Set("Last-Updated-At", time.Unix(0, updatedAt).UTC().Format(time.RFC3339))

	status := int(resp.Status)
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

func (h *Handler) metric(fn func(Metrics)) {
	if h.Metrics != nil {
		fn(h.Metrics)
	}
}

// headerKVs flattens an http.Header into KV pairs, one per value,
// preserving the request's original-case keys.
func headerKVs(h http.Header) []model.KV {
	out := make([]model.KV, 0, len(h))
	for k, values := range h {
		for _, v := range values {
			out = append(out, model.KV{Key: []byte(k), Value: []byte(v)})
		}
	}
	return out
}

// setHeader replaces (or appends) the value for name, matched
// case-insensitively, used for the X-Forwarded-Host -> Host override.
func setHeader(headers []model.KV, name, value string) []model.KV {
	for i, kv := range headers {
		if strings.EqualFold(string(kv.Key), name) {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, model.KV{Key: []byte(name), Value: []byte(value)})
}
