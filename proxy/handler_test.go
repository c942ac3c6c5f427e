package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/edgecache/admission"
	"github.com/IvanBrykalov/edgecache/engine"
	"github.com/IvanBrykalov/edgecache/model"
	"github.com/IvanBrykalov/edgecache/storage/shardmap"
)

type fakeUpstream struct {
	calls   atomic.Int64
	status  int
	headers []model.KV
	body    []byte
	err     error
}

func (u *fakeUpstream) Fetch(ctx context.Context, rule *model.Rule, queries, headers []model.KV) (int, []model.KV, []byte, error) {
	u.calls.Add(1)
	if u.err != nil {
		return 0, nil, nil, u.err
	}
	return u.status, u.headers, u.body, nil
}

func (u *fakeUpstream) Refresh(ctx context.Context, entry *model.Entry) (model.Payload, error) {
	return nil, nil
}

func testHandler(t *testing.T, up Upstream) (*Handler, *model.Rule) {
	t.Helper()
	rule := &model.Rule{
		Path:                    "/api/v1/user",
		PathBytes:               []byte("/api/v1/user"),
		QueryWhitelist:          []string{"id"},
		HeaderWhitelist:         []string{"accept-encoding"},
		ResponseHeaderWhitelist: []string{"Content-Type"},
	}
	rs := model.NewRuleSet([]*model.Rule{rule})

	store := shardmap.New(shardmap.Sampling, 64)
	adm := admission.New(admission.DefaultConfig())
	cfg := engine.Config{
		SoftMemoryLimit:      1 << 30,
		HardMemoryLimit:      1 << 30,
		AdmissionMemoryLimit: 1 << 30,
		AdmissionEnabled:     true,
		SampleShards:         shardmap.NumShards,
		SampleKeys:           16,
		EvictBackoff:         8192,
		Lifetime:             model.LifetimePolicy{TTL: 0},
		OnTTL:                model.TTLRefresh,
	}
	eng := engine.New(store, adm, cfg, nil, nil)

	h := NewHandler(rs, eng, up, nil, zap.NewNop())
	return h, rule
}

func TestHandler_MissThenHit(t *testing.T) {
	up := &fakeUpstream{
		status:  200,
		headers: []model.KV{{Key: []byte("Content-Type"), Value: []byte("application/json")}},
		body:    []byte(`{"ok":true}`),
	}
	h, _ := testHandler(t, up)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=7", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected Content-Type to be replayed")
	}
	if rec.Header().Get("Last-Updated-At") == "" {
		t.Fatalf("expected Last-Updated-At header")
	}
	if up.calls.Load() != 1 {
		t.Fatalf("expected exactly one upstream fetch, got %d", up.calls.Load())
	}

	// Second request for the same cache key should hit without calling
	// upstream again.
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=7", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)

	if rec2.Code != 200 || rec2.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected cached response: %d %q", rec2.Code, rec2.Body.String())
	}
	if up.calls.Load() != 1 {
		t.Fatalf("expected upstream to be called once total, got %d", up.calls.Load())
	}
}

func TestHandler_NoMatchingRule_FallsBackToProxy(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte("passthrough")}
	h, _ := testHandler(t, up)
	req := httptest.NewRequest(http.MethodGet, "/no/such/rule", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if rec.Body.String() != "passthrough" {
		t.Fatalf("expected upstream body forwarded uncached, got %q", rec.Body.String())
	}
	if up.calls.Load() != 1 {
		t.Fatalf("expected exactly one uncached upstream fetch, got %d", up.calls.Load())
	}
}

func TestHandler_NonGET_405(t *testing.T) {
	h, _ := testHandler(t, &fakeUpstream{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/user", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestHandler_UpstreamError_503WithReason(t *testing.T) {
	h, _ := testHandler(t, &fakeUpstream{err: errBoom})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	if rec.Header().Get("X-Error-Reason") == "" {
		t.Fatalf("expected X-Error-Reason header on upstream error")
	}
}

func TestHandler_ProxyModeUpstreamError_503WithReason(t *testing.T) {
	h, _ := testHandler(t, &fakeUpstream{err: errBoom})
	req := httptest.NewRequest(http.MethodGet, "/no/such/rule", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	if rec.Header().Get("X-Error-Reason") == "" {
		t.Fatalf("expected X-Error-Reason header on upstream error")
	}
}

func TestHandler_DistinctQueryKeysMissIndependently(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte("a")}
	h, _ := testHandler(t, up)

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user?id="+id, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	if up.calls.Load() != 2 {
		t.Fatalf("expected 2 distinct upstream fetches, got %d", up.calls.Load())
	}
}

var errBoom = &model.UpstreamError{Err: context.DeadlineExceeded}

func TestHandler_Bypass_RoutesStraightToUpstream(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte("origin")}
	h, _ := testHandler(t, up)
	h.SetBypass(true)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=7", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != 200 || rec.Body.String() != "origin" {
			t.Fatalf("unexpected bypass response: %d %q", rec.Code, rec.Body.String())
		}
	}
	if up.calls.Load() != 2 {
		t.Fatalf("bypass must fetch upstream every time, got %d calls", up.calls.Load())
	}
	if _, items := h.Engine.Stat(); items != 0 {
		t.Fatalf("bypass must not populate the cache, got %d items", items)
	}

	// Flipping bypass back off restores normal caching behavior.
	h.SetBypass(false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=7", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if _, items := h.Engine.Stat(); items != 1 {
		t.Fatalf("expected one cached entry after bypass off, got %d", items)
	}
}

func TestHandler_Invalidate_MarksOnlyTargetedEntryStale(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte("body")}
	h, _ := testHandler(t, up)

	warm := func(query string) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user?"+query, nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	warm("id=1111")
	warm("id=2222")

	entryFor := func(query string) *model.Entry {
		t.Helper()
		rule, err := h.Rules.Match("/api/v1/user")
		if err != nil {
			t.Fatalf("rule match: %v", err)
		}
		queries := model.FilterAndSortQuery(rule.QueryWhitelist, model.ParseQuery(query))
		key, fp := model.BuildKeyHash(rule, queries, nil)
		entry, hit := h.Engine.Get(key, fp)
		if !hit {
			t.Fatalf("expected %q to be cached", query)
		}
		return entry
	}

	before2222 := entryFor("id=2222").UpdatedAt()

	if !h.Invalidate("/api/v1/user", "id=1111", nil) {
		t.Fatalf("expected Invalidate to find the warmed entry")
	}
	if h.Invalidate("/no/such/rule", "", nil) {
		t.Fatalf("a path with no rule must not invalidate anything")
	}

	if got := entryFor("id=1111").UpdatedAt(); got != 0 {
		t.Fatalf("invalidated entry must be untouched, updated_at=%d", got)
	}
	if got := entryFor("id=2222").UpdatedAt(); got != before2222 {
		t.Fatalf("sibling entry must be unchanged, updated_at=%d want %d", got, before2222)
	}
}

func TestHandler_PermutedQueryOrderSharesOneEntry(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte(`{"n":1}`)}
	h, rule := testHandler(t, up)
	rule.QueryWhitelist = []string{"a", "b"}

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/user?a=1&b=2", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/user?b=2&a=1", nil))

	if first.Body.String() != second.Body.String() {
		t.Fatalf("permuted query order must replay the same entry: %q vs %q", first.Body.String(), second.Body.String())
	}
	if up.calls.Load() != 1 {
		t.Fatalf("expected one upstream fetch for both orderings, got %d", up.calls.Load())
	}
}

func TestHandler_WhitelistedHeaderSplitsEntries(t *testing.T) {
	up := &fakeUpstream{status: 200, body: []byte("payload")}
	h, _ := testHandler(t, up)

	identity := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=1", nil)
	identity.Header.Set("Accept-Encoding", "identity")
	h.ServeHTTP(httptest.NewRecorder(), identity)

	gzip := httptest.NewRequest(http.MethodGet, "/api/v1/user?id=1", nil)
	gzip.Header.Set("Accept-Encoding", "gzip")
	h.ServeHTTP(httptest.NewRecorder(), gzip)

	if up.calls.Load() != 2 {
		t.Fatalf("differing whitelisted headers must key separate entries, got %d fetches", up.calls.Load())
	}
	if _, items := h.Engine.Stat(); items != 2 {
		t.Fatalf("expected two resident entries, got %d", items)
	}
}
