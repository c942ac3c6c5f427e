package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IvanBrykalov/edgecache/model"
)

func TestHTTPUpstream_Fetch_ForwardsQueryAndHost(t *testing.T) {
	var gotHost, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotQuery = r.URL.Query().Get("id")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Connection", "keep-alive") // hop-by-hop, must not survive
		w.WriteHeader(200)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	up := NewHTTPUpstream(srv.Client())
	up.BaseURL = srv.URL

	rule := &model.Rule{Path: "/ping"}
	queries := []model.KV{{Key: []byte("id"), Value: []byte("7")}}
	headers := []model.KV{{Key: []byte("Host"), Value: []byte("example.com")}}

	status, respHeaders, body, err := up.Fetch(context.Background(), rule, queries, headers)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if status != 200 || string(body) != "pong" {
		t.Fatalf("unexpected response: %d %q", status, body)
	}
	if gotHost != "example.com" {
		t.Fatalf("want Host forwarded as example.com, got %q", gotHost)
	}
	if gotQuery != "7" {
		t.Fatalf("want query id=7 forwarded, got %q", gotQuery)
	}
	for _, kv := range respHeaders {
		if string(kv.Key) == "Connection" {
			t.Fatalf("hop-by-hop Connection header leaked into response")
		}
	}
}

func TestHTTPUpstream_Fetch_UpstreamUnreachable(t *testing.T) {
	up := NewHTTPUpstream(nil)
	up.BaseURL = "http://127.0.0.1:1" // nothing listens here
	rule := &model.Rule{Path: "/x"}
	_, _, _, err := up.Fetch(context.Background(), rule, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an unreachable origin")
	}
}
