package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/IvanBrykalov/edgecache/model"
)

// HTTPUpstream is the production Upstream: it performs a real HTTP GET
// against a configured origin base URL, forwarding the filtered
// query/header fields the handler computed and stripping hop-by-hop
// headers both ways.
type HTTPUpstream struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPUpstream builds an HTTPUpstream. client may be nil, in which case
// http.DefaultClient is used.
func NewHTTPUpstream(client *http.Client) *HTTPUpstream {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUpstream{Client: client}
}

func (u *HTTPUpstream) Fetch(ctx context.Context, rule *model.Rule, queries, headers []model.KV) (int, []model.KV, []byte, error) {
	req, err := u.buildRequest(ctx, rule.Path, queries, headers)
	if err != nil {
		return 0, nil, nil, err
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return 0, nil, nil, &model.UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, &model.UpstreamError{Err: err}
	}

	respHeaders := model.StripHopByHop(headerKVs(resp.Header))
	return resp.StatusCode, respHeaders, body, nil
}

// Refresh re-fetches entry's origin response using the request-identifying
// fields persisted in its payload, and re-encodes a fresh payload; this is
// internally equivalent to a fetch followed by a set.
func (u *HTTPUpstream) Refresh(ctx context.Context, entry *model.Entry) (model.Payload, error) {
	req, _, err := model.Decode(entry.Payload())
	if err != nil {
		return nil, &model.UpstreamError{Err: err}
	}

	status, respHeaders, body, err := u.Fetch(ctx, entry.Rule, req.Queries, req.RequestHeaders)
	if err != nil {
		return nil, err
	}
	return model.EncodePayload(req.Queries, req.RequestHeaders, uint32(status), respHeaders, body), nil
}

func (u *HTTPUpstream) buildRequest(ctx context.Context, path string, queries, headers []model.KV) (*http.Request, error) {
	values := url.Values{}
	for _, kv := range queries {
		values.Add(string(kv.Key), string(kv.Value))
	}

	target := u.BaseURL + path
	if len(values) > 0 {
		target = fmt.Sprintf("%s?%s", target, values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	for _, kv := range headers {
		name := string(kv.Key)
		if model.IsHopByHop(name) {
			continue
		}
		if name == "Host" {
			req.Host = string(kv.Value)
			continue
		}
		req.Header.Add(name, string(kv.Value))
	}
	return req, nil
}
