package proxy

import (
	"context"

	"github.com/IvanBrykalov/edgecache/model"
)

// Upstream is the origin client contract: a plain fetch for cache misses
// and a refresh that is internally equivalent to fetch + set_payload and is
// what the Lifetime Manager calls (it also satisfies workers.Upstream).
type Upstream interface {
	// Fetch performs the origin request for rule, passing only the
	// filtered/whitelisted query and header fields, with Host always
	// included regardless of whitelist membership.
	Fetch(ctx context.Context, rule *model.Rule, queries, headers []model.KV) (status int, respHeaders []model.KV, body []byte, err error)

	// Refresh re-fetches entry's origin response and returns a freshly
	// encoded payload, ready for engine.ApplyRefresh.
	Refresh(ctx context.Context, entry *model.Entry) (model.Payload, error)
}
