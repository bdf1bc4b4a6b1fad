package swrcache

import (
	"net/url"

	"github.com/unkn0wn-root/swrcache/internal/util"
)

// Key builds the conventional cache key for an API resource:
// "<namespace>:<path>?<params>" with params sorted, or "<namespace>:<path>"
// when there are none.
func Key(namespace, path string, params url.Values) string {
	return util.JoinKey(namespace, path, util.CanonicalQuery(params))
}
