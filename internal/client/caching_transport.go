package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// newCachingTransport wraps base in an HTTP cache. The server marks the
// document no-cache, so cached copies are always revalidated with
// If-None-Match and a 304 is answered from the cache.
func newCachingTransport(base http.RoundTripper, cacheDir string) *httpcache.Transport {
	var cache httpcache.Cache
	if cacheDir == "" {
		cache = httpcache.NewMemoryCache()
	} else {
		// disk cache survives between CLI invocations
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = base
	return transport
}

// fromCache reports whether resp was served from the local cache after
// revalidation.
func fromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
