// Package poster provides an in-memory byte cache for poster images keyed by
// URL.
//
// The cache is write-through on success: the bytes of a successful fetch are
// stored before any caller sees them, so a later Load of the same URL never
// touches the network. Failed fetches are not stored unless FailureTTL is
// set, in which case the error is replayed until it expires.
//
// # Basic Usage
//
//	cache, err := poster.New(poster.NewHTTPFetcher(nil), poster.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	// Blocking form
//	data, err := cache.Load(ctx, "https://m.media-amazon.com/images/M/poster.jpg")
//
//	// Non-blocking form, for render loops
//	select {
//	case res := <-cache.LoadAsync(ctx, url):
//		if res.Err == nil {
//			draw(res.Data)
//		}
//	case <-ctx.Done():
//	}
//
// # Coalescing
//
// With Coalesce enabled (the default) concurrent misses for one URL share a
// single in-flight fetch. A caller whose context ends stops waiting, but the
// shared fetch runs to completion for the others and still fills the cache.
// With Coalesce disabled every miss performs its own fetch.
//
// # Growth
//
// MaxEntries of 0 keeps every poster for the lifetime of the cache. A
// positive value bounds the cache with least-recently-used eviction.
//
// # Metrics
//
//   - omdb_poster_cache_hits_total
//   - omdb_poster_cache_misses_total
//   - omdb_poster_coalesced_total
//   - omdb_poster_cache_bytes
//   - omdb_poster_fetch_errors_total
package poster
