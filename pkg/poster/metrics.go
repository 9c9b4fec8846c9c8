package poster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks loads served from memory.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_poster_cache_hits_total",
		Help: "Total number of poster cache hits",
	})

	// CacheMisses tracks loads that needed a fetch.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_poster_cache_misses_total",
		Help: "Total number of poster cache misses",
	})

	// Coalesced tracks misses that shared an in-flight fetch.
	Coalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_poster_coalesced_total",
		Help: "Total number of poster loads answered by a shared in-flight fetch",
	})

	// CacheSize tracks the bytes held by all poster caches.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omdb_poster_cache_bytes",
		Help: "Current size of the poster cache in bytes",
	})

	// FetchErrors tracks failed poster fetches.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omdb_poster_fetch_errors_total",
		Help: "Total number of failed poster fetches",
	})
)
