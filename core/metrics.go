package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricEventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "events_ingested_total",
		Help:      "Events folded into a spoke client, by chain and kind.",
	}, []string{"chain", "kind"})

	metricReconstructions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "bundle_reconstructions_total",
		Help:      "Full bundle reconstruction passes.",
	})

	metricReconstructionCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "reconstruction_cache_hits_total",
		Help:      "LoadData calls served from the in-memory cache.",
	})

	metricBlobCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "blob_cache_hits_total",
		Help:      "Bundles served from the persistent blob cache.",
	})

	metricBlobCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "blob_cache_misses_total",
		Help:      "Blob cache lookups that fell back to recomputation.",
	})

	metricOracleLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interlink",
		Name:      "fill_status_lookups_total",
		Help:      "Fill-status oracle calls, by destination chain.",
	}, []string{"chain"})
)

func init() {
	prometheus.MustRegister(
		metricEventsIngested,
		metricReconstructions,
		metricReconstructionCacheHits,
		metricBlobCacheHits,
		metricBlobCacheMisses,
		metricOracleLookups,
	)
}
