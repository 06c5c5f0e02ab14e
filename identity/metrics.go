package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var idCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_directory_id_cache_hits",
	Help: "Number of account-id directory cache hits",
})

var idCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_directory_id_cache_misses",
	Help: "Number of account-id directory cache misses",
})

var nameCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_directory_name_cache_hits",
	Help: "Number of display-name directory cache hits",
})

var nameCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_directory_name_cache_misses",
	Help: "Number of display-name directory cache misses",
})
