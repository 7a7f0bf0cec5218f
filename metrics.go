package filestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "filestore"
	resultOK         = "ok"
)

// storeMetrics holds the counters a store updates as it runs. They exist
// whether or not they are registered.
type storeMetrics struct {
	saves       *prometheus.CounterVec
	savedBytes  prometheus.Counter
	deletes     prometheus.Counter
	expired     prometheus.Counter
	purgedBytes prometheus.Counter
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "saves_total",
			Help:      "Save calls by result (ok or error kind)",
		}, []string{"result"}),
		savedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "saved_bytes_total",
			Help:      "Bytes written by successful saves",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deletes_total",
			Help:      "Blobs removed by Delete",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "expired_total",
			Help:      "Blobs removed because their lifetime elapsed",
		}),
		purgedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "purged_bytes_total",
			Help:      "Bytes reclaimed by purges",
		}),
	}
}

// RegisterMetrics registers the store's metrics with reg: operation counters
// plus capacity, used and free space gauges read at scrape time.
//
// This should be called once per registry.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		s.metrics.saves,
		s.metrics.savedBytes,
		s.metrics.deletes,
		s.metrics.expired,
		s.metrics.purgedBytes,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "capacity_bytes",
			Help:      "Configured capacity in bytes",
		}, func() float64 { return float64(s.space.Capacity()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "used_bytes",
			Help:      "Accounted bytes, including the lifetime ledger",
		}, func() float64 { return float64(s.space.Used()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "free_bytes",
			Help:      "Bytes that can still be written",
		}, func() float64 { return float64(s.space.Free()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ttl_entries",
			Help:      "Blobs with a pending lifetime",
		}, s.ttlEntries),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ttlEntries() float64 {
	s.mu.RLock()
	w := s.watcher
	s.mu.RUnlock()
	if w == nil {
		return 0
	}
	return float64(w.Len())
}
