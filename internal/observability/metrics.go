package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeSaveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "last_save_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful document write.",
	})

	storeLoadGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "last_load_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful document load.",
	})

	storeRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "records",
		Help:      "Number of root records held per collection.",
	}, []string{"collection"})

	storeUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "upserts_total",
		Help:      "Upserts applied per collection, split by whether a record was replaced.",
	}, []string{"collection", "outcome"})

	storeRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "transaction_rollbacks_total",
		Help:      "Transactions rolled back after a callback or write failure.",
	})

	storeWriteSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trainingbook",
		Subsystem: "store",
		Name:      "write_duration_seconds",
		Help:      "Time spent encoding and writing the whole document.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(storeSaveGauge, storeLoadGauge, storeRecords, storeUpserts, storeRollbacks, storeWriteSeconds)
}

// RecordStoreSave updates the save watermark and write latency.
func RecordStoreSave(ts time.Time, took time.Duration) {
	if ts.IsZero() {
		return
	}
	storeSaveGauge.Set(float64(ts.Unix()))
	storeWriteSeconds.Observe(took.Seconds())
}

// RecordStoreLoad updates the load watermark.
func RecordStoreLoad(ts time.Time) {
	if ts.IsZero() {
		return
	}
	storeLoadGauge.Set(float64(ts.Unix()))
}

// SetCollectionSize publishes the root record count of a collection.
func SetCollectionSize(collection string, n int) {
	storeRecords.WithLabelValues(collection).Set(float64(n))
}

// RecordUpsert counts an upsert; replaced reports whether an existing record was swapped out.
func RecordUpsert(collection string, replaced bool) {
	outcome := "appended"
	if replaced {
		outcome = "replaced"
	}
	storeUpserts.WithLabelValues(collection, outcome).Inc()
}

// RecordRollback counts a rolled back transaction.
func RecordRollback() {
	storeRollbacks.Inc()
}
