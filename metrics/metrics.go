package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by handler and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insitu_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "status"},
	)
	// QueryDuration is the latency of planned scans.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insitu_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	// PartitionsEnumerated counts candidate partitions produced by the enumerator.
	PartitionsEnumerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insitu_partitions_enumerated_total",
			Help: "Candidate partitions produced from query time ranges",
		},
		[]string{"dataset"},
	)
	// PartitionsPruned counts candidates dropped by the partition index.
	PartitionsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insitu_partitions_pruned_total",
			Help: "Candidate partitions dropped because they are missing, empty or out of range",
		},
		[]string{"dataset"},
	)
	// StatisticsFailures counts observation counts recorded as 0 after a failure.
	StatisticsFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insitu_statistics_partial_failures_total",
			Help: "Per-variable observation counts that failed",
		},
		[]string{"variable"},
	)
	// IndexErrors counts failed partition index lookups.
	IndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insitu_index_errors_total",
			Help: "Partition index lookups that failed",
		},
		[]string{"index"},
	)
)
