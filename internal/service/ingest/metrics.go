package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	inboundRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inbox_ingest_inbound_messages_total",
		Help: "Inbound messages persisted (excluding suppressed duplicates).",
	})
	outboundRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inbox_ingest_outbound_messages_total",
		Help: "Outbound messages persisted (excluding suppressed duplicates).",
	})
	duplicatesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inbox_ingest_duplicates_suppressed_total",
		Help: "Redelivered events dropped by the idempotent insert.",
	})
	ingestFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inbox_ingest_failures_total",
		Help: "Mutator operations that failed against the store.",
	})
)

func init() {
	prometheus.MustRegister(inboundRecorded, outboundRecorded, duplicatesSuppressed, ingestFailures)
}
