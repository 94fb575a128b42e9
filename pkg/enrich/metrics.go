package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evidify",
		Subsystem: "enrich",
		Name:      "documents_processed_total",
		Help:      "Documents successfully enriched.",
	})

	documentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evidify",
		Subsystem: "enrich",
		Name:      "documents_failed_total",
		Help:      "Documents whose enrichment failed.",
	})

	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evidify",
		Subsystem: "enrich",
		Name:      "parse_failures_total",
		Help:      "LLM responses that matched no structured field.",
	})

	embeddingsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evidify",
		Subsystem: "enrich",
		Name:      "embeddings_generated_total",
		Help:      "Document embeddings generated and stored.",
	})
)
