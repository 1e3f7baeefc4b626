// Package metrics exposes Prometheus counters/gauges for every §7 error
// kind plus pipeline-internal counts, grounded on collector.Collector's
// promhttp.Handler() wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements writepipeline.Metrics and the skew counter consumed
// by internal/latency.
type Collector struct {
	Enqueued     prometheus.Counter
	Dropped      *prometheus.CounterVec
	DedupHits    prometheus.Counter
	BatchWritten prometheus.Counter
	BatchDropped prometheus.Counter
	Retries      prometheus.Counter
	QueueDepth   prometheus.Gauge
	SkewDropped  prometheus.Counter
	ParseErrors  prometheus.Counter
}

// New registers and returns the full metrics set against reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_writepipeline_enqueued_total",
			Help: "Records accepted into the write pipeline ingress queue.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlm_writepipeline_dropped_total",
			Help: "Records dropped, labeled by reason.",
		}, []string{"reason"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_writepipeline_dedup_hits_total",
			Help: "Records suppressed by the dedup LRU.",
		}),
		BatchWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_writepipeline_records_written_total",
			Help: "Records successfully written to the store.",
		}),
		BatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_writepipeline_records_dropped_total",
			Help: "Records dropped after batch write failure.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_writepipeline_retries_total",
			Help: "Batch write retry attempts.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vlm_writepipeline_queue_depth",
			Help: "Current ingress queue depth.",
		}),
		SkewDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_latency_skew_dropped_total",
			Help: "Voted slots dropped for exceeding the landed slot.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_decoder_parse_errors_total",
			Help: "Vote instructions that failed to decode.",
		}),
	}
	reg.MustRegister(c.Enqueued, c.Dropped, c.DedupHits, c.BatchWritten, c.BatchDropped, c.Retries, c.QueueDepth, c.SkewDropped, c.ParseErrors)
	return c
}

func (c *Collector) IncEnqueued()            { c.Enqueued.Inc() }
func (c *Collector) IncDropped(reason string) { c.Dropped.WithLabelValues(reason).Inc() }
func (c *Collector) IncDedupHit()            { c.DedupHits.Inc() }
func (c *Collector) IncBatchWritten(n int)   { c.BatchWritten.Add(float64(n)) }
func (c *Collector) IncBatchDropped(n int)   { c.BatchDropped.Add(float64(n)) }
func (c *Collector) IncRetry()               { c.Retries.Inc() }
func (c *Collector) SetQueueDepth(n int)     { c.QueueDepth.Set(float64(n)) }
func (c *Collector) IncSkew()                { c.SkewDropped.Inc() }
func (c *Collector) IncParseError()          { c.ParseErrors.Inc() }
