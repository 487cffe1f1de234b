package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eleflea/sense-voice-recognizer/model"
)

const namespace = "asr"

// Collector exports queue and job lifecycle metrics. It satisfies
// worker.Observer.
type Collector struct {
	submitted  *prometheus.CounterVec
	finished   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	timeouts   prometheus.Counter
	audio      *prometheus.CounterVec
	queueWait  prometheus.Histogram
	processing prometheus.Histogram
	rtf        prometheus.Histogram

	reg prometheus.Registerer
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted into the queue, by priority class.",
		}, []string{"priority"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"status"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Requests refused before reaching the queue.",
		}, []string{"reason"}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_timeouts_total",
			Help:      "Callers that gave up waiting for a result.",
		}),
		audio: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio carried by finished jobs, by status.",
		}, []string{"status"}),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time from enqueue to start of processing.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		processing: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_seconds",
			Help:      "Recognizer wall-clock time per job.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		rtf: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "real_time_factor",
			Help:      "Audio duration divided by request latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

// WatchQueue exports the live queue depth.
func (c *Collector) WatchQueue(size func() int) {
	promauto.With(c.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Jobs waiting for the worker.",
	}, func() float64 { return float64(size()) })
}

func (c *Collector) JobSubmitted(priority int) {
	c.submitted.WithLabelValues(priorityClass(priority)).Inc()
}

func (c *Collector) JobRejected() {
	c.rejected.WithLabelValues("capacity").Inc()
}

// RequestRejected counts refusals decided outside the task manager.
func (c *Collector) RequestRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) JobStarted(wait time.Duration) {
	c.queueWait.Observe(wait.Seconds())
}

func (c *Collector) JobFinished(status model.JobStatus, elapsed time.Duration, audioSeconds float64) {
	c.finished.WithLabelValues(string(status)).Inc()
	c.audio.WithLabelValues(string(status)).Add(audioSeconds)
	if status != model.StatusAbandoned {
		c.processing.Observe(elapsed.Seconds())
	}
}

func (c *Collector) WaitTimedOut() {
	c.timeouts.Inc()
}

func (c *Collector) ObserveRTF(rtf float64) {
	c.rtf.Observe(rtf)
}

func priorityClass(p int) string {
	switch {
	case p > 0:
		return "high"
	case p < 0:
		return "low"
	default:
		return "default"
	}
}
