// Package metrics exposes decode counters and latencies to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attnmt"

var (
	// Sentences counts decoded sentences by operation and outcome.
	Sentences = newCounterVec("decode", "sentences_total", "Number of sentences processed.", "op", "status")

	// Words counts generated or scored target words by operation.
	Words = newCounterVec("decode", "words_total", "Number of target words generated or scored.", "op")

	Duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decode",
		Name:      "duration_seconds",
		Help:      "Time spent on one sentence.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"op"})
)

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func init() {
	prometheus.MustRegister(Sentences, Words)
}

// Observe records one sentence of op that produced words target words.
func Observe(op string, start time.Time, words int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	Sentences.WithLabelValues(op, status).Inc()
	if err == nil {
		Words.WithLabelValues(op).Add(float64(words))
	}
	Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
