// Package metrics exposes sensor node activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom records node activity. It satisfies sampler.Recorder.
type Prom struct {
	readings      prometheus.Counter
	readingValues prometheus.Histogram
	cycles        prometheus.Counter
	alarms        prometheus.Counter
	sendsStarted  prometheus.Counter
	sendsDone     prometheus.Counter
	sendsFailed   prometheus.Counter
	lastAverage   prometheus.Gauge
	alarm         prometheus.Gauge
	historyIndex  prometheus.Gauge
}

// NewProm creates the node metrics and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prom{
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_readings_total",
			Help: "Sensor readings taken.",
		}),
		readingValues: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ssn_reading_celsius",
			Help:    "Distribution of individual readings.",
			Buckets: prometheus.LinearBuckets(-10, 5, 16),
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_cycles_total",
			Help: "Aggregation cycles completed.",
		}),
		alarms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_alarms_total",
			Help: "Cycles whose average was outside the warning band.",
		}),
		sendsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_sends_started_total",
			Help: "Report deliveries started.",
		}),
		sendsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_sends_completed_total",
			Help: "Report deliveries that received a response.",
		}),
		sendsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssn_sends_failed_total",
			Help: "Report deliveries that failed to start or complete.",
		}),
		lastAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssn_last_average_celsius",
			Help: "Most recent cycle average.",
		}),
		alarm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssn_alarm",
			Help: "1 while the latest cycle average is outside the warning band.",
		}),
		historyIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssn_history_index",
			Help: "Slot the next cycle average will be written to.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.readings, p.readingValues, p.cycles, p.alarms,
		p.sendsStarted, p.sendsDone, p.sendsFailed,
		p.lastAverage, p.alarm, p.historyIndex,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) ReadingTaken(v float64) {
	p.readings.Inc()
	p.readingValues.Observe(v)
}

func (p *Prom) CycleCompleted(mean float64, alarm bool, historyIndex int) {
	p.cycles.Inc()
	p.lastAverage.Set(mean)
	p.historyIndex.Set(float64(historyIndex))
	if alarm {
		p.alarms.Inc()
		p.alarm.Set(1)
	} else {
		p.alarm.Set(0)
	}
}

func (p *Prom) SendStarted()   { p.sendsStarted.Inc() }
func (p *Prom) SendCompleted() { p.sendsDone.Inc() }
func (p *Prom) SendFailed()    { p.sendsFailed.Inc() }

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
