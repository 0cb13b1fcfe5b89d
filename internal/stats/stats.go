package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "lendloop"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterCounter(name string)
	Run()
}

type StatsUpdater struct {
	log        *zap.Logger
	registry   *prometheus.Registry
	mu         sync.RWMutex
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
	updateChan chan *metricsUpdateReq
	// sendLock guards updateChan against sends after Stop closed it
	sendLock sync.RWMutex
	stopped  bool
}

type metricsUpdateReq struct {
	name  string
	value float64
}

// NewStatsUpdater creates a stats updater backed by its own prometheus
// registry and serves it on GET /metrics.
func NewStatsUpdater(mux *http.ServeMux, log *zap.Logger) *StatsUpdater {
	su := &StatsUpdater{
		log:        log,
		registry:   prometheus.NewRegistry(),
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /metrics", su.Handler())
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		}),
	)
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		su.mu.RLock()
		gauge, isGauge := su.gauges[req.name]
		counter, isCounter := su.counters[req.name]
		su.mu.RUnlock()

		switch {
		case isGauge:
			gauge.Add(req.value)
		case isCounter && req.value > 0:
			counter.Add(req.value)
		case isCounter:
			su.log.Warn("counter cannot decrease", zap.String("metric", req.name))
		default:
			su.log.Warn("metric not registered", zap.String("metric", req.name))
		}
	}
}

// send drops the update once the updater is stopped.
func (su *StatsUpdater) send(req *metricsUpdateReq) {
	su.sendLock.RLock()
	defer su.sendLock.RUnlock()

	if su.stopped {
		return
	}
	su.updateChan <- req
}

func (su *StatsUpdater) Incr(name string) {
	su.send(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(&metricsUpdateReq{name: name, value: -1})
}

// RegisterMetric creates a gauge named lendloop_<name>. Registering a name
// twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(gauge)
	su.gauges[name] = gauge
}

// RegisterCounter creates a monotonic counter named lendloop_<name>_total.
// Registering a name twice is a no-op.
func (su *StatsUpdater) RegisterCounter(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.counters[name]; ok {
		return
	}

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name + "_total",
	})
	su.registry.MustRegister(counter)
	su.counters[name] = counter
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.sendLock.Lock()
	defer su.sendLock.Unlock()

	if su.stopped {
		return
	}
	su.stopped = true
	close(su.updateChan)
}
