package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/drone/internal/traffic"
)

var (
	registry *prometheus.Registry

	// Conversational turns by outcome (intent, fallback, apology). Watch for: apology share rising.
	TurnsTotal *prometheus.CounterVec

	// End-to-end latency of one turn. Watch for: p95 above the 5s backend timeout.
	TurnDuration *prometheus.HistogramVec

	// Executor decisions per intent (allow-listed names; others use intent=other).
	IntentDispatchTotal *prometheus.CounterVec

	// Fallback model calls. Watch for: error ratio, backend outages.
	GeneratorCallsTotal *prometheus.CounterVec

	// Fallback model latency per call.
	GeneratorDuration *prometheus.HistogramVec

	// HTTP request rate in http I/O mode.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather backend call rate. Watch for: error vs success ratio.
	WeatherBackendCallsTotal *prometheus.CounterVec

	// Weather backend latency per call. Watch for: p99 near the 5s timeout.
	WeatherBackendDuration *prometheus.HistogramVec

	// Retry attempts for weather backend calls. Watch for: high retries = unstable upstream.
	WeatherBackendRetriesTotal prometheus.Counter

	// Final weather backend failures by category.
	WeatherBackendErrorsTotal *prometheus.CounterVec

	// Queries answered without data (missing key, failed embedded status, malformed data).
	WeatherSourcesAbsentTotal *prometheus.CounterVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Location cache hits per backend.
	CacheHitsTotal *prometheus.CounterVec

	// Location cache errors by operation. Errors never fail a lookup.
	CacheErrorsTotal *prometheus.CounterVec

	// Concurrent misses for one city, observed while a lookup was already running.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Location lookups answered by joining another caller's backend call, and the wait.
	LocationCoalescedTotal      prometheus.Counter
	LocationCoalesceWaitSeconds prometheus.Histogram

	// Cache warming runs, failed runs and run duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Weather lookups. Watch for: traffic volume, rate() for QPS.
	WeatherQueriesTotal prometheus.Counter

	// Per-city query count (allow-list; others go to "other").
	WeatherQueriesByCityTotal *prometheus.CounterVec

	// Rate limit denials in http I/O mode.
	RateLimitDeniedTotal prometheus.Counter

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	trackedIntentsMu sync.RWMutex
	trackedIntents   map[string]struct{}

	turnGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnsTotal",
			Help: "Total number of conversational turns by outcome",
		},
		[]string{"outcome"},
	)
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnDurationSeconds",
			Help:    "Conversational turn latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
	IntentDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentDispatchTotal",
			Help: "Executor dispatch decisions by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)
	GeneratorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generatorCallsTotal",
			Help: "Total number of conversation model calls",
		},
		[]string{"backend", "status"},
	)
	GeneratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generatorDurationSeconds",
			Help:    "Conversation model latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherBackendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherBackendCallsTotal",
			Help: "Total number of weather backend calls",
		},
		[]string{"status"},
	)
	WeatherBackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherBackendDurationSeconds",
			Help:    "Weather backend latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherBackendRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherBackendRetriesTotal",
			Help: "Total number of retry attempts for weather backend calls",
		},
	)
	WeatherBackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherBackendErrorsTotal",
			Help: "Weather backend failures after retries, by category",
		},
		[]string{"category"},
	)
	WeatherSourcesAbsentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherSourcesAbsentTotal",
			Help: "Batched queries that returned no usable data",
		},
		[]string{"query", "reason"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of location cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Location cache errors by operation",
		},
		[]string{"operation"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Location cache misses that overlapped another miss for the same city",
		},
		[]string{"city"},
	)
	LocationCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locationCoalescedTotal",
			Help: "Location lookups served by an in-flight backend call started by another caller",
		},
	)
	LocationCoalesceWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "locationCoalesceWaitSeconds",
			Help:    "Time a location lookup waited on a coalesced backend call",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed city",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	WeatherQueriesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByCityTotal",
			Help: "Weather queries by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		TurnsTotal, TurnDuration, IntentDispatchTotal,
		GeneratorCallsTotal, GeneratorDuration,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherBackendCallsTotal, WeatherBackendDuration, WeatherBackendRetriesTotal,
		WeatherBackendErrorsTotal, WeatherSourcesAbsentTotal,
		CircuitBreakerTransitionsTotal,
		CacheHitsTotal, CacheErrorsTotal,
		CacheStampedeDetectedTotal, LocationCoalescedTotal, LocationCoalesceWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		WeatherQueriesTotal, WeatherQueriesByCityTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterTurnGauges registers sliding-window turn and apology gauges backed by the
// traffic tracker. Safe to call more than once.
func RegisterTurnGauges(window time.Duration) {
	turnGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "turnsInWindow",
					Help: "Turns completed in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "apologiesInWindow",
					Help: "Turns answered with an apology in the sliding window",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetTrackedCities sets the allow-list for city metrics. Non-tracked cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeLabel(c)] = struct{}{}
	}
}

// CityLabel returns the metric label for city: the normalized name when tracked, else "other".
func CityLabel(city string) string {
	c := normalizeLabel(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c]
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

// RecordWeatherQuery records a weather query for the given city.
func RecordWeatherQuery(city string) {
	WeatherQueriesTotal.Inc()
	WeatherQueriesByCityTotal.WithLabelValues(CityLabel(city)).Inc()
}

// SetTrackedIntents sets the intent names that get their own dispatch label.
func SetTrackedIntents(names []string) {
	trackedIntentsMu.Lock()
	defer trackedIntentsMu.Unlock()
	trackedIntents = make(map[string]struct{}, len(names))
	for _, n := range names {
		trackedIntents[n] = struct{}{}
	}
}

// RecordIntentDispatch counts one executor decision. Unknown intent names collapse to
// "other" so a misbehaving NLU engine cannot blow up label cardinality.
func RecordIntentDispatch(name, outcome string) {
	label := "none"
	if name != "" {
		trackedIntentsMu.RLock()
		_, ok := trackedIntents[name]
		trackedIntentsMu.RUnlock()
		label = "other"
		if ok {
			label = name
		}
	}
	IntentDispatchTotal.WithLabelValues(label, outcome).Inc()
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
