package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ScheduleTrips prometheus.Gauge
	ScheduleStops prometheus.Gauge
	WorkersBusy   prometheus.Gauge

	VehiclesMatched prometheus.Counter
	VehicleFailures *prometheus.CounterVec // reason label
	TripsMatched    prometheus.Counter
	StopsMatched    prometheus.Counter
	StopsUnmatched  prometheus.Counter
	FixesDropped    prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	VehicleDuration prometheus.Histogram
	PublishDuration prometheus.Histogram

	MatchDistance  prometheus.Gauge // meters
	LookaheadStops prometheus.Gauge
	Workers        prometheus.Gauge
}

func NewCollector(matchDistanceM float64, lookaheadStops, workers int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ScheduleTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_schedule_trips",
			Help: "Trips in the schedule index.",
		}),
		ScheduleStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_schedule_indexed_stops",
			Help: "Stops in the spatial index.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_workers_busy",
			Help: "Vehicles currently being matched.",
		}),
		VehiclesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_vehicles_matched_total",
			Help: "Vehicles whose trace was fully processed.",
		}),
		VehicleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_vehicle_failures_total",
			Help: "Vehicles that failed, by reason.",
		}, []string{"reason"}),
		TripsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_trips_matched_total",
			Help: "Trip executions identified.",
		}),
		StopsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_stops_matched_total",
			Help: "Scheduled stops with an observed arrival.",
		}),
		StopsUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_stops_unmatched_total",
			Help: "Scheduled stops without an observed arrival.",
		}),
		FixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_fixes_dropped_total",
			Help: "Fixes dropped for lacking a timestamp.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		VehicleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matcher_vehicle_duration_seconds",
			Help:    "Time spent matching one vehicle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matcher_publish_duration_seconds",
			Help:    "Duration to publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		MatchDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_match_distance_meters",
			Help: "Primary match distance threshold.",
		}),
		LookaheadStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_lookahead_stops",
			Help: "Stops scored ahead of each candidate.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_workers",
			Help: "Size of the worker pool.",
		}),
	}

	reg.MustRegister(
		c.ScheduleTrips, c.ScheduleStops, c.WorkersBusy,
		c.VehiclesMatched, c.VehicleFailures, c.TripsMatched,
		c.StopsMatched, c.StopsUnmatched, c.FixesDropped,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.VehicleDuration, c.PublishDuration,
		c.MatchDistance, c.LookaheadStops, c.Workers,
	)

	c.MatchDistance.Set(matchDistanceM)
	c.LookaheadStops.Set(float64(lookaheadStops))
	c.Workers.Set(float64(workers))

	return c
}

// SetSchedule records the size of the loaded schedule.
func (c *Collector) SetSchedule(trips, indexedStops int) {
	c.ScheduleTrips.Set(float64(trips))
	c.ScheduleStops.Set(float64(indexedStops))
}

// ObserveVehicle records one successfully processed vehicle.
func (c *Collector) ObserveVehicle(d time.Duration, trips, matchedStops, unmatchedStops, droppedFixes int) {
	c.VehiclesMatched.Inc()
	c.VehicleDuration.Observe(d.Seconds())
	c.TripsMatched.Add(float64(trips))
	c.StopsMatched.Add(float64(matchedStops))
	c.StopsUnmatched.Add(float64(unmatchedStops))
	c.FixesDropped.Add(float64(droppedFixes))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}
