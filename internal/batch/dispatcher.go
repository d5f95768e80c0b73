// Package batch runs the matcher over many vehicles on a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/logging"
	"gtfs-matcher/internal/match"
)

var (
	// ErrNoVehicles aborts a batch that has nothing to dispatch.
	ErrNoVehicles = errors.New("no vehicles to match")
	// ErrWorkerPanic wraps a panic recovered from a vehicle worker.
	ErrWorkerPanic = errors.New("worker panic")
)

// Reason classifies a per-vehicle failure.
type Reason string

const (
	ReasonInvalidFix Reason = "invalid_fix"
	ReasonTimeout    Reason = "timeout"
	ReasonCancelled  Reason = "cancelled"
	ReasonPanic      Reason = "panic"
	ReasonError      Reason = "error"
)

// Failure records a vehicle whose rows are missing from the output.
type Failure struct {
	VehicleID string
	Reason    Reason
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("vehicle %s: %s: %v", f.VehicleID, f.Reason, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// VehicleMatcher matches a single vehicle trace.
type VehicleMatcher interface {
	MatchVehicle(ctx context.Context, vehicleID string, fixes []gtfs.Fix) (*match.VehicleResult, error)
}

// Metrics receives per-vehicle outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	VehicleMatched(res *match.VehicleResult, d time.Duration)
	VehicleFailed(reason string)
	WorkersBusy(n int)
}

// Result is the outcome of a batch. Records are ordered by vehicle id.
type Result struct {
	Records  []gtfs.MatchRecord
	Vehicles []*match.VehicleResult
	Failures []Failure
}

// DefaultWorkers leaves one CPU for the rest of the process.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Dispatcher fans vehicles out to a fixed number of workers.
type Dispatcher struct {
	matcher VehicleMatcher
	workers int
	timeout time.Duration
	metrics Metrics

	mu   sync.Mutex
	busy int
}

// NewDispatcher returns a dispatcher. workers <= 0 selects DefaultWorkers;
// timeout <= 0 disables the per-vehicle deadline. metrics may be nil.
func NewDispatcher(m VehicleMatcher, workers int, timeout time.Duration, metrics Metrics) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Dispatcher{matcher: m, workers: workers, timeout: timeout, metrics: metrics}
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// GroupByVehicle splits fixes by vehicle id, keeping input order.
func GroupByVehicle(fixes []gtfs.Fix) map[string][]gtfs.Fix {
	out := make(map[string][]gtfs.Fix)
	for _, f := range fixes {
		if f.VehicleID == "" {
			continue
		}
		out[f.VehicleID] = append(out[f.VehicleID], f)
	}
	return out
}

type slot struct {
	res     *match.VehicleResult
	failure *Failure
}

// Run matches every vehicle and waits for all workers. A failing vehicle
// never stops its siblings. Once ctx is done no further vehicle is started
// and the remaining ones are reported as cancelled.
func (d *Dispatcher) Run(ctx context.Context, byVehicle map[string][]gtfs.Fix) (*Result, error) {
	if len(byVehicle) == 0 {
		return nil, ErrNoVehicles
	}
	logger := logging.FromContext(ctx).With(slog.String("component", "dispatcher"))

	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	slots := make([]slot, len(ids))
	var g errgroup.Group
	g.SetLimit(d.workers)

	logger.Info("dispatching vehicles", slog.Int("vehicles", len(ids)), slog.Int("workers", d.workers))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			slots[i] = slot{failure: &Failure{VehicleID: id, Reason: ReasonCancelled, Err: err}}
			d.recordFailure(ReasonCancelled)
			continue
		}
		g.Go(func() error {
			slots[i] = d.runVehicle(ctx, id, byVehicle[id])
			return nil
		})
	}
	_ = g.Wait()

	out := &Result{}
	for _, s := range slots {
		if s.failure != nil {
			out.Failures = append(out.Failures, *s.failure)
			continue
		}
		out.Vehicles = append(out.Vehicles, s.res)
		out.Records = append(out.Records, s.res.Records...)
	}
	return out, nil
}

func (d *Dispatcher) runVehicle(parent context.Context, id string, fixes []gtfs.Fix) (s slot) {
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}
	logger := logging.FromContext(ctx).With(slog.String("component", "dispatcher"), slog.String("vehicle_id", id))

	d.setBusy(1)
	defer d.setBusy(-1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerPanic, r)
			logging.LogError(logger, "vehicle worker panicked", err)
			d.recordFailure(ReasonPanic)
			s = slot{failure: &Failure{VehicleID: id, Reason: ReasonPanic, Err: err}}
		}
	}()

	res, err := d.matcher.MatchVehicle(ctx, id, fixes)
	if err != nil {
		reason := classify(err)
		logging.LogError(logger, "vehicle failed", err, slog.String("reason", string(reason)))
		d.recordFailure(reason)
		return slot{failure: &Failure{VehicleID: id, Reason: reason, Err: err}}
	}

	elapsed := time.Since(start)
	logger.Info("vehicle matched",
		slog.Int("rows", len(res.Records)),
		slog.Int("trips", len(res.Episodes)),
		slog.Duration("duration", elapsed))
	if d.metrics != nil {
		d.metrics.VehicleMatched(res, elapsed)
	}
	return slot{res: res}
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, match.ErrInvalidFix):
		return ReasonInvalidFix
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrWorkerPanic):
		return ReasonPanic
	}
	return ReasonError
}

func (d *Dispatcher) recordFailure(r Reason) {
	if d.metrics != nil {
		d.metrics.VehicleFailed(string(r))
	}
}

func (d *Dispatcher) setBusy(delta int) {
	d.mu.Lock()
	d.busy += delta
	n := d.busy
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.WorkersBusy(n)
	}
}
