// Package publisher fans matched trips out to NATS, one message per walked
// trip.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"gtfs-matcher/internal/logging"
)

var errRateWait = errors.New("rate limit wait")

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc      *nats.Conn
	conn    conn
	prefix  string
	limiter *rate.Limiter
	metrics PublisherMetrics
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. Subjects are <prefix>.<vehicle>.<trip>.
// perSecond caps the publish rate; 0 leaves it unlimited.
func NewNATSPublisher(url, prefix string, perSecond float64, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "publisher"))
	nc, err := nats.Connect(url,
		nats.Name("gtfs-matcher"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogError(logger, "nats disconnected", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, perSecond, m, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, perSecond float64, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &NATSPublisher{
		conn:    c,
		prefix:  strings.Trim(strings.TrimSpace(prefix), "."),
		metrics: m,
		logger:  logger,
	}
	if p.prefix == "" {
		p.prefix = "matches"
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return p
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.LogError(p.logger, "nats drain failed", err)
		}
		p.nc.Close()
	}
}

// Subject returns the subject a trip message is published on.
func (p *NATSPublisher) Subject(msg TripMatchMessage) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(msg.VehicleID), subjectToken(msg.TripID))
}

// PublishTrip publishes one message, waiting on the rate limiter first.
func (p *NATSPublisher) PublishTrip(ctx context.Context, msg TripMatchMessage) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errRateWait, err)
		}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := p.Subject(msg)
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("trip published", slog.String("subject", subject), slog.Int("bytes", len(b)))
	return nil
}

// PublishTrips publishes every message. A failed publish is logged and the
// rest still go out; cancellation stops the loop. The number published is
// returned with the joined errors.
func (p *NATSPublisher) PublishTrips(ctx context.Context, msgs []TripMatchMessage) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.PublishTrip(ctx, msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, errRateWait) {
				errs = append(errs, err)
				break
			}
			logging.LogError(p.logger, "trip publish failed", err,
				slog.String("vehicle_id", msg.VehicleID), slog.String("trip_id", msg.TripID))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
