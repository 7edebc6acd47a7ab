package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	mmetrics "transit-simulator/internal/metrics"
	"transit-simulator/internal/sim"
)

// NATSPublisher broadcasts position updates on <prefix>.<tripId>.<vehicleId>.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     *mmetrics.Collector
	log         zerolog.Logger
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m *mmetrics.Collector, logger zerolog.Logger) (*NATSPublisher, error) {
	setConnected := func(b bool) {
		if m == nil {
			return
		}
		if b {
			m.NATSConnected.Set(1)
		} else {
			m.NATSConnected.Set(0)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("transit-simulator"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			setConnected(true)
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	setConnected(true)
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, log: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns the subject an update is published on.
func (p *NATSPublisher) Subject(u sim.Update) string {
	return Subject(p.prefix, u)
}

func Subject(prefix string, u sim.Update) string {
	subject := fmt.Sprintf("%s.%s", subjectToken(u.TripID), subjectToken(u.VehicleID))
	if prefix != "" {
		subject = prefix + "." + subject
	}
	return subject
}

func (p *NATSPublisher) Publish(_ context.Context, u sim.Update) error {
	subject := p.Subject(u)
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	p.metrics.PublishResult("nats", time.Since(start), err)
	return err
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
