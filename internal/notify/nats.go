// Package notify announces finished runs on NATS so downstream consumers can
// start work as soon as fresh data has landed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Metrics receives publish outcomes. A nil Metrics is allowed.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
	Close()
}

// NATSPublisher publishes one RunReport per run.
type NATSPublisher struct {
	nc      conn
	subject string
	log     *slog.Logger
	metrics Metrics
}

// NewNATSPublisher connects to url and publishes on subject.
func NewNATSPublisher(url, subject string, log *slog.Logger, m Metrics) (*NATSPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("bikeshare-loader"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify.NewNATSPublisher: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, subject, log, m), nil
}

func newPublisher(nc conn, subject string, log *slog.Logger, m Metrics) *NATSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{nc: nc, subject: subject, log: log, metrics: m}
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// RunCompleted publishes rep as JSON and waits for the server to accept it.
func (p *NATSPublisher) RunCompleted(ctx context.Context, rep domain.RunReport) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("notify.NATSPublisher.RunCompleted: %w", err)
	}

	err = p.nc.Publish(p.subject, b)
	if err == nil {
		err = p.nc.FlushWithContext(ctx)
	}
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("notify.NATSPublisher.RunCompleted: %s: %w", p.subject, err)
	}
	p.log.DebugContext(ctx, "run report published", "subject", p.subject, "run_id", rep.RunID, "bytes", len(b))
	return nil
}
