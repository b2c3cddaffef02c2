package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher fans network snapshots out to NATS subscribers on
// <prefix>.<network>.update.
type NATSPublisher struct {
	nc          conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         logger.Logger
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, log logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	nc, err := nats.Connect(url,
		nats.Name("fleettrack"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warnf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Infof("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Infof("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, prefix, logSubjects, m, log), nil
}

func newPublisher(nc conn, prefix string, logSubjects bool, m PublisherMetrics, log logger.Logger) *NATSPublisher {
	if prefix = strings.Trim(prefix, ". "); prefix == "" {
		prefix = "fleet"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, log: log}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns the subject snapshots of a network are published on.
func (p *NATSPublisher) Subject(networkID string) string {
	return fmt.Sprintf("%s.%s.update", p.prefix, subjectToken(networkID))
}

// PublishSnapshot publishes the already encoded snapshot payload.
func (p *NATSPublisher) PublishSnapshot(_ context.Context, snap fleet.Snapshot, payload []byte) error {
	subject := p.Subject(snap.NetworkID)
	if p.logSubjects {
		p.log.Debugf("nats publish subject=%s bytes=%d", subject, len(payload))
	}
	start := time.Now()
	err := p.nc.Publish(subject, payload)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
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
