package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxReconnects int           `koanf:"max_reconnects"`

	// Flush waits for the server to acknowledge each publish.
	Flush bool `koanf:"flush"`
}

// ApplyDefaults fills unset fields.
func (c *NATSConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "patterns"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
}

// NATSPublisher publishes lifecycle events as JSON on
// <prefix>.created.<company> and <prefix>.graduated.<company>.
type NATSPublisher struct {
	nc      *nats.Conn
	owned   bool
	prefix  string
	flush   bool
	timeout time.Duration
	clock   pattern.Clock
	logger  *zap.Logger
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("patternd"),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	p := NewNATSPublisherFromConn(nc, cfg, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisherFromConn publishes on an existing connection, which the
// caller keeps ownership of.
func NewNATSPublisherFromConn(nc *nats.Conn, cfg NATSConfig, logger *zap.Logger) *NATSPublisher {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{
		nc:      nc,
		prefix:  cfg.SubjectPrefix,
		flush:   cfg.Flush,
		timeout: cfg.Timeout,
		clock:   pattern.SystemClock{},
		logger:  logger.Named("events"),
	}
}

// Subject returns the subject an event of type t for company is published on.
func (p *NATSPublisher) Subject(t Type, company string) string {
	verb := strings.TrimPrefix(string(t), "pattern.")
	return p.prefix + "." + verb + "." + subjectToken(company)
}

// PatternCreated implements pattern.PatternCreatedSink.
func (p *NATSPublisher) PatternCreated(ctx context.Context, pat pattern.Pattern) error {
	return p.publish(ctx, createdEvent(pat, p.clock.Now()))
}

// PatternGraduated implements pattern.GraduationNotifier.
func (p *NATSPublisher) PatternGraduated(ctx context.Context, e pattern.GraduationEvent) error {
	return p.publish(ctx, graduatedEvent(e))
}

func (p *NATSPublisher) publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc == nil || p.nc.IsClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	subject := p.Subject(e.Type, e.Company)
	if err := p.nc.Publish(subject, data); err != nil {
		eventsTotal.WithLabelValues("nats", string(e.Type), "error").Inc()
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	if p.flush {
		if err := p.nc.FlushTimeout(p.timeout); err != nil {
			eventsTotal.WithLabelValues("nats", string(e.Type), "error").Inc()
			return fmt.Errorf("flushing %s: %w", subject, err)
		}
	}

	eventsTotal.WithLabelValues("nats", string(e.Type), "ok").Inc()
	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("pattern_id", e.PatternID))
	return nil
}

// Close drains the connection when the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned || p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// subjectToken maps a company onto a single subject token. The global
// company "*" is a NATS wildcard and is published as "global".
func subjectToken(company string) string {
	if company == "" {
		return "unknown"
	}
	if company == pattern.GlobalCompany {
		return "global"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, company)
}

var _ Sink = (*NATSPublisher)(nil)
