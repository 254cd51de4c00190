package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/resilience"
)

// Publisher publishes interaction events behind a circuit breaker.
type Publisher struct {
	pub     message.Publisher
	topic   string
	breaker *resilience.Breaker[struct{}]
	logger  *slog.Logger
	metrics *Metrics
}

// NewPublisher wraps pub. breakerMetrics and metrics may be nil.
func NewPublisher(pub message.Publisher, topic string, logger *slog.Logger, breakerMetrics *resilience.Metrics, metrics *Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		pub:     pub,
		topic:   topic,
		breaker: resilience.NewBreaker[struct{}](resilience.DefaultSettings("nats_publish"), logger, breakerMetrics),
		logger:  logger,
		metrics: metrics,
	}
}

// PublishInteraction sends e. The event ID doubles as the JetStream
// message ID so redelivered publishes are deduplicated by the server.
func (p *Publisher) PublishInteraction(ctx context.Context, e interaction.Event) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	id := e.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	msg.Metadata.Set("action", string(e.Action))

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.pub.Publish(p.topic, msg)
	})
	if err != nil {
		p.metrics.incPublished(outcomeError)
		return fmt.Errorf("publish interaction: %w", err)
	}
	p.metrics.incPublished(outcomeOK)
	return nil
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

func natsOptions(cfg Config, logger *slog.Logger) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
}

// NewNATSPublisher connects a JetStream publisher for cfg.
func NewNATSPublisher(cfg Config, logger *slog.Logger) (message.Publisher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber connects a durable JetStream queue subscriber for cfg.
func NewNATSSubscriber(cfg Config, logger *slog.Logger) (message.Subscriber, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOptions(cfg, logger),
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(cfg.MaxDeliver),
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverNew(),
			},
		},
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}
	return sub, nil
}
