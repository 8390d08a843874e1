package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
)

// StoryViewedEvent fans a view event out to the platform's notification
// pipeline.
type StoryViewedEvent struct {
	StoryID  string    `json:"storyId"`
	ViewerID string    `json:"viewerId"`
	ViewedAt time.Time `json:"viewedAt"`
}

const RoutingKeyStoryViewed = "story.viewed"

// Publisher publishes platform events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type Opts struct {
	fx.In
	LC fx.Lifecycle

	Config *config.Config
	Logger logger.Logger
}

// New builds an AMQP publisher, or a noop publisher when AMQP is not
// configured or unreachable. Publishing is an optional leg of the view-event
// fan-out, so a missing broker never blocks startup.
func New(opts Opts) Publisher {
	log := opts.Logger

	if opts.Config.Amqp.URL == "" {
		log.Info("AMQP not configured, event publishing disabled")
		return noopPublisher{}
	}

	conn, err := amqp.Dial(opts.Config.Amqp.URL)
	if err != nil {
		log.Warn("AMQP unreachable, event publishing disabled", "error", err)
		return noopPublisher{}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("AMQP channel open failed, event publishing disabled", "error", err)
		_ = conn.Close()
		return noopPublisher{}
	}

	exchange := opts.Config.Amqp.Exchange
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Warn("AMQP exchange declare failed, event publishing disabled", "error", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{}
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: log}
	opts.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})

	log.Info("Connected to AMQP", "exchange", exchange)
	return p
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   logger.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }
func (noopPublisher) Close() error                               { return nil }
