package webtutor

import (
	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StreamBackend abstracts the event transport: in-memory for a single
// process, redis streams when several instances share one event feed.
type StreamBackend interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	Close() error
}

// StreamSettings selects and configures the backend.
type StreamSettings struct {
	RedisEnabled  bool
	RedisAddr     string
	ConsumerGroup string
	Consumer      string
}

func NewStreamBackend(s StreamSettings) (StreamBackend, error) {
	if !s.RedisEnabled {
		ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, newWatermillLogger(log.Logger))
		return &goChannelBackend{ps: ps}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := newWatermillLogger(log.Logger)
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	group := s.ConsumerGroup
	if group == "" {
		group = "vibetune"
	}
	consumer := s.Consumer
	if consumer == "" {
		consumer = "vibetune-1"
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream subscriber")
	}
	return &redisBackend{pub: pub, sub: sub}, nil
}

type goChannelBackend struct {
	ps *gochannel.GoChannel
}

func (b *goChannelBackend) Publisher() message.Publisher   { return b.ps }
func (b *goChannelBackend) Subscriber() message.Subscriber { return b.ps }
func (b *goChannelBackend) Close() error                   { return b.ps.Close() }

type redisBackend struct {
	pub message.Publisher
	sub message.Subscriber
}

func (b *redisBackend) Publisher() message.Publisher   { return b.pub }
func (b *redisBackend) Subscriber() message.Subscriber { return b.sub }

func (b *redisBackend) Close() error {
	errPub := b.pub.Close()
	errSub := b.sub.Close()
	if errPub != nil {
		return errPub
	}
	return errSub
}

// watermillLogger bridges watermill's logging into zerolog.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: l.With().Str("component", "watermill").Logger()}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
