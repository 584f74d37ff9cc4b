package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"mmledger/internal/event"
)

// NATSOptions configure the JetStream consumer.
type NATSOptions struct {
	URL      string
	Stream   string
	Subject  string
	Consumer string
	AckWait  time.Duration
}

// NATS consumes JSON event records from a durable JetStream consumer.
type NATS struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	opts   NATSOptions
	logger zerolog.Logger
}

// DialNATS connects to the server and opens a JetStream context.
func DialNATS(opts NATSOptions, logger zerolog.Logger) (*NATS, error) {
	logger = logger.With().Str("component", "nats_source").Logger()
	nc, err := nats.Connect(opts.URL,
		nats.Name("mmledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &NATS{conn: nc, js: js, opts: opts, logger: logger}, nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}

// Run delivers messages to handle until ctx is cancelled. A message is
// acked only after handle succeeds and nak'd otherwise, so JetStream
// redelivers it. Records that cannot be decoded are terminated.
func (n *NATS) Run(ctx context.Context, handle Handler) error {
	ackWait := n.opts.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}

	consumer, err := n.js.CreateOrUpdateConsumer(ctx, n.opts.Stream, jetstream.ConsumerConfig{
		Durable:       n.opts.Consumer,
		FilterSubject: n.opts.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", n.opts.Consumer, err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("open message iterator: %w", err)
	}
	defer iter.Stop()

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	n.logger.Info().Str("stream", n.opts.Stream).Str("consumer", n.opts.Consumer).Msg("consuming events")
	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("next message: %w", err)
		}
		n.deliver(ctx, msg, handle)
	}
}

func (n *NATS) deliver(ctx context.Context, msg jetstream.Msg, handle Handler) {
	ev, err := event.Decode(msg.Data())
	if err != nil {
		n.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("undecodable event record terminated")
		if err := msg.Term(); err != nil {
			n.logger.Warn().Err(err).Msg("term failed")
		}
		return
	}

	if err := handle(ctx, ev); err != nil {
		n.logger.Error().Err(err).Str("event", ev.Key()).Msg("event failed; requesting redelivery")
		if err := msg.Nak(); err != nil {
			n.logger.Warn().Err(err).Msg("nak failed")
		}
		return
	}
	if err := msg.Ack(); err != nil {
		n.logger.Warn().Err(err).Str("event", ev.Key()).Msg("ack failed")
	}
}
