// Package natsjs implements the jetbridge broker connection over NATS
// JetStream. Pull delivery uses a durable pull consumer bound to a stream;
// acknowledgements are published straight to the message reply subject, so
// they stay fire-and-forget.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jetbridge-io/jetbridge-go/jetbridge"
)

var (
	ErrConnClosed = errors.New("connection closed")

	ackBody  = []byte("+ACK")
	nackBody = []byte("-NAK")
	termBody = []byte("+TERM")
)

const DefaultFetchWait = 5 * time.Second

type Conn struct {
	nc *nats.Conn
	js nats.JetStreamContext

	fetchWait time.Duration
	closed    atomic.Bool

	l *slog.Logger
}

var _ jetbridge.Conn = (*Conn)(nil)

type Option func(c *Conn)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.l = l
	}
}

// WithFetchWait bounds a single pull request on the wire. Next keeps
// re-issuing pulls until a message arrives or its context ends, so this
// only caps how long one round trip may idle.
func WithFetchWait(d time.Duration) Option {
	return func(c *Conn) {
		c.fetchWait = d
	}
}

func Connect(url string, natsOpts []nats.Option, opts ...Option) (*Conn, error) {
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	c := &Conn{
		nc:        nc,
		js:        js,
		fetchWait: DefaultFetchWait,
		l:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.nc.Close()
}

func (c *Conn) Subscribe(stream, consumer string) (jetbridge.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	sub, err := c.js.PullSubscribe("", "", nats.Bind(stream, consumer))
	if err != nil {
		return nil, fmt.Errorf("nats: pull subscribe %s/%s: %w", stream, consumer, err)
	}

	c.l.Debug("pull subscription bound", "stream", stream, "consumer", consumer)

	return &subscription{c: c, sub: sub}, nil
}

func (c *Conn) Ack(ctx context.Context, reply string) error {
	return c.publishAck(ctx, reply, ackBody)
}

func (c *Conn) Nack(ctx context.Context, reply string) error {
	return c.publishAck(ctx, reply, nackBody)
}

func (c *Conn) Term(ctx context.Context, reply string) error {
	return c.publishAck(ctx, reply, termBody)
}

func (c *Conn) publishAck(ctx context.Context, reply string, body []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.nc.Publish(reply, body); err != nil {
		return fmt.Errorf("nats: publish %s: %w", reply, err)
	}

	return nil
}

type subscription struct {
	c   *Conn
	sub *nats.Subscription
}

func (s *subscription) Next(ctx context.Context) (jetbridge.Msg, error) {
	for {
		if err := ctx.Err(); err != nil {
			return jetbridge.Msg{}, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.c.fetchWait)
		msgs, err := s.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()

		switch {
		case err == nil && len(msgs) > 0:
			return convertMsg(msgs[0]), nil
		case err == nil:
			continue
		case ctx.Err() != nil:
			return jetbridge.Msg{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			// Empty pull window, ask again.
			continue
		default:
			return jetbridge.Msg{}, fmt.Errorf("nats: fetch: %w", err)
		}
	}
}

func (s *subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats: unsubscribe: %w", err)
	}
	return nil
}

func convertMsg(m *nats.Msg) jetbridge.Msg {
	var header map[string]string
	if len(m.Header) > 0 {
		header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			header[k] = m.Header.Get(k)
		}
	}

	return jetbridge.Msg{
		Payload: m.Data,
		Header:  header,
		Reply:   m.Reply,
	}
}
