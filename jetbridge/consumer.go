package jetbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is where a consumer session currently is. Stopped and Failed are
// terminal; Failed is reachable only from Connecting.
type Phase int32

const (
	Connecting Phase = iota
	Ready
	Closing
	Stopped
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// PullConsumer owns one pull-consumer session: it subscribes with bounded
// fixed-delay retries, pulls messages one at a time, hands each to the
// handler and turns the verdict into at most one acknowledgement call.
// All session state is owned by a single goroutine; Close is the only
// operation that may be issued concurrently with the loop.
type PullConsumer struct {
	conf   Config
	policy RetryPolicy
	h      Handler
	state  any // user state, owned by the run goroutine

	phase atomic.Int32

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}

	errMu sync.Mutex
	err   error

	metrics *Metrics
	l       *slog.Logger
}

// Start validates conf, runs h.Init and spawns the session. It returns as
// soon as the session is connecting; use Phase or Done to observe progress.
func Start(h Handler, arg any, conf Config, opts ...Option) (*PullConsumer, error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	state, err := h.Init(arg)
	if err != nil {
		return nil, fmt.Errorf("init handler: %w", err)
	}

	c := &PullConsumer{
		conf:    conf,
		policy:  RetryPolicy{Delay: conf.RetryDelay},
		h:       h,
		state:   state,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		l:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.l = c.l.With("stream", conf.Stream, "consumer", conf.Consumer)

	c.phase.Store(int32(Connecting))
	go c.run()

	return c, nil
}

func (c *PullConsumer) Phase() Phase {
	return Phase(c.phase.Load())
}

// Done is closed once the session reached Stopped or Failed.
func (c *PullConsumer) Done() <-chan struct{} {
	return c.doneCh
}

// Err reports why the session ended. Nil after a normal close.
func (c *PullConsumer) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *PullConsumer) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Close requests teardown and blocks until the session stopped. Safe to
// call from any goroutine, in any phase, any number of times. It
// interrupts a pending retry delay and a pull in progress.
func (c *PullConsumer) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	<-c.doneCh
}

func (c *PullConsumer) run() {
	defer close(c.doneCh)

	sub, err := c.connect()
	if err != nil {
		if errors.Is(err, ErrConsumerClosed) {
			c.phase.Store(int32(Stopped))
			return
		}
		c.setErr(err)
		c.l.Error("connect", "err", err)
		c.phase.Store(int32(Failed))
		return
	}

	c.phase.Store(int32(Ready))
	c.l.Debug("consumer ready")

	if err := c.pullLoop(sub); err != nil {
		c.setErr(err)
		c.l.Error("pull loop", "err", err)
	}

	c.phase.Store(int32(Closing))
	if err := sub.Unsubscribe(); err != nil {
		c.l.Error("unsubscribe", "err", err)
	}
	c.phase.Store(int32(Stopped))
}

func (c *PullConsumer) connect() (Subscription, error) {
	remaining := c.conf.MaxRetries

	for {
		select {
		case <-c.closeCh:
			return nil, ErrConsumerClosed
		default:
		}

		sub, err := c.conf.Conn.Subscribe(c.conf.Stream, c.conf.Consumer)
		if err == nil {
			return sub, nil
		}

		delay, retry := c.policy.Decide(remaining)
		if !retry {
			return nil, fmt.Errorf("subscribe: %w: %w", err, ErrRetriesExhausted)
		}
		remaining--

		c.metrics.recordRetry()
		c.l.Error("subscribe, retrying", "err", err, "delay", delay, "remaining", remaining)

		t := time.NewTimer(delay)
		select {
		case <-c.closeCh:
			t.Stop()
			return nil, ErrConsumerClosed
		case <-t.C:
		}
	}
}

func (c *PullConsumer) pullLoop(sub Subscription) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-c.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next: %w", err)
		}
		msg.conn = c.conf.Conn

		start := time.Now()
		verdict, state := c.h.HandleMessage(msg, c.state)
		c.state = state
		c.metrics.recordHandled(verdict, time.Since(start))

		c.dispatch(ctx, verdict, msg)

		select {
		case <-c.closeCh:
			return nil
		default:
		}
	}
}

func (c *PullConsumer) dispatch(ctx context.Context, v Verdict, msg Msg) {
	var (
		action AckAction
		err    error
	)

	switch v {
	case Ack:
		action = ActionAck
		err = c.conf.Conn.Ack(ctx, msg.Reply)
	case Nack:
		action = ActionNack
		err = c.conf.Conn.Nack(ctx, msg.Reply)
	case Noreply:
		return
	default:
		c.l.Error("unknown verdict, message left unacknowledged", "verdict", uint8(v))
		return
	}

	c.metrics.recordDispatch(action, err)
	if err != nil {
		// Best-effort: the broker redelivers unacknowledged messages, so a
		// failed call is logged, not fatal.
		c.l.Error("dispatch "+action.String(), "err", err, "reply", msg.Reply)
	}
}
