package jetbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nuid"
	"github.com/panjf2000/ants/v2"
)

// AckAction is an acknowledgement action a bridge performs on behalf of a
// batch processor.
type AckAction string

const (
	ActionAck  AckAction = "ack"
	ActionNack AckAction = "nack"
	ActionTerm AckAction = "term"
)

func (a AckAction) valid() bool {
	switch a {
	case ActionAck, ActionNack, ActionTerm:
		return true
	}
	return false
}

func (a AckAction) String() string {
	return string(a)
}

// AckRef identifies one registered bridge session. Refs are fresh per
// Register call and only ever resolve to the config stored with them.
type AckRef string

// AckConfig is how one bridge session acknowledges outcomes. Zero action
// values default to ack on success and nack on failure.
type AckConfig struct {
	Conn      Conn
	OnSuccess AckAction
	OnFailure AckAction
}

func (c *AckConfig) validateAndSetDefaults() error {
	if c.Conn == nil {
		return ErrNoConn
	}

	if c.OnSuccess == "" {
		c.OnSuccess = ActionAck
	}
	if c.OnFailure == "" {
		c.OnFailure = ActionNack
	}

	if !c.OnSuccess.valid() {
		return fmt.Errorf("on_success %q: %w", c.OnSuccess, ErrInvalidAckAction)
	}
	if !c.OnFailure.valid() {
		return fmt.Errorf("on_failure %q: %w", c.OnFailure, ErrInvalidAckAction)
	}

	return nil
}

// Token is the acknowledgement data attached to a message that leaves the
// consumer for an external batching layer. OnSuccess/OnFailure, when set,
// override the session config for this one message (see Configure).
type Token struct {
	Ref       AckRef
	Reply     string
	OnSuccess AckAction
	OnFailure AckAction
}

// Configure merges per-message overrides into tok. Recognized keys are
// "on_success" and "on_failure"; anything else, or an action outside
// ack/nack/term, is rejected and tok is returned unchanged.
func Configure(tok Token, overrides map[string]AckAction) (Token, error) {
	for k, v := range overrides {
		switch k {
		case "on_success", "on_failure":
		default:
			return tok, fmt.Errorf("%q: %w", k, ErrUnknownOverride)
		}
		if !v.valid() {
			return tok, fmt.Errorf("%s %q: %w", k, v, ErrInvalidAckAction)
		}
	}

	if v, ok := overrides["on_success"]; ok {
		tok.OnSuccess = v
	}
	if v, ok := overrides["on_failure"]; ok {
		tok.OnFailure = v
	}

	return tok, nil
}

const DefaultDispatchPoolSize = 16

// Bridge turns batched processing outcomes into acknowledgement calls. It
// resolves ack policy through an injected Store and fans dispatch out on a
// bounded worker pool; the pool is shared by every session registered on
// the bridge.
type Bridge struct {
	store *Store
	pool  *ants.Pool

	metrics *Metrics
	l       *slog.Logger
}

type BridgeOption func(o *bridgeOpts)

type bridgeOpts struct {
	poolSize int
	metrics  *Metrics
	l        *slog.Logger
}

func WithDispatchPoolSize(size int) BridgeOption {
	return func(o *bridgeOpts) {
		o.poolSize = size
	}
}

func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(o *bridgeOpts) {
		o.l = l
	}
}

func WithBridgeMetrics(m *Metrics) BridgeOption {
	return func(o *bridgeOpts) {
		o.metrics = m
	}
}

func NewBridge(store *Store, opts ...BridgeOption) (*Bridge, error) {
	if store == nil {
		return nil, errors.New("nil store")
	}

	o := bridgeOpts{
		poolSize: DefaultDispatchPoolSize,
		l:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	return &Bridge{
		store:   store,
		pool:    pool,
		metrics: o.metrics,
		l:       o.l,
	}, nil
}

// Close releases the dispatch pool. Pending Ack calls complete first.
func (b *Bridge) Close() {
	b.pool.Release()
}

// Register validates conf, mints a fresh ref and stores the config under
// it. The insert completes before the ref is returned, so a concurrent Ack
// caller can never observe a ref without its config.
func (b *Bridge) Register(conf AckConfig) (AckRef, error) {
	if err := conf.validateAndSetDefaults(); err != nil {
		return "", err
	}

	ref := AckRef(nuid.Next())
	b.store.put(ref, conf)

	return ref, nil
}

// Builder returns a constructor that stamps ref-carrying tokens onto
// outgoing messages. Pure value construction, no store lookup.
func (b *Bridge) Builder(ref AckRef) func(reply string) Token {
	return func(reply string) Token {
		return Token{Ref: ref, Reply: reply}
	}
}

// Ack performs the configured acknowledgement action for every message in
// both batches: OnSuccess for successful, OnFailure for failed, subject to
// per-message Token overrides. Dispatch is per-message independent and
// best-effort: individual network failures are collected into the returned
// error but never stop the rest of the batch. Ordering across messages is
// not guaranteed.
//
// An unregistered ref is a programming error and panics.
func (b *Bridge) Ack(ctx context.Context, ref AckRef, successful, failed []Msg) error {
	conf, ok := b.store.get(ref)
	if !ok {
		panic(fmt.Sprintf("jetbridge: ack ref %q not registered", ref))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	submit := func(m Msg, action AckAction) {
		reply := m.Reply
		if reply == "" {
			reply = m.Token.Reply
		}

		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()

			err := dispatchAction(ctx, conf.Conn, action, reply)
			b.metrics.recordDispatch(action, err)
			if err != nil {
				b.l.Error("dispatch "+action.String(), "err", err, "reply", reply)
				record(fmt.Errorf("%s %s: %w", action, reply, err))
			}
		})
		if err != nil {
			wg.Done()
			record(fmt.Errorf("submit dispatch: %w", err))
		}
	}

	for _, m := range successful {
		action := conf.OnSuccess
		if m.Token.OnSuccess != "" {
			action = m.Token.OnSuccess
		}
		submit(m, action)
	}
	for _, m := range failed {
		action := conf.OnFailure
		if m.Token.OnFailure != "" {
			action = m.Token.OnFailure
		}
		submit(m, action)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func dispatchAction(ctx context.Context, conn Conn, action AckAction, reply string) error {
	switch action {
	case ActionAck:
		return conn.Ack(ctx, reply)
	case ActionNack:
		return conn.Nack(ctx, reply)
	case ActionTerm:
		return conn.Term(ctx, reply)
	default:
		return fmt.Errorf("%q: %w", action, ErrInvalidAckAction)
	}
}
