package jetbridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetbridge-io/jetbridge-go/jetbridge"
)

type fakeConn struct {
	mu             sync.Mutex
	subscribeErr   error
	subscribeCalls int
	ackErr         error
	nackErr        error

	acks  []string
	nacks []string
	terms []string

	msgs chan jetbridge.Msg
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan jetbridge.Msg, 16)}
}

func (f *fakeConn) Subscribe(stream, consumer string) (jetbridge.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return &fakeSub{msgs: f.msgs}, nil
}

func (f *fakeConn) Ack(_ context.Context, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, reply)
	return nil
}

func (f *fakeConn) Nack(_ context.Context, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nackErr != nil {
		return f.nackErr
	}
	f.nacks = append(f.nacks, reply)
	return nil
}

func (f *fakeConn) Term(_ context.Context, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, reply)
	return nil
}

func (f *fakeConn) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeConn) acked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acks...)
}

func (f *fakeConn) nacked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.nacks...)
}

func (f *fakeConn) termed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terms...)
}

type fakeSub struct {
	msgs chan jetbridge.Msg
}

func (s *fakeSub) Next(ctx context.Context) (jetbridge.Msg, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			return jetbridge.Msg{}, errors.New("subscription ended")
		}
		return m, nil
	case <-ctx.Done():
		return jetbridge.Msg{}, ctx.Err()
	}
}

func (s *fakeSub) Unsubscribe() error {
	return nil
}

type verdictHandler struct {
	initErr error
	verdict func(m jetbridge.Msg) jetbridge.Verdict
	handled chan jetbridge.Msg
}

func (h *verdictHandler) Init(arg any) (any, error) {
	if h.initErr != nil {
		return nil, h.initErr
	}
	return arg, nil
}

func (h *verdictHandler) HandleMessage(m jetbridge.Msg, state any) (jetbridge.Verdict, any) {
	if h.handled != nil {
		h.handled <- m
	}
	v := jetbridge.Ack
	if h.verdict != nil {
		v = h.verdict(m)
	}
	return v, state
}

func TestStartReachesReady(t *testing.T) {
	fc := newFakeConn()

	c, err := jetbridge.Start(&verdictHandler{}, nil, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		return c.Phase() == jetbridge.Ready
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()
	assert.Equal(t, jetbridge.Stopped, c.Phase())
	assert.NoError(t, c.Err())
}

func TestStartRequiredOptions(t *testing.T) {
	fc := newFakeConn()

	tests := []struct {
		name string
		conf jetbridge.Config
		want error
	}{
		{"missing conn", jetbridge.Config{Stream: "ORDERS", Consumer: "workers"}, jetbridge.ErrNoConn},
		{"missing stream", jetbridge.Config{Conn: fc, Consumer: "workers"}, jetbridge.ErrEmptyStream},
		{"missing consumer", jetbridge.Config{Conn: fc, Stream: "ORDERS"}, jetbridge.ErrEmptyConsumer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jetbridge.Start(&verdictHandler{}, nil, tt.conf)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// No connection attempt may have been made for any of them.
	assert.Equal(t, 0, fc.calls())
}

func TestStartInitError(t *testing.T) {
	fc := newFakeConn()

	t.Run("failure", func(t *testing.T) {
		h := &verdictHandler{initErr: errors.New("bad init arg")}
		_, err := jetbridge.Start(h, nil, jetbridge.Config{Conn: fc, Stream: "s", Consumer: "c"})
		assert.Error(t, err)
	})

	t.Run("ignore", func(t *testing.T) {
		h := &verdictHandler{initErr: jetbridge.ErrIgnore}
		_, err := jetbridge.Start(h, nil, jetbridge.Config{Conn: fc, Stream: "s", Consumer: "c"})
		assert.ErrorIs(t, err, jetbridge.ErrIgnore)
	})

	assert.Equal(t, 0, fc.calls())
}

func TestConnectRetriesExhausted(t *testing.T) {
	fc := newFakeConn()
	fc.subscribeErr = errors.New("broker down")

	const (
		maxRetries = 3
		delay      = 20 * time.Millisecond
	)

	start := time.Now()
	c, err := jetbridge.Start(&verdictHandler{}, nil, jetbridge.Config{
		Conn:       fc,
		Stream:     "ORDERS",
		Consumer:   "workers",
		RetryDelay: delay,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}

	// Initial attempt plus exactly maxRetries retries, spaced by the delay.
	assert.Equal(t, maxRetries+1, fc.calls())
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(maxRetries)*delay)
	assert.Equal(t, jetbridge.Failed, c.Phase())
	assert.ErrorIs(t, c.Err(), jetbridge.ErrRetriesExhausted)
}

func TestCloseDuringRetryDelay(t *testing.T) {
	fc := newFakeConn()
	fc.subscribeErr = errors.New("broker down")

	c, err := jetbridge.Start(&verdictHandler{}, nil, jetbridge.Config{
		Conn:       fc,
		Stream:     "ORDERS",
		Consumer:   "workers",
		RetryDelay: 1 * time.Second,
		MaxRetries: 10,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fc.calls() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	c.Close()

	// Close interrupted the pending delay instead of waiting it out.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.LessOrEqual(t, fc.calls(), 2)
	assert.Equal(t, jetbridge.Stopped, c.Phase())
	assert.NoError(t, c.Err())
}

func TestCloseIdempotent(t *testing.T) {
	fc := newFakeConn()

	c, err := jetbridge.Start(&verdictHandler{}, nil, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	c.Close()

	assert.Equal(t, jetbridge.Stopped, c.Phase())
}

func TestVerdictDispatch(t *testing.T) {
	fc := newFakeConn()
	h := &verdictHandler{
		handled: make(chan jetbridge.Msg, 8),
		verdict: func(m jetbridge.Msg) jetbridge.Verdict {
			switch string(m.Payload) {
			case "nack":
				return jetbridge.Nack
			case "noreply":
				return jetbridge.Noreply
			default:
				return jetbridge.Ack
			}
		},
	}

	c, err := jetbridge.Start(h, nil, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)
	defer c.Close()

	fc.msgs <- jetbridge.Msg{Payload: []byte("ack"), Reply: "r1"}
	fc.msgs <- jetbridge.Msg{Payload: []byte("nack"), Reply: "r2"}
	fc.msgs <- jetbridge.Msg{Payload: []byte("noreply"), Reply: "r3"}

	for i := 0; i < 3; i++ {
		select {
		case <-h.handled:
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled")
		}
	}

	assert.Eventually(t, func() bool {
		return len(fc.acked()) == 1 && len(fc.nacked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"r1"}, fc.acked())
	assert.Equal(t, []string{"r2"}, fc.nacked())
	assert.Empty(t, fc.termed())
}

func TestAckDispatchFailureKeepsSessionAlive(t *testing.T) {
	fc := newFakeConn()
	fc.ackErr = errors.New("conn reset")

	h := &verdictHandler{handled: make(chan jetbridge.Msg, 8)}
	c, err := jetbridge.Start(h, nil, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)
	defer c.Close()

	fc.msgs <- jetbridge.Msg{Payload: []byte("a"), Reply: "r1"}
	fc.msgs <- jetbridge.Msg{Payload: []byte("b"), Reply: "r2"}

	// Both messages keep flowing even though every ack call fails.
	for i := 0; i < 2; i++ {
		select {
		case <-h.handled:
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled")
		}
	}

	assert.Equal(t, jetbridge.Ready, c.Phase())
	assert.NoError(t, c.Err())
}

func TestUserStateThreading(t *testing.T) {
	fc := newFakeConn()
	seen := make(chan int, 8)

	h := &countingHandler{seen: seen}
	c, err := jetbridge.Start(h, 0, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		fc.msgs <- jetbridge.Msg{Payload: []byte("m"), Reply: "r"}
	}

	for want := 0; want < 3; want++ {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled")
		}
	}
}

// countingHandler threads an int counter through the session state.
type countingHandler struct {
	seen chan int
}

func (h *countingHandler) Init(arg any) (any, error) {
	return arg, nil
}

func (h *countingHandler) HandleMessage(_ jetbridge.Msg, state any) (jetbridge.Verdict, any) {
	n := state.(int)
	h.seen <- n
	return jetbridge.Ack, n + 1
}

func TestSubscriptionEndStopsSession(t *testing.T) {
	fc := newFakeConn()

	c, err := jetbridge.Start(&verdictHandler{}, nil, jetbridge.Config{
		Conn:     fc,
		Stream:   "ORDERS",
		Consumer: "workers",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Phase() == jetbridge.Ready
	}, 2*time.Second, 10*time.Millisecond)

	close(fc.msgs)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	assert.Equal(t, jetbridge.Stopped, c.Phase())
	assert.Error(t, c.Err())
}
