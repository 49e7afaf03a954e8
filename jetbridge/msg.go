package jetbridge

import "context"

// Msg is a single delivered message. Reply is the broker-supplied address
// acknowledgements for this message are sent to. Token is set on messages
// that travel through a Bridge (see Bridge.Builder).
type Msg struct {
	Payload []byte
	Header  map[string]string
	Reply   string
	Token   Token

	conn Conn
}

// Ack acknowledges the message directly, outside any consumer loop. Useful
// after returning Noreply from a handler. No-op for messages without a
// reply address.
func (m *Msg) Ack(ctx context.Context) error {
	if m.Reply == "" {
		return nil
	}
	if m.conn == nil {
		return ErrNoConn
	}
	return m.conn.Ack(ctx, m.Reply)
}

// Nack requests redelivery of the message.
func (m *Msg) Nack(ctx context.Context) error {
	if m.Reply == "" {
		return nil
	}
	if m.conn == nil {
		return ErrNoConn
	}
	return m.conn.Nack(ctx, m.Reply)
}

// Term abandons the message without redelivery.
func (m *Msg) Term(ctx context.Context) error {
	if m.Reply == "" {
		return nil
	}
	if m.conn == nil {
		return ErrNoConn
	}
	return m.conn.Term(ctx, m.Reply)
}

func (m Msg) String() string {
	return string(m.Payload)
}
