package jetbridge

// Verdict is what a handler decided about a message.
type Verdict uint8

const (
	// Ack confirms the message and prevents redelivery.
	Ack Verdict = iota
	// Nack asks the broker to redeliver the message.
	Nack
	// Noreply sends nothing. The caller is expected to acknowledge the
	// message later, either via Msg.Ack or through a Bridge.
	Noreply
)

func (v Verdict) String() string {
	switch v {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	case Noreply:
		return "noreply"
	default:
		return "unknown"
	}
}

// Handler is the user module driving a consumer session.
//
// Init runs once before the session connects; the state it returns is
// threaded through every HandleMessage call. Returning an error aborts
// Start (return ErrIgnore to abort without reporting a failure).
//
// HandleMessage is invoked once per pulled message, never concurrently
// within a session. A panicking HandleMessage is a session fault and is
// deliberately not recovered here; restart policy belongs to the host.
type Handler interface {
	Init(arg any) (state any, err error)
	HandleMessage(msg Msg, state any) (Verdict, any)
}
