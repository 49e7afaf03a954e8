package jetbridge

import "errors"

var (
	ErrNoConn        = errors.New("no connection")
	ErrEmptyStream   = errors.New("empty stream")
	ErrEmptyConsumer = errors.New("empty consumer")

	ErrConsumerClosed   = errors.New("consumer closed")
	ErrRetriesExhausted = errors.New("connect retries exhausted")

	ErrInvalidAckAction = errors.New("invalid ack action")
	ErrUnknownOverride  = errors.New("unknown override key")

	// ErrIgnore can be returned from Handler.Init to abort startup without
	// reporting a failure reason.
	ErrIgnore = errors.New("ignore start")
)
