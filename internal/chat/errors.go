package chat

import "errors"

var (
	// ErrEmptyMessage rejects sends whose text is blank after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrSendInFlight rejects a send while a previous one is unresolved.
	ErrSendInFlight = errors.New("chat: a send is already in flight")

	// ErrTrialExhausted reports that the free message allowance is spent.
	ErrTrialExhausted = errors.New("chat: trial limit reached")

	// ErrNoSession reports an operation that needs a bound session.
	ErrNoSession = errors.New("chat: no session bound")
)
