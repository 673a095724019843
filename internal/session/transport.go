package session

import "context"

// Reporter receives connected-client counts from a bound transport.
// Counts are absolute, not deltas; the controller keeps the latest one.
type Reporter interface {
	SetClients(n int)
}

// BindOptions carries everything a transport needs to come up for one
// session.
type BindOptions struct {
	// Port is the TCP port to listen on.
	Port int

	// Code is the pairing code browsers must present before their key
	// events are accepted.
	Code string

	// Reporter receives client-count updates for this session only.
	Reporter Reporter
}

// Handle is a running transport.
type Handle interface {
	// Shutdown stops the transport and releases its port before returning.
	Shutdown(ctx context.Context) error

	// Done delivers an error if the transport's run loop dies on its own.
	// It is closed without a value after a clean Shutdown.
	Done() <-chan error
}

// Transport is the keyboard-forwarding capability the controller starts and
// stops. Bind must either return a listening handle or an error with nothing
// left bound.
type Transport interface {
	Bind(opts BindOptions) (Handle, error)
}

// CodeSource issues pairing codes. auth.CodeGenerator satisfies it.
type CodeSource interface {
	Generate() (string, error)
}
