package ingest

import "context"

// MessageFunc receives one inbound message. It is called on the transport's
// delivery goroutine, one message at a time.
type MessageFunc func(topic string, payload []byte)

// Dialer opens broker connections. Each reconnect attempt calls Dial again.
type Dialer interface {
	Dial(ctx context.Context, onMessage MessageFunc) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	// Subscribe subscribes to filters at QoS 1.
	Subscribe(ctx context.Context, filters []string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	// Err returns the reason the connection was lost, if any.
	Err() error
	// Close disconnects gracefully. Safe to call more than once.
	Close() error
}
