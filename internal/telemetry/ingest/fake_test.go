package ingest

import (
	"context"
	"errors"
	"sync"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

type published struct {
	topic   string
	payload []byte
	qos     byte
}

type fakeConn struct {
	mu        sync.Mutex
	filters   []string
	published []published
	subErr    error
	err       error
	done      chan struct{}
	once      sync.Once
	onMessage MessageFunc
}

func (c *fakeConn) Subscribe(ctx context.Context, filters []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.filters = append(c.filters, filters...)
	return nil
}

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, payload: payload, qos: qos})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates a lost connection.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) deliver(topic, payload string) {
	c.onMessage(topic, []byte(payload))
}

// fakeDialer fails the first `fail` dials (all of them when fail < 0).
type fakeDialer struct {
	mu    sync.Mutex
	fail  int
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, onMessage MessageFunc) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail < 0 || d.dials <= d.fail {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{done: make(chan struct{}), onMessage: onMessage}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeHub struct {
	mu     sync.Mutex
	events []domain.Event
}

func (h *fakeHub) BroadcastEvent(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHub) all() []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Event(nil), h.events...)
}

type fakeStore struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	calls  chan domain.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(chan domain.Event, 16)}
}

func (s *fakeStore) Persist(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.calls <- ev
	return s.err
}

func (s *fakeStore) Emit(ctx context.Context, ev domain.Event) error {
	return s.Persist(ctx, ev)
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
