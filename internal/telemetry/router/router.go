package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/platform/logging"
)

// Message is one inbound transport message as seen by a handler.
type Message struct {
	Topic string
	// Levels is owned by the receiving handler.
	Levels  []string
	Payload []byte
	// Pattern is the subscription pattern that matched.
	Pattern string
}

// Handler processes a routed message. A returned error or panic is logged
// and does not stop other handlers.
type Handler func(ctx context.Context, msg Message) error

type route struct {
	pattern  Pattern
	handlers map[uint64]Handler
}

// Router holds subscriptions keyed by pattern. Several handlers may share a
// pattern. Safe for concurrent use.
type Router struct {
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]*route
	nextID uint64
}

// New returns an empty Router.
func New(log *zap.Logger) *Router {
	return &Router{log: logging.OrNop(log), routes: make(map[string]*route)}
}

// Subscription is a handle to one registered handler.
type Subscription struct {
	router  *Router
	pattern string
	id      uint64
	once    sync.Once
}

// Pattern returns the pattern the handler was registered under.
func (s *Subscription) Pattern() string { return s.pattern }

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.router.remove(s.pattern, s.id) })
}

// Subscribe registers h under pattern. The pattern is compiled once per
// distinct pattern string.
func (r *Router) Subscribe(pattern string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("router: nil handler for %q", pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[pattern]
	if !ok {
		p, err := Compile(pattern)
		if err != nil {
			return nil, err
		}
		rt = &route{pattern: p, handlers: make(map[uint64]Handler)}
		r.routes[pattern] = rt
	}
	r.nextID++
	rt.handlers[r.nextID] = h
	return &Subscription{router: r, pattern: pattern, id: r.nextID}, nil
}

func (r *Router) remove(pattern string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[pattern]
	if !ok {
		return
	}
	delete(rt.handlers, id)
	if len(rt.handlers) == 0 {
		delete(r.routes, pattern)
	}
}

// Patterns returns the distinct patterns that currently have handlers, sorted.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type target struct {
	pattern string
	handler Handler
}

// Dispatch runs every handler whose pattern matches topic, synchronously on
// the calling goroutine, and returns how many ran. An invalid topic returns
// an apperr.Malformed error and runs nothing.
func (r *Router) Dispatch(ctx context.Context, topic string, payload []byte) (int, error) {
	levels, err := SplitTopic(topic)
	if err != nil {
		return 0, apperr.Wrap(apperr.Malformed, "malformed topic", err)
	}

	r.mu.RLock()
	var targets []target
	for raw, rt := range r.routes {
		if !rt.pattern.match(levels) {
			continue
		}
		for _, h := range rt.handlers {
			targets = append(targets, target{pattern: raw, handler: h})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		msg := Message{Topic: topic, Levels: slices.Clone(levels), Payload: payload, Pattern: t.pattern}
		if err := r.invoke(ctx, t.handler, msg); err != nil {
			r.log.Error("router: handler failed",
				zap.String("topic", topic),
				zap.String("pattern", t.pattern),
				zap.String("kind", apperr.HandlerFailure.String()),
				zap.Error(err),
			)
		}
	}
	return len(targets), nil
}

func (r *Router) invoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperr.Wrap(apperr.HandlerFailure, "handler panicked", fmt.Errorf("%v\n%s", p, debug.Stack()))
		}
	}()
	if err := h(ctx, msg); err != nil {
		return apperr.Wrap(apperr.HandlerFailure, "handler returned error", err)
	}
	return nil
}
