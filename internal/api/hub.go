// Package api serves the lifelog history over HTTP.
package api

import (
	"log/slog"
	"sync"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
)

const (
	defaultSubscriberBufferSize = 16
	defaultBroadcastBufferSize  = 64
)

// Subscriber receives history changes for one stream client.
type Subscriber struct {
	changes chan *history.Change
	done    chan struct{}
}

func newSubscriber(size int) *Subscriber {
	return &Subscriber{
		changes: make(chan *history.Change, size),
		done:    make(chan struct{}),
	}
}

// Changes is closed together with Done.
func (s *Subscriber) Changes() <-chan *history.Change { return s.changes }

// Done is closed once the subscriber has been removed from the Hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	close(s.done)
	close(s.changes)
}

// offer hands c to the subscriber unless its buffer is full.
func (s *Subscriber) offer(c *history.Change) bool {
	select {
	case s.changes <- c:
		return true
	default:
		return false
	}
}

// Hub fans history changes out to stream subscribers. The subscriber set is
// owned by the Run goroutine; everything else talks to it over channels.
type Hub struct {
	joins    chan *Subscriber
	leaves   chan *Subscriber
	changes  chan *history.Change
	quit     chan struct{}
	finished chan struct{}
	quitOnce sync.Once

	bufSize int
	logger  *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubSubscriberBufferSize sets how many changes a slow subscriber may
// fall behind before changes are dropped for it.
func WithHubSubscriberBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufSize = size
		}
	}
}

// WithHubLogger sets the logger for the Hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a Hub. Run must be started before it delivers anything.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		joins:    make(chan *Subscriber),
		leaves:   make(chan *Subscriber),
		changes:  make(chan *history.Change, defaultBroadcastBufferSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		bufSize:  defaultSubscriberBufferSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the subscriber set until Stop is called.
func (h *Hub) Run() {
	subs := make(map[*Subscriber]struct{})
	defer close(h.finished)

	gauge := func() { metrics.StreamSubscribers.Set(float64(len(subs))) }
	defer metrics.StreamSubscribers.Set(0)

	for {
		select {
		case s := <-h.joins:
			subs[s] = struct{}{}
			gauge()
			h.logger.Debug("stream subscriber joined", "subscribers", len(subs))

		case s := <-h.leaves:
			if _, ok := subs[s]; !ok {
				continue
			}
			delete(subs, s)
			s.close()
			gauge()
			h.logger.Debug("stream subscriber left", "subscribers", len(subs))

		case c := <-h.changes:
			dropped := 0
			for s := range subs {
				if !s.offer(c) {
					dropped++
				}
			}
			if dropped > 0 {
				h.logger.Warn("slow stream subscribers skipped a change", "type", c.Type, "skipped", dropped)
			}

		case <-h.quit:
			for s := range subs {
				s.close()
			}
			return
		}
	}
}

// Stop shuts the Hub down and closes every subscriber. Safe to call more
// than once and from several goroutines.
func (h *Hub) Stop() {
	h.quitOnce.Do(func() { close(h.quit) })
	<-h.finished
}

// Subscribe adds a subscriber; the caller releases it with Unsubscribe.
// Once the Hub has stopped the returned subscriber is already closed.
func (h *Hub) Subscribe() *Subscriber {
	s := newSubscriber(h.bufSize)
	select {
	case h.joins <- s:
	case <-h.finished:
		s.close()
	}
	return s
}

// Unsubscribe removes s. A nil or unknown subscriber is ignored.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	select {
	case h.leaves <- s:
	case <-h.finished:
	}
}

// Publish queues c for delivery without blocking the caller. A nil change
// is ignored and a full queue drops c.
func (h *Hub) Publish(c *history.Change) {
	if c == nil {
		return
	}
	select {
	case h.changes <- c:
	case <-h.finished:
	default:
		h.logger.Warn("stream queue full, change dropped", "type", c.Type)
	}
}

// PublishChange adapts Publish to the coordinator's by-value change hook.
func (h *Hub) PublishChange(c history.Change) {
	h.Publish(&c)
}
