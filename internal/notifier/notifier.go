// Package notifier fans out lifecycle events (opportunity detected,
// executed, rejected, partial fill, error) to any number of subscribers:
// the control-surface event stream, a JSON-lines file sink, and a
// Prometheus counter sink.
package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"arbengine/pkg/types"
)

var (
	eventCounter     = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbengine_notification_events_total",
		Help: "Count of lifecycle notification events by type.",
	}, []string{"type"})
	registerMetrics sync.Once
)

// subscriber is one registered consumer of the event stream.
type subscriber struct {
	ch chan types.NotificationEvent
}

// Hub broadcasts NotificationEvents to every subscriber's channel. A full
// subscriber buffer applies backpressure to Publish rather than dropping
// the event, so a stalled consumer surfaces as rising publish latency
// instead of silent data loss; Close unblocks any in-flight Publish calls
// during shutdown.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	logger      *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		logger:      logger.With("component", "notifier"),
		closed:      make(chan struct{}),
	}
}

// Close releases any Publish call currently blocked on a full subscriber
// buffer. Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// Subscribe registers a new consumer and returns its event channel plus an
// unsubscribe function. The channel is closed by Unsubscribe, never by
// Publish.
func (h *Hub) Subscribe(buffer int) (<-chan types.NotificationEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan types.NotificationEvent, buffer)}

	h.mu.Lock()
	h.subscribers[sub] = true
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if h.subscribers[sub] {
			delete(h.subscribers, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts evt to every current subscriber, blocking on a
// subscriber whose buffer is full until it drains or the hub is closed.
// The RLock is held for the whole broadcast so a concurrent Unsubscribe
// cannot close a channel out from under an in-flight send; Unsubscribe
// simply waits until Publish releases the lock (by finishing or by the
// hub being closed).
func (h *Hub) Publish(evt types.NotificationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.ch <- evt:
		case <-h.closed:
			return
		}
	}
}

// FileSink appends every published event to a JSON-lines file, one event
// per line, for offline replay and audit.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (creating if absent, appending otherwise) the file at
// path for JSON-lines event logging.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open notification log: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Write implements the sink side of a Hub subscription: call from a
// goroutine ranging over the subscribed channel.
func (s *FileSink) Write(evt types.NotificationEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(data, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}

// MetricsSink counts published events by type, for Prometheus scraping.
type MetricsSink struct{}

// NewMetricsSink registers (once per process, safe to call repeatedly in
// tests) the event counter and returns a sink that increments it.
func NewMetricsSink() *MetricsSink {
	registerMetrics.Do(func() {
		prometheus.MustRegister(eventCounter)
	})
	return &MetricsSink{}
}

// Write increments the counter for evt's type.
func (s *MetricsSink) Write(evt types.NotificationEvent) {
	eventCounter.WithLabelValues(string(evt.Type)).Inc()
}

// Run ranges over ch, dispatching every event to write, until ch is
// closed. Intended to be launched as its own goroutine per sink.
func Run(ch <-chan types.NotificationEvent, write func(types.NotificationEvent)) {
	for evt := range ch {
		write(evt)
	}
}
