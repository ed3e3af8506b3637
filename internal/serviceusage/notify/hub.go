// Package notify fans ingested events out to in-process subscribers keyed
// by payload discriminator, replacing polling for downstream pipelines.
package notify

import (
	"errors"
	"strings"
	"sync"

	"github.com/octue/twined-server/internal/serviceusage/domain"
)

// StreamUnknown receives events whose discriminator was not recognised, so
// operators can detect schema drift without losing data.
const StreamUnknown = "unknown"

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// Notification carries one persisted event to subscribers.
type Notification struct {
	Event *domain.ServiceUsageEvent

	// Discriminator is the raw payload discriminator, also for events
	// delivered on the unknown stream.
	Discriminator string
}

// Hub is an in-process observer registry. Publish never blocks: best-effort
// subscribers drop notifications when their channel is full, lossless
// subscribers queue them without bound instead.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Notification
	subs   map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	ch       chan Notification
	lossless bool

	// queue holds notifications awaiting the pump goroutine of a lossless
	// subscriber. Unused for best-effort subscribers.
	mu    sync.Mutex
	queue []Notification
	wake  chan struct{}
	done  chan struct{}
}

func (s *subscriber) deliver(n Notification) {
	if !s.lossless {
		select {
		case s.ch <- n:
		default:
		}
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, n)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued notifications onto the channel in order, blocking on
// the receiver rather than dropping.
func (s *subscriber) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			n := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.ch <- n:
			case <-s.done:
				return
			}
		}
	}
}

// Subscription is one subscriber's handle on a discriminator stream.
type Subscription struct {
	hub  *Hub
	name string
	id   uint64
	sub  *subscriber
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(discriminator string, n Notification) {
	if h == nil {
		return
	}
	name := strings.TrimSpace(discriminator)
	if name == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[name]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, n)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]*subscriber, 0, len(stream.subs))
	for _, sub := range stream.subs {
		subs = append(subs, sub)
	}
	stream.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(n)
	}
}

// Subscribe registers a best-effort subscriber for one discriminator
// stream and returns the recent buffer so late subscribers can catch up.
// Notifications published while the subscriber's channel is full are
// dropped.
func (h *Hub) Subscribe(discriminator string) (*Subscription, []Notification, error) {
	return h.subscribe(discriminator, false)
}

// SubscribeLossless registers a subscriber that never misses a
// notification: deliveries queue without bound until the subscriber drains
// them. Use it when the subscriber updates durable state off the stream.
func (h *Hub) SubscribeLossless(discriminator string) (*Subscription, []Notification, error) {
	return h.subscribe(discriminator, true)
}

func (h *Hub) subscribe(discriminator string, lossless bool) (*Subscription, []Notification, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	name := strings.TrimSpace(discriminator)
	if name == "" {
		return nil, nil, errors.New("invalid_discriminator")
	}

	stream := h.ensureStream(name)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]*subscriber)
	}
	id := stream.nextID
	stream.nextID++
	sub := &subscriber{
		ch:       make(chan Notification, h.subscriberBuffer),
		lossless: lossless,
	}
	if lossless {
		sub.wake = make(chan struct{}, 1)
		sub.done = make(chan struct{})
		go sub.pump()
	}
	stream.subs[id] = sub
	buffer := append([]Notification(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:  h,
		name: name,
		id:   id,
		sub:  sub,
	}, buffer, nil
}

func (h *Hub) ensureStream(name string) *stream {
	h.mu.RLock()
	current := h.streams[name]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[name]
	if current == nil {
		current = &stream{subs: make(map[uint64]*subscriber)}
		h.streams[name] = current
	}
	return current
}

func (h *Hub) unsubscribe(name string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	stream := h.streams[name]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[name]
	if current == stream {
		stream.mu.Lock()
		if len(stream.subs) == 0 {
			delete(h.streams, name)
		}
		stream.mu.Unlock()
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan Notification {
	if s == nil {
		return nil
	}
	return s.sub.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		if s.sub.done != nil {
			close(s.sub.done)
		}
		s.hub.unsubscribe(s.name, s.id)
	})
}
