package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/patchfield"
	backend "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChannel is the pub/sub channel events are published on.
	DefaultChannel = "patchfield:events"

	defaultQueueSize   = 256
	defaultTimeout     = time.Second
	defaultMaxFailures = 5
)

var (
	// ErrPublisherClosed indicates delivery to a closed publisher.
	ErrPublisherClosed = errors.New("redis publisher closed")

	// ErrQueueFull indicates that the publish queue is saturated.
	ErrQueueFull = errors.New("redis publish queue full")
)

// Envelope is the JSON message published for every event.
type Envelope struct {
	Instance  string           `json:"instance"`
	Sequence  uint64           `json:"sequence"`
	Timestamp time.Time        `json:"timestamp"`
	Event     patchfield.Event `json:"event"`
}

// RedisOption customizes a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) RedisOption {
	return func(p *RedisPublisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// WithInstance sets the instance id stamped on every envelope.
func WithInstance(id string) RedisOption {
	return func(p *RedisPublisher) {
		if id != "" {
			p.instance = id
		}
	}
}

// WithPublishTimeout bounds each PUBLISH round trip.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(p *RedisPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxFailures sets how many consecutive publish failures make the
// publisher report itself dead, so that the service prunes it.
func WithMaxFailures(n int32) RedisOption {
	return func(p *RedisPublisher) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithQueueSize sets how many events may wait for publishing before further
// events are dropped with ErrQueueFull.
func WithQueueSize(n int) RedisOption {
	return func(p *RedisPublisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// RedisPublisher publishes graph events to a Redis channel. Observer callbacks
// only enqueue; a background goroutine performs the network I/O, so a slow or
// unreachable server never stalls the control plane.
//
// Sequence numbers count accepted events: an event dropped at a full queue
// takes no number, so a gap seen by a subscriber means a failed PUBLISH.
type RedisPublisher struct {
	*patchfield.EventObserver

	client      *backend.Client
	channel     string
	instance    string
	timeout     time.Duration
	maxFailures int32
	queueSize   int

	sequence atomic.Uint64
	failures atomic.Int32
	closed   atomic.Bool

	// mu orders enqueue against Close and keeps sequence numbers contiguous.
	mu    sync.Mutex
	queue chan Envelope
	done  chan struct{}
}

// NewRedisPublisher starts a publisher on client. Close stops it; the client
// stays owned by the caller.
func NewRedisPublisher(client *backend.Client, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		client:      client,
		channel:     DefaultChannel,
		instance:    uuid.NewString(),
		timeout:     defaultTimeout,
		maxFailures: defaultMaxFailures,
		queueSize:   defaultQueueSize,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan Envelope, p.queueSize)
	p.EventObserver = patchfield.NewEventObserver(p.enqueue)
	go p.run()

	logrus.WithFields(logrus.Fields{
		"function": "NewRedisPublisher",
		"channel":  p.channel,
		"instance": p.instance,
	}).Info("Redis publisher started")
	return p
}

// Instance returns the id stamped on published envelopes.
func (p *RedisPublisher) Instance() string { return p.instance }

// Alive implements patchfield.Liveness.
func (p *RedisPublisher) Alive() bool {
	return !p.closed.Load() && p.failures.Load() < p.maxFailures
}

func (p *RedisPublisher) enqueue(e patchfield.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	env := Envelope{
		Instance:  p.instance,
		Sequence:  p.sequence.Load() + 1,
		Timestamp: time.Now().UTC(),
		Event:     e,
	}
	select {
	case p.queue <- env:
		p.sequence.Store(env.Sequence)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for env := range p.queue {
		if err := p.publish(env); err != nil {
			n := p.failures.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"channel":  p.channel,
				"sequence": env.Sequence,
				"failures": n,
				"error":    err.Error(),
			}).Warn("Failed to publish event")
			continue
		}
		p.failures.Store(0)
	}
}

func (p *RedisPublisher) publish(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Close drains queued events and stops the publisher. It is idempotent.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"channel":  p.channel,
	}).Info("Redis publisher stopped")
	return nil
}
