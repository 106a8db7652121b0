// Package accessevents publishes link access events to a RabbitMQ queue.
//
// Events are buffered in a bounded in-process queue and sent by a single
// worker on every tick, so a redirect never waits for the broker.
package accessevents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/models"
)

const (
	// DefaultQueue is the queue events go to unless configured otherwise.
	DefaultQueue = "link_access"

	DefaultChannelCapacity = 1024
	DefaultFlushInterval   = time.Second

	publishTimeout = 5 * time.Second
)

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher queues events and publishes them from a background worker.
// Send failures are reported through ListenErrors, never to the caller of Publish.
type Publisher struct {
	ch            channel
	queueName     string
	flushInterval time.Duration

	mu           sync.RWMutex
	closed       bool
	queue        chan models.AccessEvent
	errorChannel chan error
	done         chan struct{}
}

type initOptions struct {
	channelCapacity int
	flushInterval   time.Duration
}

// InitOption configures New.
type InitOption func(*initOptions)

// WithChannelCapacity bounds the number of events waiting to be sent.
func WithChannelCapacity(capacity int) InitOption {
	return func(options *initOptions) {
		if capacity > 0 {
			options.channelCapacity = capacity
		}
	}
}

// WithFlushInterval sets how often queued events are sent.
func WithFlushInterval(interval time.Duration) InitOption {
	return func(options *initOptions) {
		if interval > 0 {
			options.flushInterval = interval
		}
	}
}

// New declares the durable queue on ch and starts the worker.
func New(ch channel, queueName string, optionsProto ...InitOption) (*Publisher, error) {
	options := &initOptions{
		channelCapacity: DefaultChannelCapacity,
		flushInterval:   DefaultFlushInterval,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if queueName == "" {
		queueName = DefaultQueue
	}

	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("in internal/accessevents/accessevents.go/New(): error while `ch.QueueDeclare()` calling: %w", err)
	}

	p := &Publisher{
		ch:            ch,
		queueName:     queueName,
		flushInterval: options.flushInterval,
		queue:         make(chan models.AccessEvent, options.channelCapacity),
		errorChannel:  make(chan error, options.channelCapacity),
		done:          make(chan struct{}),
	}
	p.run()

	return p, nil
}

// ListenErrors calls callback for every failed send until the publisher is closed.
func (p *Publisher) ListenErrors(callback func(error)) {
	go func() {
		for err := range p.errorChannel {
			callback(err)
		}
	}()
}

// Publish queues event. When the queue is full or the publisher is closed the
// event is dropped.
func (p *Publisher) Publish(ctx context.Context, event models.AccessEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	select {
	case p.queue <- event:
	default:
		logger.Log.Infoln("access events queue is full, dropping event", "shortCode", event.ShortCode)
	}
}

func (p *Publisher) run() {
	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.flushInterval)
		defer ticker.Stop()

		var events []models.AccessEvent

		for {
			select {
			case event, ok := <-p.queue:
				if !ok {
					p.flush(events)
					return
				}
				events = append(events, event)
			case <-ticker.C:
				if len(events) == 0 {
					continue
				}
				p.flush(events)
				events = nil
			}
		}
	}()
}

func (p *Publisher) flush(events []models.AccessEvent) {
	sent := 0
	for _, event := range events {
		if err := p.send(event); err != nil {
			p.reportError(err)
			continue
		}
		sent++
	}

	if sent > 0 {
		logger.Log.Debugf("published %d access events", sent)
	}
}

func (p *Publisher) send(event models.AccessEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("in internal/accessevents/accessevents.go/send(): error while `json.Marshal()` calling: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.AccessedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("in internal/accessevents/accessevents.go/send(): error while `p.ch.PublishWithContext()` calling: %w", err)
	}

	return nil
}

func (p *Publisher) reportError(err error) {
	select {
	case p.errorChannel <- err:
	default:
		logger.Log.Debugln("access events error channel is full: ", err)
	}
}

// Close stops accepting events, sends the queued ones and closes the channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	close(p.errorChannel)

	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("in internal/accessevents/accessevents.go/Close(): error while `p.ch.Close()` calling: %w", err)
	}

	return nil
}
