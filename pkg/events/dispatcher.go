package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostelsync-api/pkg/config"
	"github.com/noah-isme/hostelsync-api/pkg/jobs"
)

// Publish outcomes reported to the observer.
const (
	ResultPublished = "published"
	ResultRetried   = "retried"
	ResultDropped   = "dropped"
)

// ObserveFunc receives the sink name and outcome of every delivery attempt.
type ObserveFunc func(sink, result string)

// DispatcherConfig tunes background delivery.
type DispatcherConfig struct {
	Workers        int
	Retries        int
	PublishTimeout time.Duration
	Observe        ObserveFunc
	Logger         *zap.Logger
}

// Dispatcher queues messages and delivers them through a Publisher on
// background workers. Callers never wait on the broker.
type Dispatcher struct {
	publisher Publisher
	queue     *jobs.Queue
	timeout   time.Duration
	observe   ObserveFunc
	logger    *zap.Logger
}

// NewPublisher builds the publisher selected by cfg.Driver.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", config.EventsDriverNone:
		return NopPublisher{}, nil
	case config.EventsDriverAMQP:
		return NewAMQPPublisher(cfg.AMQPURL, logger), nil
	case config.EventsDriverKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka events need brokers and a topic")
		}
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// NewDispatcher wires a publisher to a worker queue.
func NewDispatcher(publisher Publisher, cfg DispatcherConfig) *Dispatcher {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Observe == nil {
		cfg.Observe = func(string, string) {}
	}

	d := &Dispatcher{
		publisher: publisher,
		timeout:   cfg.PublishTimeout,
		observe:   cfg.Observe,
		logger:    cfg.Logger,
	}
	d.queue = jobs.NewQueue("booking-events", d.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     cfg.Logger,
		OnDiscard: func(job jobs.Job, err error) {
			d.observe(d.publisher.Name(), ResultDropped)
		},
	})
	return d
}

// Start launches the delivery workers. They ignore cancellation of ctx and
// run until Stop, so bookings committed while the server drains still get
// their events.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(context.WithoutCancel(ctx))
}

// Stop drains workers and closes the publisher.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
	if err := d.publisher.Close(); err != nil {
		d.logger.Warn("close event publisher", zap.Error(err))
	}
}

// Sink names the configured publisher.
func (d *Dispatcher) Sink() string {
	return d.publisher.Name()
}

// Dispatch queues msg for delivery.
func (d *Dispatcher) Dispatch(msg Message) error {
	if err := d.queue.Enqueue(jobs.Job{ID: msg.ID, Type: msg.Type, Payload: msg}); err != nil {
		d.observe(d.publisher.Name(), ResultDropped)
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(Message)
	if !ok {
		d.logger.Error("unexpected event payload", zap.String("job_id", job.ID))
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, msg); err != nil {
		d.observe(d.publisher.Name(), ResultRetried)
		return err
	}
	d.observe(d.publisher.Name(), ResultPublished)
	return nil
}
