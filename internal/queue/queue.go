// Package queue implements the queue dispatcher (spec.md §4.7): named
// queues with distinct concurrency/retry policies, built on
// rabbitmq/amqp091-go (promoted from a transitive dependency of the
// teacher's go.mod to a direct, exercised one here) with priorities and
// dead-lettering.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Name identifies one of the fixed queues from spec.md §4.7.
type Name string

const (
	Downloads        Name = "downloads"
	Uploads          Name = "uploads"
	ProcessingCPU    Name = "processing_cpu"
	AsyncOperations  Name = "async_operations"
	Maintenance      Name = "maintenance"
)

// Policy carries the concurrency/retry knobs for one queue, grounded on the
// table in spec.md §4.7.
type Policy struct {
	Prefetch   int
	MaxRetries int
	BaseDelay  time.Duration
	SoftLimit  time.Duration
	HardLimit  time.Duration
}

// Policies is the fixed per-queue policy table.
var Policies = map[Name]Policy{
	Downloads:       {Prefetch: 32, MaxRetries: 3, BaseDelay: 5 * time.Second, SoftLimit: 10 * time.Minute, HardLimit: 30 * time.Minute},
	Uploads:         {Prefetch: 32, MaxRetries: 3, BaseDelay: 5 * time.Second, SoftLimit: 10 * time.Minute, HardLimit: 30 * time.Minute},
	ProcessingCPU:   {Prefetch: 1, MaxRetries: 2, BaseDelay: 10 * time.Second, SoftLimit: 20 * time.Minute, HardLimit: 60 * time.Minute},
	AsyncOperations: {Prefetch: 16, MaxRetries: 2, BaseDelay: 5 * time.Second, SoftLimit: 15 * time.Minute, HardLimit: 45 * time.Minute},
	Maintenance:     {Prefetch: 4, MaxRetries: 10, BaseDelay: 30 * time.Second, SoftLimit: time.Hour, HardLimit: 4 * time.Hour},
}

const maxPriority = 9

// Task is the message envelope. UserID is carried in metadata so a
// task-status/cancel API can verify caller identity against it.
type Task struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   uint8           `json:"-"`
	RetryCount int             `json:"retry_count"`
}

// Dispatcher owns one amqp connection/channel and declares the fixed queue
// set (plus their .failed dead-letter siblings) on Init.
type Dispatcher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(amqpURL string) (*Dispatcher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("queue: dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: opening channel: %w", err)
	}
	d := &Dispatcher{conn: conn, ch: ch}
	if err := d.declareAll(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) declareAll() error {
	for name := range Policies {
		if err := d.declare(name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) declare(name Name) error {
	failedName := string(name) + ".failed"
	if _, err := d.ch.QueueDeclare(failedName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue: declaring dead-letter queue %s: %w", failedName, err)
	}
	args := amqp.Table{
		"x-max-priority":          int32(maxPriority),
		"x-dead-letter-exchange":  "",
		"x-dead-letter-routing-key": failedName,
	}
	if _, err := d.ch.QueueDeclare(string(name), true, false, false, false, args); err != nil {
		return fmt.Errorf("queue: declaring queue %s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) Close() error {
	if d.ch != nil {
		d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Enqueue publishes t to queue name with the given priority (0-9, higher
// runs first).
func (d *Dispatcher) Enqueue(ctx context.Context, name Name, t Task, priority uint8) error {
	if priority > maxPriority {
		priority = maxPriority
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("queue: marshaling task: %w", err)
	}
	return d.ch.PublishWithContext(ctx, "", string(name), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Priority:     priority,
		DeliveryMode: amqp.Persistent,
	})
}

// Requeue republishes t to the same queue with RetryCount incremented, or
// routes it to the dead-letter queue once the queue's MaxRetries is
// exceeded.
func (d *Dispatcher) Requeue(ctx context.Context, name Name, t Task, priority uint8) error {
	policy := Policies[name]
	t.RetryCount++
	if t.RetryCount > policy.MaxRetries {
		return d.deadLetter(ctx, name, t)
	}
	return d.Enqueue(ctx, name, t, priority)
}

func (d *Dispatcher) deadLetter(ctx context.Context, name Name, t Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("queue: marshaling dead-lettered task: %w", err)
	}
	return d.ch.PublishWithContext(ctx, "", string(name)+".failed", false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

// Consume returns a delivery channel for name with the queue's configured
// prefetch applied via Qos.
func (d *Dispatcher) Consume(name Name) (<-chan amqp.Delivery, error) {
	policy := Policies[name]
	if err := d.ch.Qos(policy.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("queue: setting qos for %s: %w", name, err)
	}
	deliveries, err := d.ch.Consume(string(name), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: consuming %s: %w", name, err)
	}
	return deliveries, nil
}

// retryBackoff builds the per-queue exponential backoff, grounded on the
// teacher's own per-queue constant-backoff helpers (e.g.
// ClippingRetryBackoff in pipeline/coordinator.go) but exponential rather
// than constant since the dispatcher spans both fast I/O queues and the
// slow maintenance queue with very different base delays.
func retryBackoff(name Name) *backoff.ExponentialBackOff {
	policy := Policies[name]
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.HardLimit
	b.MaxElapsedTime = 0 // caller drives retries via Requeue/MaxRetries, not this clock
	b.RandomizationFactor = 0
	return b
}

// RetryDelay computes the backoff delay for a task's next attempt by
// replaying retryCount steps of the queue's exponential backoff.
func RetryDelay(name Name, retryCount int) time.Duration {
	b := retryBackoff(name)
	b.Reset()
	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
