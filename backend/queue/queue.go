package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Producer interface provides the Publish method to publish messages to RabbitMQ.
// Publish sends a message body as a byte array to RabbitMQ.
// Returns an error if there was a problem.
type Producer interface {
	Publish(body []byte) error
}

// Consumer interface provides the Consume method to consume messages from RabbitMQ.
// Consume blocks, handling deliveries until ctx is cancelled or the delivery channel closes.
type Consumer interface {
	Consume(ctx context.Context) error
}

// ProducerFactory interface provides the CreateProducer method to instantiate new producers.
// CreateProducer uses a RabbitMQ channel and queue details to create a new Producer.
type ProducerFactory interface {
	CreateProducer(ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory interface provides the CreateConsumer method to instantiate new consumers.
// CreateConsumer uses a RabbitMQ channel and queue details to create a new Consumer.
type ConsumerFactory interface {
	CreateConsumer(ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue struct holds slices of Producers and Consumers which can be used to send and consume messages.
type Queue struct {
	Producers []Producer
	Consumers []Consumer

	conn   *amqp.Connection
	ch     *amqp.Channel
	log    logrus.FieldLogger
	next   uint64
	closed int32
}

// ErrNoProducers is returned when publishing on a queue built without producers.
var ErrNoProducers = errors.New("no producers available")

// connect function establishes a connection to RabbitMQ and opens a new channel in confirm mode.
// The function listens for closure of the connection and logs any closure error.
func connect(url string, log logrus.FieldLogger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err = ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, err
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err := <-notifyClose; err != nil {
			log.WithError(err).Error("RabbitMQ connection closed")
		}
	}()

	return conn, ch, nil
}

// InitQueue function initializes a Queue with producers and consumers.
// It first establishes a connection to the RabbitMQ instance using the provided URL.
// Upon a successful connection, it declares a durable queue using the provided queue name,
// then uses the provided producer and consumer factories to create producers and consumers for it.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory, log logrus.FieldLogger) (*Queue, error) {
	conn, ch, err := connect(url, log)
	if err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ: %w", err)
	}

	q := &Queue{conn: conn, ch: ch, log: log}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("error declaring queue: %w", err)
	}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(ch, &queue)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("error creating producer: %w", err)
		}
		q.Producers = append(q.Producers, producer)
	}

	for _, consFactory := range consFactories {
		consumer, err := consFactory.CreateConsumer(ch, &queue)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("error creating consumer: %w", err)
		}
		q.Consumers = append(q.Consumers, consumer)
	}

	return q, nil
}

// Publish sends body through the next producer in round-robin order.
func (q *Queue) Publish(body []byte) error {
	count := uint64(len(q.Producers))
	if count == 0 {
		return ErrNoProducers
	}
	producer := q.Producers[(atomic.AddUint64(&q.next, 1)-1)%count]
	return producer.Publish(body)
}

// StartConsumers starts all consumers in the queue, each in its own goroutine.
// Cancelling ctx stops them; the returned WaitGroup is done once every consumer has returned.
func (q *Queue) StartConsumers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)
		go func(c Consumer) {
			defer wg.Done()
			if err := c.Consume(ctx); err != nil {
				q.log.WithError(err).Error("consumer stopped")
			}
		}(consumer)
	}

	return &wg
}

// Close closes the channel and the connection. It is safe to call more than once.
func (q *Queue) Close() error {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return nil
	}
	var errs []error
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
