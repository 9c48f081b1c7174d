package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cache "github.com/jghoshh/duet/backend/storage/cache"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// EmailQueueName is the durable RabbitMQ queue carrying outbound emails.
const EmailQueueName = "emailQueue"

// EmailKind selects the template an EmailMessage is rendered with.
type EmailKind string

const (
	EmailConfirmation EmailKind = "confirmation"
	EmailContact      EmailKind = "contact"
)

// EmailMessage is a struct for the content of email messages.
type EmailMessage struct {
	Id       string    `json:"id"`   // unique id, used to skip redeliveries
	Kind     EmailKind `json:"kind"` // template selector
	To       string    `json:"to"`   // the recipient of the message
	Token    string    `json:"token,omitempty"`
	ReplyTo  string    `json:"replyTo,omitempty"`
	Category string    `json:"category,omitempty"`
	Body     string    `json:"body,omitempty"`
}

// Validate reports whether the message carries what its kind needs.
func (m *EmailMessage) Validate() error {
	if m.Id == "" || m.To == "" {
		return errors.New("email message needs an id and a recipient")
	}
	switch m.Kind {
	case EmailConfirmation:
		if m.Token == "" {
			return errors.New("confirmation email needs a token")
		}
	case EmailContact:
		if m.Body == "" {
			return errors.New("contact email needs a body")
		}
	default:
		return fmt.Errorf("unknown email kind %q", m.Kind)
	}
	return nil
}

// Mailer delivers rendered emails. It is implemented by email.Sender.
type Mailer interface {
	SendConfirmation(to, token string) error
	SendContactInquiry(receiver, replyTo, category, body string) error
}

// EmailPublisher enqueues emails for asynchronous delivery.
type EmailPublisher interface {
	PublishEmail(msg *EmailMessage) error
}

// EmailProducerFactory is a struct for creating new EmailProducer instances.
type EmailProducerFactory struct{}

// EmailConsumerFactory is a struct for creating new EmailConsumer instances.
// Cache records which messages were already delivered.
type EmailConsumerFactory struct {
	Cache  cache.CacheInterface
	Mailer Mailer
	Log    logrus.FieldLogger
}

// EmailProducer publishes email messages on the queue.
type EmailProducer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
}

// EmailConsumer reads email messages from the queue and hands them to the Mailer.
type EmailConsumer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
	mailer  Mailer
	log     logrus.FieldLogger
}

// CreateProducer is a method on EmailProducerFactory for creating a new instance of EmailProducer.
func (f *EmailProducerFactory) CreateProducer(ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &EmailProducer{channel: ch, queue: queue}, nil
}

// CreateConsumer is a method on EmailConsumerFactory for creating a new instance of EmailConsumer.
func (f *EmailConsumerFactory) CreateConsumer(ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return NewEmailConsumer(ch, queue, f.Cache, f.Mailer, f.Log), nil
}

// NewEmailConsumer builds an EmailConsumer. ch and queue may be nil when only Handle is used.
func NewEmailConsumer(ch *amqp.Channel, queue *amqp.Queue, c cache.CacheInterface, mailer Mailer, log logrus.FieldLogger) *EmailConsumer {
	return &EmailConsumer{channel: ch, queue: queue, cache: c, mailer: mailer, log: log}
}

// Publish is a method on EmailProducer for publishing a message to the AMQP queue.
func (ep *EmailProducer) Publish(body []byte) error {
	err := ep.channel.Publish(
		"",            // exchange
		ep.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// Outcome tells the consumer loop what to do with a delivery.
type Outcome int

const (
	// Ack removes the delivery from the queue.
	Ack Outcome = iota
	// Requeue puts the delivery back for another attempt.
	Requeue
	// Drop rejects the delivery without requeueing it.
	Drop
)

func cacheKey(id string) string { return "email_" + id }

// Handle processes one delivery body: it skips messages already delivered, sends the email
// and marks the message delivered. Malformed messages are dropped, transient failures requeued.
func (ec *EmailConsumer) Handle(ctx context.Context, body []byte) Outcome {
	message := &EmailMessage{}
	if err := json.Unmarshal(body, message); err != nil {
		ec.log.WithError(err).Warn("dropping malformed email message")
		return Drop
	}
	if err := message.Validate(); err != nil {
		ec.log.WithError(err).WithField("email_id", message.Id).Warn("dropping invalid email message")
		return Drop
	}

	entry := ec.log.WithFields(logrus.Fields{"email_id": message.Id, "kind": message.Kind})

	processed, err := ec.cache.Get(ctx, cacheKey(message.Id))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		entry.WithError(err).Error("error checking cache")
		return Requeue
	}
	if processed != nil {
		entry.Debug("email already delivered")
		return Ack
	}

	switch message.Kind {
	case EmailConfirmation:
		err = ec.mailer.SendConfirmation(message.To, message.Token)
	case EmailContact:
		err = ec.mailer.SendContactInquiry(message.To, message.ReplyTo, message.Category, message.Body)
	}
	if err != nil {
		entry.WithError(err).Error("failed to send email")
		return Requeue
	}

	if err := ec.cache.Set(ctx, cacheKey(message.Id), true); err != nil {
		entry.WithError(err).Warn("failed to set key in cache")
	}
	entry.Info("email delivered")
	return Ack
}

// Consume is a method on EmailConsumer for consuming messages from the AMQP queue.
// It blocks until ctx is cancelled or the broker closes the delivery channel.
func (ec *EmailConsumer) Consume(ctx context.Context) error {
	msgs, err := ec.channel.Consume(
		ec.queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			switch ec.Handle(ctx, d.Body) {
			case Ack:
				d.Ack(false)
			case Requeue:
				d.Nack(false, true)
			case Drop:
				d.Nack(false, false)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// BuildEmailQueue is a function that initializes a new Queue for handling email messages.
// It accepts the RabbitMQ URL, the number of producers and consumers to create, the cache used to
// remember delivered messages, and the Mailer the consumers deliver through.
func BuildEmailQueue(rabbitMQURL string, numProducers, numConsumers int, emailCache cache.CacheInterface, mailer Mailer, log logrus.FieldLogger) (*Queue, error) {
	prodFactories := make([]ProducerFactory, numProducers)
	for i := range prodFactories {
		prodFactories[i] = &EmailProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := range consFactories {
		consFactories[i] = &EmailConsumerFactory{Cache: emailCache, Mailer: mailer, Log: log}
	}

	return InitQueue(rabbitMQURL, EmailQueueName, prodFactories, consFactories, log)
}

// PublishEmail validates and serializes an email message and publishes it with the next producer.
func (q *Queue) PublishEmail(msg *EmailMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}
	if err := q.Publish(body); err != nil {
		return fmt.Errorf("failed to publish email message: %w", err)
	}
	return nil
}

// DiscardPublisher logs emails instead of delivering them. It stands in for the queue
// when the backend runs without a broker.
type DiscardPublisher struct {
	Log logrus.FieldLogger
}

// PublishEmail logs msg and drops it.
func (d DiscardPublisher) PublishEmail(msg *EmailMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	d.Log.WithFields(logrus.Fields{"email_id": msg.Id, "kind": msg.Kind, "to": msg.To}).Warn("no broker configured, email dropped")
	return nil
}
