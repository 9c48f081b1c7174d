package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jghoshh/duet/lib/logger"
	cache "github.com/jghoshh/duet/backend/storage/cache"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (p *recordingProducer) Publish(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	return nil
}

type mapCache struct {
	mu     sync.Mutex
	values map[string]interface{}
	getErr error
}

func newMapCache() *mapCache { return &mapCache{values: map[string]interface{}{}} }

func (c *mapCache) Connect(string) error { return nil }
func (c *mapCache) Disconnect() error    { return nil }
func (c *mapCache) Set(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}
func (c *mapCache) Get(_ context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}
func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}
func (c *mapCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string]interface{}{}
	return nil
}

type fakeMailer struct {
	mu            sync.Mutex
	confirmations []string
	inquiries     []string
	err           error
}

func (m *fakeMailer) SendConfirmation(to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.confirmations = append(m.confirmations, to+":"+token)
	return nil
}

func (m *fakeMailer) SendContactInquiry(receiver, replyTo, category, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.inquiries = append(m.inquiries, receiver+":"+replyTo+":"+body)
	return nil
}

func confirmation(id string) *EmailMessage {
	return &EmailMessage{Id: id, Kind: EmailConfirmation, To: "alice@example.com", Token: "AB12CD"}
}

func TestPublishRoundRobin(t *testing.T) {
	p1, p2 := &recordingProducer{}, &recordingProducer{}
	q := &Queue{Producers: []Producer{p1, p2}, log: logger.Discard()}

	for i := 0; i < 4; i++ {
		require.NoError(t, q.PublishEmail(confirmation(uuid.NewString())))
	}
	assert.Len(t, p1.bodies, 2)
	assert.Len(t, p2.bodies, 2)

	var decoded EmailMessage
	require.NoError(t, json.Unmarshal(p1.bodies[0], &decoded))
	assert.Equal(t, EmailConfirmation, decoded.Kind)
	assert.Equal(t, "AB12CD", decoded.Token)
}

func TestPublishWithoutProducers(t *testing.T) {
	q := &Queue{log: logger.Discard()}
	assert.ErrorIs(t, q.PublishEmail(confirmation("1")), ErrNoProducers)
}

func TestPublishRejectsInvalidMessages(t *testing.T) {
	q := &Queue{Producers: []Producer{&recordingProducer{}}, log: logger.Discard()}

	assert.Error(t, q.PublishEmail(&EmailMessage{Id: "1", Kind: EmailConfirmation, To: "a@example.com"}))
	assert.Error(t, q.PublishEmail(&EmailMessage{Id: "1", Kind: EmailContact, To: "a@example.com"}))
	assert.Error(t, q.PublishEmail(&EmailMessage{Id: "1", Kind: "newsletter", To: "a@example.com", Body: "x"}))
	assert.Error(t, q.PublishEmail(&EmailMessage{Kind: EmailConfirmation, Token: "t"}))
}

func encode(t *testing.T, msg *EmailMessage) []byte {
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestHandleDeliversOnce(t *testing.T) {
	c, mailer := newMapCache(), &fakeMailer{}
	consumer := NewEmailConsumer(nil, nil, c, mailer, logger.Discard())
	body := encode(t, confirmation("42"))

	assert.Equal(t, Ack, consumer.Handle(context.Background(), body))
	assert.Equal(t, Ack, consumer.Handle(context.Background(), body))
	assert.Equal(t, []string{"alice@example.com:AB12CD"}, mailer.confirmations)
	assert.Contains(t, c.values, "email_42")
}

func TestHandleContactInquiry(t *testing.T) {
	mailer := &fakeMailer{}
	consumer := NewEmailConsumer(nil, nil, newMapCache(), mailer, logger.Discard())
	msg := &EmailMessage{Id: "7", Kind: EmailContact, To: "support@example.com", ReplyTo: "bob@example.com", Body: "hi"}

	assert.Equal(t, Ack, consumer.Handle(context.Background(), encode(t, msg)))
	assert.Equal(t, []string{"support@example.com:bob@example.com:hi"}, mailer.inquiries)
}

func TestHandleFailures(t *testing.T) {
	ctx := context.Background()

	consumer := NewEmailConsumer(nil, nil, newMapCache(), &fakeMailer{}, logger.Discard())
	assert.Equal(t, Drop, consumer.Handle(ctx, []byte("{not json")))
	assert.Equal(t, Drop, consumer.Handle(ctx, encode(t, &EmailMessage{Id: "1", Kind: EmailConfirmation})))

	consumer = NewEmailConsumer(nil, nil, newMapCache(), &fakeMailer{err: errors.New("smtp down")}, logger.Discard())
	assert.Equal(t, Requeue, consumer.Handle(ctx, encode(t, confirmation("2"))))

	broken := newMapCache()
	broken.getErr = errors.New("redis down")
	mailer := &fakeMailer{}
	consumer = NewEmailConsumer(nil, nil, broken, mailer, logger.Discard())
	assert.Equal(t, Requeue, consumer.Handle(ctx, encode(t, confirmation("3"))))
	assert.Empty(t, mailer.confirmations)
}

func TestDiscardPublisher(t *testing.T) {
	d := DiscardPublisher{Log: logger.Discard()}
	assert.NoError(t, d.PublishEmail(confirmation("1")))
	assert.Error(t, d.PublishEmail(&EmailMessage{}))
}

func TestEmailQueueLive(t *testing.T) {
	_ = godotenv.Load("../.env")
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}

	mailer := &fakeMailer{}
	q, err := BuildEmailQueue(url, 1, 2, newMapCache(), mailer, logger.Discard())
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wg := q.StartConsumers(ctx)

	id := uuid.NewString()
	require.NoError(t, q.PublishEmail(&EmailMessage{Id: id, Kind: EmailConfirmation, To: "live@example.com", Token: id[:6]}))

	assert.Eventually(t, func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		for _, c := range mailer.confirmations {
			if c == "live@example.com:"+id[:6] {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	wg.Wait()
}
