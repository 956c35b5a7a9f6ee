package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

type fakeInvalidator struct {
	mu            sync.Mutex
	prefixes      []string
	conversations []string
}

func (f *fakeInvalidator) Invalidate(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return 1
}

func (f *fakeInvalidator) InvalidateConversation(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, id)
	return 2
}

func (f *fakeInvalidator) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prefixes...), append([]string(nil), f.conversations...)
}

func body(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestDispatch_RoutesByType(t *testing.T) {
	target := &fakeInvalidator{}
	d := NewDispatcher(target, nil, nil)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, NewEnvelope(TypeConversationUpdated, "api", Data{ConversationID: "42"})))
	require.NoError(t, d.Dispatch(ctx, NewEnvelope(TypeLeadCaptured, "api", Data{ConversationID: "43", LeadID: "7"})))
	require.NoError(t, d.Dispatch(ctx, NewEnvelope(TypeConversationsChanged, "api", Data{})))
	require.NoError(t, d.Dispatch(ctx, NewEnvelope(TypeConversationsChanged, "api", Data{Prefix: "conversations?channel=web"})))
	require.NoError(t, d.Dispatch(ctx, NewEnvelope("billing.invoice.paid.v1", "api", Data{})))

	prefixes, conversations := target.snapshot()
	assert.Equal(t, []string{"42", "43"}, conversations)
	assert.Equal(t, []string{"conversations?", "conversations?channel=web"}, prefixes)
}

func TestDispatch_SkipsRedelivery(t *testing.T) {
	target := &fakeInvalidator{}
	d := NewDispatcher(target, nil, nil)
	env := NewEnvelope(TypeConversationUpdated, "api", Data{ConversationID: "1"})

	require.NoError(t, d.Dispatch(context.Background(), env))
	require.NoError(t, d.Dispatch(context.Background(), env))

	_, conversations := target.snapshot()
	assert.Len(t, conversations, 1)
}

func TestHandleBody_Malformed(t *testing.T) {
	d := NewDispatcher(&fakeInvalidator{}, nil, nil)

	err := d.HandleBody(context.Background(), []byte("not json"))
	assert.True(t, IsPermanent(err))

	err = d.HandleBody(context.Background(), []byte(`{"meta":{"id":"x"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMemoryProcessedStore_EvictsOldest(t *testing.T) {
	store := NewMemoryProcessedStore(2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		first, err := store.MarkProcessed(ctx, id)
		require.NoError(t, err)
		assert.True(t, first)
	}
	first, _ := store.MarkProcessed(ctx, "c")
	assert.False(t, first)
	first, _ = store.MarkProcessed(ctx, "a")
	assert.True(t, first, "a was evicted")
}

func TestRedisProcessedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := NewRedisProcessedStore(client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = store.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Minute)
	first, err = store.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}

type fakeAcker struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	requeu []bool
}

func (f *fakeAcker) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeu = append(f.requeu, requeue)
	return nil
}

func (f *fakeAcker) Reject(uint64, bool) error { return nil }

type failingStore struct{}

func (failingStore) MarkProcessed(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestAMQPSubscriber_AcksAndNacks(t *testing.T) {
	target := &fakeInvalidator{}
	acker := &fakeAcker{}
	sub := &AMQPSubscriber{dispatcher: NewDispatcher(target, nil, nil), logger: logging.Default()}

	deliveries := make(chan amqp091.Delivery, 3)
	deliveries <- amqp091.Delivery{Acknowledger: acker, RoutingKey: TypeConversationUpdated, Body: body(t, NewEnvelope(TypeConversationUpdated, "api", Data{ConversationID: "5"}))}
	deliveries <- amqp091.Delivery{Acknowledger: acker, RoutingKey: TypeConversationUpdated, Body: []byte("{")}
	close(deliveries)

	sub.consume(context.Background(), deliveries)

	assert.Equal(t, 1, acker.acks)
	assert.Equal(t, 1, acker.nacks)
	assert.Equal(t, []bool{false}, acker.requeu, "malformed messages are not requeued")

	retrying := &AMQPSubscriber{dispatcher: NewDispatcher(target, failingStore{}, nil), logger: logging.Default()}
	retrying.handleDelivery(context.Background(), amqp091.Delivery{Acknowledger: acker, Body: body(t, NewEnvelope(TypeLeadCaptured, "api", Data{}))})
	assert.Equal(t, []bool{false, true}, acker.requeu, "transient failures are requeued")
}

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]sqstypes.Message
	deleted  []string
	received int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.received++
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSConsumer_RunDispatchesAndDeletes(t *testing.T) {
	target := &fakeInvalidator{}
	good := string(body(t, NewEnvelope(TypeConversationUpdated, "api", Data{ConversationID: "9"})))
	client := &fakeSQS{batches: [][]sqstypes.Message{{
		{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String(good)},
		{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String("garbage")},
	}}}
	consumer := NewSQSConsumer(client, "https://sqs.local/queue", NewDispatcher(target, nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.deleted) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	_, conversations := target.snapshot()
	assert.Equal(t, []string{"9"}, conversations)
	assert.ElementsMatch(t, []string{"r1", "r2"}, client.deleted)
}

func TestSQSConsumer_KeepsTransientFailures(t *testing.T) {
	client := &fakeSQS{}
	consumer := NewSQSConsumer(client, "q", NewDispatcher(&fakeInvalidator{}, failingStore{}, nil), nil)

	consumer.handleMessage(context.Background(), sqstypes.Message{
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(string(body(t, NewEnvelope(TypeConversationUpdated, "api", Data{ConversationID: "1"})))),
	})
	assert.Empty(t, client.deleted)
}
