package queue_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/queue"
)

var _ = Describe("Redis stream queue", func() {
	var (
		ctx      context.Context
		mr       *miniredis.Miniredis
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
		event    model.InboundEvent
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		producer = queue.NewRedisProducer(client, "events", nil)

		var err error
		consumer, err = queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream:      "events",
			Group:       "workers",
			Consumer:    "w1",
			DLQStream:   "events_dlq",
			BatchSize:   10,
			Block:       10 * time.Millisecond,
			MaxAttempts: 3,
		})
		Expect(err).NotTo(HaveOccurred())

		event = model.InboundEvent{
			ID:   "Ev123",
			Kind: model.EventKindMention,
			Text: "<@UBOT> summarize 7d",
			Invocation: model.InvocationContext{
				ChannelID: "C1",
				UserID:    "U1",
				EventTS:   "1700000000.000100",
			},
		}
	})

	It("round-trips an event with its trace id", func() {
		trace := "4bf92f3577b34da6a3ce929d0e0e4736"
		Expect(producer.Enqueue(ctx, queue.EventMessage{Event: event, TraceID: &trace})).To(Succeed())

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Event).To(Equal(event))
		Expect(msgs[0].Attempt).To(Equal(1))
		Expect(msgs[0].TraceID).To(Equal(trace))
	})

	It("is idempotent when creating the group twice", func() {
		_, err := queue.NewRedisConsumer(ctx, client, consumer.Config())
		Expect(err).NotTo(HaveOccurred())
	})

	It("acks and drops messages that cannot be parsed", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{Stream: "events", Values: map[string]any{"event": "{not json"}}).Err()).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())

		pending, err := client.XPending(ctx, "events", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})

	It("requeues with the next attempt and the last error", func() {
		Expect(producer.Enqueue(ctx, queue.EventMessage{Event: event})).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.Requeue(ctx, msgs[0], "slack unavailable")).To(Succeed())

		again, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(HaveLen(1))
		Expect(again[0].Attempt).To(Equal(2))
		Expect(again[0].LastError).To(Equal("slack unavailable"))
		Expect(again[0].Event.ID).To(Equal(event.ID))
	})

	It("parks messages in the DLQ and replays them", func() {
		Expect(producer.Enqueue(ctx, queue.EventMessage{Event: event, Attempt: 3})).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(consumer.SendDLQ(ctx, msgs[0], "boom")).To(Succeed())

		letters, err := queue.DeadLetters(ctx, client, "events_dlq", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(letters).To(HaveLen(1))
		Expect(letters[0].Error).To(Equal("boom"))
		Expect(letters[0].Attempt).To(Equal(3))

		Expect(queue.Replay(ctx, client, "events", "events_dlq", letters[0])).To(Succeed())

		remaining, err := queue.DeadLetters(ctx, client, "events_dlq", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(remaining).To(BeEmpty())

		replayed, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(replayed).To(HaveLen(1))
		Expect(replayed[0].Attempt).To(Equal(1))
	})

	It("claims messages left pending by another consumer", func() {
		Expect(producer.Enqueue(ctx, queue.EventMessage{Event: event})).To(Succeed())
		other, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream: "events", Group: "workers", Consumer: "w2", BatchSize: 10, Block: 10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = other.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		claimed, err := consumer.Claim(ctx, 0, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(HaveLen(1))
		Expect(claimed[0].Event.ID).To(Equal(event.ID))
	})
})
