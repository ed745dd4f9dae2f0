package bus_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/monocle-dev/relay/internal/bus"
	"github.com/monocle-dev/relay/internal/protocol"
)

var _ = Describe("LocalBus", func() {
	var (
		b   *bus.LocalBus
		ctx context.Context
	)

	BeforeEach(func() {
		b = bus.NewLocalBus()
		ctx = context.Background()
	})

	It("delivers to every subscriber", func() {
		var (
			mu  sync.Mutex
			got []string
		)
		record := func(name string) bus.Handler {
			return func(msg bus.Message) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, name+":"+msg.Origin)
			}
		}

		Expect(b.Subscribe(ctx, record("a"))).To(Succeed())
		Expect(b.Subscribe(ctx, record("b"))).To(Succeed())
		Expect(b.Publish(ctx, bus.Message{Origin: "node-1", Room: 3})).To(Succeed())

		Expect(got).To(ConsistOf("a:node-1", "b:node-1"))
	})

	It("stops delivering once the subscription context ends", func() {
		subCtx, cancel := context.WithCancel(ctx)
		var mu sync.Mutex
		count := 0
		Expect(b.Subscribe(subCtx, func(bus.Message) {
			mu.Lock()
			count++
			mu.Unlock()
		})).To(Succeed())

		cancel()

		Eventually(func() int {
			_ = b.Publish(ctx, bus.Message{Origin: "node-1"})
			mu.Lock()
			defer mu.Unlock()
			c := count
			count = 0
			return c
		}).Should(Equal(0))
	})

	It("drops subscribers on Close", func() {
		called := false
		Expect(b.Subscribe(ctx, func(bus.Message) { called = true })).To(Succeed())
		Expect(b.Close()).To(Succeed())
		Expect(b.Publish(ctx, bus.Message{Origin: "node-1"})).To(Succeed())
		Expect(called).To(BeFalse())
	})
})

var _ = Describe("DecodeMessage", func() {
	It("decodes what the Redis bus publishes", func() {
		env := protocol.NewEnvelope(protocol.TypeChatMessage, 9)
		env.Payload = json.RawMessage(`{"message":"hi"}`)
		data, err := json.Marshal(bus.Message{Origin: "node-2", ExcludeClient: "c1", Room: 9, Envelope: env})
		Expect(err).NotTo(HaveOccurred())

		msg, err := bus.DecodeMessage(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Origin).To(Equal("node-2"))
		Expect(msg.ExcludeClient).To(Equal("c1"))
		Expect(msg.Room).To(Equal(uint(9)))
		Expect(msg.Envelope.Type).To(Equal(protocol.TypeChatMessage))
		Expect(string(msg.Envelope.Payload)).To(MatchJSON(`{"message":"hi"}`))
	})

	It("rejects messages without an origin", func() {
		_, err := bus.DecodeMessage([]byte(`{"room":1}`))
		Expect(err).To(HaveOccurred())
	})

	It("rejects invalid json", func() {
		_, err := bus.DecodeMessage([]byte(`nope`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("RedisBus", func() {
	It("opens the breaker after repeated publish failures", func() {
		// Reserve a port and free it so nothing is listening there.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := ln.Addr().String()
		Expect(ln.Close()).To(Succeed())

		client := redis.NewClient(&redis.Options{
			Addr:        addr,
			MaxRetries:  -1,
			DialTimeout: 200 * time.Millisecond,
		})
		DeferCleanup(client.Close)

		log := logrus.New()
		log.SetOutput(io.Discard)
		b := bus.NewRedisBus(client, "relay:test", log)

		msg := bus.Message{Origin: "node-a", Room: 1, Envelope: protocol.NewEnvelope(protocol.TypeChatMessage, 1)}
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			err := b.Publish(ctx, msg)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeFalse())
		}

		err = b.Publish(ctx, msg)
		Expect(err).To(MatchError(gobreaker.ErrOpenState))
	})
})
