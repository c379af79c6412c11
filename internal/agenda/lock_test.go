package agenda_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"pillar.vc/assistant/internal/agenda"
)

var _ = Describe("Lockers", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	lockerContract := func(newLocker func() agenda.Locker) {
		It("excludes a second holder until release", func() {
			locker := newLocker()
			release, err := locker.Lock(ctx, "agenda:C1", time.Minute)
			Expect(err).NotTo(HaveOccurred())

			waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
			defer cancel()
			_, err = locker.Lock(waitCtx, "agenda:C1", time.Minute)
			Expect(err).To(MatchError(context.DeadlineExceeded))

			release()
			release2, err := locker.Lock(ctx, "agenda:C1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			release2()
		})

		It("does not block other keys", func() {
			locker := newLocker()
			release, err := locker.Lock(ctx, "agenda:C1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			defer release()

			other, err := locker.Lock(ctx, "agenda:C2", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			other()
		})

		It("tolerates a double release", func() {
			locker := newLocker()
			release, err := locker.Lock(ctx, "agenda:C1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			release()
			release()
		})
	}

	Describe("LocalLocker", func() {
		lockerContract(func() agenda.Locker { return agenda.NewLocalLocker() })
	})

	Describe("RedisLocker", func() {
		var mr *miniredis.Miniredis

		BeforeEach(func() {
			mr = miniredis.RunT(GinkgoT())
		})

		lockerContract(func() agenda.Locker {
			return agenda.NewRedisLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
		})

		It("does not release a lease that expired and was taken over", func() {
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			locker := agenda.NewRedisLocker(client, "test:")

			release, err := locker.Lock(ctx, "agenda:C1", time.Second)
			Expect(err).NotTo(HaveOccurred())
			mr.FastForward(2 * time.Second)

			takeover, err := locker.Lock(ctx, "agenda:C1", time.Minute)
			Expect(err).NotTo(HaveOccurred())

			release()
			Expect(mr.Exists("test:agenda:C1")).To(BeTrue())
			takeover()
			Expect(mr.Exists("test:agenda:C1")).To(BeFalse())
		})
	})
})
