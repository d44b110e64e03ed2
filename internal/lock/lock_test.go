package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func exclusive(l Locker, key string) int32 {
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	return maxSeen
}

var _ = ginkgo.Describe("LocalLocker", func() {
	ginkgo.It("admits one holder per key", func() {
		l := NewLocalLocker()
		gomega.Expect(exclusive(l, "ord-1")).To(gomega.Equal(int32(1)))
		gomega.Expect(l.size()).To(gomega.BeZero())
	})

	ginkgo.It("does not block other keys", func() {
		l := NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "a")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		other, err := l.Lock(ctx, "b")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		other()
	})

	ginkgo.It("gives up when the context ends", func() {
		l := NewLocalLocker()
		unlock, _ := l.Lock(context.Background(), "a")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := l.Lock(ctx, "a")
		gomega.Expect(err).To(gomega.MatchError(context.DeadlineExceeded))

		unlock()
		unlock()
		gomega.Expect(l.size()).To(gomega.BeZero())
	})
})

var _ = ginkgo.Describe("RedisLocker", func() {
	var l *RedisLocker

	ginkgo.BeforeEach(func() {
		url := os.Getenv("TEST_REDIS_URL")
		if url == "" {
			ginkgo.Skip("TEST_REDIS_URL not set")
		}
		cli, err := NewRedisClient(url)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		ginkgo.DeferCleanup(cli.Close)
		l = NewRedisLocker(cli, time.Second, nil)
	})

	ginkgo.It("admits one holder per key", func() {
		gomega.Expect(exclusive(l, "test-"+uuid.NewString())).To(gomega.Equal(int32(1)))
	})

	ginkgo.It("only releases its own lease", func() {
		key := "test-" + uuid.NewString()
		unlock, err := l.Lock(context.Background(), key)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		unlock()

		again, err := l.Lock(context.Background(), key)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, key)
		gomega.Expect(err).To(gomega.HaveOccurred())
		again()
	})
})

var _ = ginkgo.Describe("NewRedisClient", func() {
	ginkgo.It("rejects malformed urls", func() {
		_, err := NewRedisClient("not a url")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
