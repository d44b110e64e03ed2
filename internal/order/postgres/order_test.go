package postgres

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	orderDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/order"
	orderpkg "github.com/frahmantamala/payment-orchestration/internal/order"
)

var _ = ginkgo.Describe("OrderRepository", func() {
	var (
		db   *gorm.DB
		repo *OrderRepository
		ctx  context.Context
	)

	newOrder := func() *orderpkg.Order {
		return orderpkg.NewOrder(orderpkg.CreateOrderDTO{
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "USD",
			Customer: orderpkg.CustomerDTO{Name: "Jane Doe", Email: "jane@example.com"},
			Metadata: map[string]any{"cart": "c-1"},
		}, time.Now().UTC())
	}

	ginkgo.BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		sqlDB, err := db.DB()
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		gomega.Expect(db.AutoMigrate(&orderDatamodel.PaymentOrder{})).To(gomega.Succeed())
		repo = NewOrderRepository(db)
		ctx = context.Background()
	})

	ginkgo.Describe("Create and GetByCode", func() {
		ginkgo.It("round trips the order", func() {
			o := newOrder()
			o.Ignore("Paymob")
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())
			gomega.Expect(o.ID).ToNot(gomega.BeZero())

			got, err := repo.GetByCode(ctx, o.Code)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Amount.Equal(decimal.RequireFromString("100"))).To(gomega.BeTrue())
			gomega.Expect(got.Status).To(gomega.Equal(orderpkg.StatusPending))
			gomega.Expect(got.IgnoredProviders).To(gomega.ConsistOf("paymob"))
			gomega.Expect(got.Metadata).To(gomega.HaveKeyWithValue("cart", "c-1"))
			gomega.Expect(got.ProviderKey).To(gomega.BeEmpty())
			gomega.Expect(got.PaidAt).To(gomega.BeNil())
			gomega.Expect(got.Version).To(gomega.Equal(int64(1)))
		})

		ginkgo.It("returns not found for an unknown code", func() {
			_, err := repo.GetByCode(ctx, "missing")
			gomega.Expect(stderrors.Is(err, errors.ErrOrderNotFound)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("Update", func() {
		ginkgo.It("persists the mutation and bumps the version", func() {
			o := newOrder()
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())

			updated, err := repo.Update(ctx, o.Code, func(o *orderpkg.Order) error {
				o.ProviderKey = "dummy"
				o.MergeMetadata(map[string]any{"status_label": "started"})
				return o.Transition(orderpkg.StatusProcessing, time.Now())
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(updated.Version).To(gomega.Equal(int64(2)))

			got, err := repo.GetByCode(ctx, o.Code)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(orderpkg.StatusProcessing))
			gomega.Expect(got.ProviderKey).To(gomega.Equal("dummy"))
			gomega.Expect(got.Metadata).To(gomega.HaveKeyWithValue("cart", "c-1"))
			gomega.Expect(got.Metadata).To(gomega.HaveKeyWithValue("status_label", "started"))
		})

		ginkgo.It("skips the write on ErrNoChange", func() {
			o := newOrder()
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())

			got, err := repo.Update(ctx, o.Code, func(*orderpkg.Order) error {
				return orderpkg.ErrNoChange
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Version).To(gomega.Equal(int64(1)))
		})

		ginkgo.It("propagates mutation errors without writing", func() {
			o := newOrder()
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())

			_, err := repo.Update(ctx, o.Code, func(o *orderpkg.Order) error {
				return o.Transition(orderpkg.StatusCompleted, time.Now())
			})
			var transitionErr *orderpkg.TransitionError
			gomega.Expect(stderrors.As(err, &transitionErr)).To(gomega.BeTrue())

			got, _ := repo.GetByCode(ctx, o.Code)
			gomega.Expect(got.Status).To(gomega.Equal(orderpkg.StatusPending))
		})

		ginkgo.It("retries when another writer bumped the version", func() {
			o := newOrder()
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())

			calls := 0
			_, err := repo.Update(ctx, o.Code, func(next *orderpkg.Order) error {
				calls++
				if calls == 1 {
					// a concurrent writer lands between our read and write
					gomega.Expect(db.Model(&orderDatamodel.PaymentOrder{}).
						Where("code = ?", o.Code).
						UpdateColumn("version", gorm.Expr("version + 1")).Error).To(gomega.Succeed())
				}
				next.MergeMetadata(map[string]any{"attempt": calls})
				return nil
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(calls).To(gomega.Equal(2))

			got, _ := repo.GetByCode(ctx, o.Code)
			gomega.Expect(got.Version).To(gomega.Equal(int64(3)))
		})

		ginkgo.It("applies concurrent completions exactly once", func() {
			o := newOrder()
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())
			_, err := repo.Update(ctx, o.Code, func(o *orderpkg.Order) error {
				return o.Transition(orderpkg.StatusProcessing, time.Now())
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
			)
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer ginkgo.GinkgoRecover()
					_, err := repo.Update(ctx, o.Code, func(o *orderpkg.Order) error {
						if o.IsTerminal() {
							return orderpkg.ErrNoChange
						}
						mu.Lock()
						applied++
						mu.Unlock()
						return o.Transition(orderpkg.StatusCompleted, time.Now())
					})
					gomega.Expect(err).ToNot(gomega.HaveOccurred())
				}()
			}
			wg.Wait()

			got, _ := repo.GetByCode(ctx, o.Code)
			gomega.Expect(got.Status).To(gomega.Equal(orderpkg.StatusCompleted))
			gomega.Expect(got.PaidAt).ToNot(gomega.BeNil())
		})
	})

	ginkgo.Describe("FindByRemoteID", func() {
		ginkgo.It("resolves the order bound to the provider", func() {
			o := newOrder()
			o.ProviderKey = "paymob"
			o.RemoteID = "998877"
			gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())

			got, err := repo.FindByRemoteID(ctx, "paymob", "998877")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Code).To(gomega.Equal(o.Code))

			_, err = repo.FindByRemoteID(ctx, "kashier", "998877")
			gomega.Expect(stderrors.Is(err, errors.ErrOrderNotFound)).To(gomega.BeTrue())
		})

		ginkgo.It("fails closed when the remote id is ambiguous", func() {
			for i := 0; i < 2; i++ {
				o := newOrder()
				o.ProviderKey = "paymob"
				o.RemoteID = "dup"
				gomega.Expect(repo.Create(ctx, o)).To(gomega.Succeed())
			}
			_, err := repo.FindByRemoteID(ctx, "paymob", "dup")
			gomega.Expect(errors.IsType(err, errors.ErrorTypeCorrelation)).To(gomega.BeTrue())
		})
	})
})
