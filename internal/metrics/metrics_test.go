package metrics_test

import (
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frahmantamala/payment-orchestration/internal/metrics"
)

var _ = ginkgo.Describe("Metrics", func() {
	ginkgo.It("registers every collector once", func() {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		m.Callback("dummy", "success", metrics.ResultApplied)
		m.Initiation("dummy", metrics.ResultOK)
		m.Hook("success", metrics.ResultOK)
		m.Refund("dummy", metrics.ResultOK)
		m.Transition("completed")
		m.ObserveReconcile("dummy", time.Now())

		families, err := reg.Gather()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(families).To(gomega.HaveLen(6))

		gomega.Expect(func() { metrics.New(reg) }).To(gomega.Panic())
	})

	ginkgo.It("counts callbacks by label", func() {
		m := metrics.New(prometheus.NewRegistry())
		m.Callback("paymob", "success", metrics.ResultApplied)
		m.Callback("paymob", "success", metrics.ResultReplayed)
		m.Callback("paymob", "success", metrics.ResultReplayed)
		m.Callback("paymob", "", metrics.ResultRejected)

		gomega.Expect(testutil.ToFloat64(m.CallbacksTotal.WithLabelValues("paymob", "success", metrics.ResultReplayed))).To(gomega.Equal(2.0))
		gomega.Expect(testutil.ToFloat64(m.CallbacksTotal.WithLabelValues("paymob", "unknown", metrics.ResultRejected))).To(gomega.Equal(1.0))
	})

	ginkgo.It("tolerates a nil receiver", func() {
		var m *metrics.Metrics
		gomega.Expect(func() {
			m.Callback("x", "success", metrics.ResultApplied)
			m.ObserveReconcile("x", time.Now())
		}).NotTo(gomega.Panic())
	})
})
