package auth_test

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/auth"
)

const testSecret = "an-admin-jwt-secret-of-32-characters!"

var _ = ginkgo.Describe("JWTTokenGenerator", func() {
	var (
		generator *auth.JWTTokenGenerator
		service   *auth.Service
	)

	ginkgo.BeforeEach(func() {
		generator = auth.NewJWTTokenGenerator(testSecret, "payment-orchestration")
		service = auth.NewService(generator)
	})

	ginkgo.It("round-trips subject and scopes", func() {
		token, err := service.IssueToken("shop-backend", []string{auth.ScopeOrdersWrite}, time.Hour)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		claims, err := service.ValidateAccessToken(token)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(claims.Subject).To(gomega.Equal("shop-backend"))
		gomega.Expect(claims.HasScope(auth.ScopeOrdersWrite)).To(gomega.BeTrue())
		gomega.Expect(claims.HasScope(auth.ScopePaymentsAdmin)).To(gomega.BeFalse())
	})

	ginkgo.It("requires a subject", func() {
		_, err := service.IssueToken("", []string{auth.ScopeOrdersWrite}, time.Hour)
		gomega.Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects expired tokens", func() {
		token, err := generator.GenerateToken("ops", []string{auth.ScopePaymentsAdmin}, time.Nanosecond)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		time.Sleep(1100 * time.Millisecond)

		_, err = generator.ValidateToken(token)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenExpired))
	})

	ginkgo.It("rejects tokens signed with another secret", func() {
		other := auth.NewJWTTokenGenerator("another-secret-that-is-32-characters", "payment-orchestration")
		token, err := other.GenerateToken("ops", []string{auth.ScopePaymentsAdmin}, time.Hour)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = generator.ValidateToken(token)
		gomega.Expect(err).To(gomega.MatchError(errors.ErrInvalidToken))
	})

	ginkgo.It("rejects tokens from another issuer", func() {
		other := auth.NewJWTTokenGenerator(testSecret, "someone-else")
		token, err := other.GenerateToken("ops", []string{auth.ScopePaymentsAdmin}, time.Hour)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = generator.ValidateToken(token)
		gomega.Expect(err).To(gomega.MatchError(errors.ErrInvalidToken))
	})

	ginkgo.It("rejects the none algorithm", func() {
		claims := &auth.Claims{
			Scopes: []string{auth.ScopePaymentsAdmin},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "payment-orchestration",
				Subject:   "attacker",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = generator.ValidateToken(token)
		gomega.Expect(err).To(gomega.MatchError(errors.ErrInvalidToken))
	})
})

var _ = ginkgo.Describe("ParseScopes", func() {
	ginkgo.It("accepts known scopes and drops duplicates", func() {
		scopes, err := auth.ParseScopes(" orders:write, payments:admin,orders:write ")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(scopes).To(gomega.Equal([]string{auth.ScopeOrdersWrite, auth.ScopePaymentsAdmin}))
	})

	ginkgo.It("rejects unknown or empty scope lists", func() {
		_, err := auth.ParseScopes("orders:delete")
		gomega.Expect(err).To(gomega.HaveOccurred())
		_, err = auth.ParseScopes(" , ")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
