package auth_test

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/monocle-dev/relay/internal/auth"
)

var _ = Describe("TokenManager", func() {
	var tokens *auth.TokenManager

	BeforeEach(func() {
		var err error
		tokens, err = auth.NewTokenManager("test-secret", time.Hour)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects an empty secret", func() {
		_, err := auth.NewTokenManager("", time.Hour)
		Expect(err).To(HaveOccurred())
	})

	It("round-trips user id and email", func() {
		token, err := tokens.Generate(42, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		claims, err := tokens.Verify(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(Equal(uint(42)))
		Expect(claims.Email).To(Equal("ada@example.com"))
	})

	It("rejects tokens signed with another secret", func() {
		other, _ := auth.NewTokenManager("other-secret", time.Hour)
		token, err := other.Generate(42, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.Verify(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects expired tokens", func() {
		expired, _ := auth.NewTokenManager("test-secret", -time.Minute)
		token, err := expired.Generate(42, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.Verify(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects tokens without a user id", func() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"email": "ada@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.Verify(signed)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects tokens that never expire", func() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": 42,
			"email":   "ada@example.com",
		})
		signed, err := token.SignedString([]byte("test-secret"))
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.Verify(signed)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects garbage", func() {
		_, err := tokens.Verify("not.a.token")
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})
})
