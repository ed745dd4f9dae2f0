package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/monocle-dev/relay/internal/auth"
	"github.com/monocle-dev/relay/internal/middleware"
	"github.com/monocle-dev/relay/internal/types"
)

var _ = Describe("AuthMiddleware", func() {
	var (
		router *gin.Engine
		tokens *auth.TokenManager
		token  string
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		var err error
		tokens, err = auth.NewTokenManager("test-secret", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		token, err = tokens.Generate(7, "grace@example.com")
		Expect(err).NotTo(HaveOccurred())

		router = gin.New()
		router.GET("/me", middleware.AuthMiddleware(tokens), func(c *gin.Context) {
			user, _ := c.Get(types.ContextUserKey)
			c.JSON(http.StatusOK, user)
		})
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("accepts a bearer token", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		w := serve(req)
		Expect(w.Code).To(Equal(http.StatusOK))

		var user middleware.AuthenticatedUser
		Expect(json.Unmarshal(w.Body.Bytes(), &user)).To(Succeed())
		Expect(user.ID).To(Equal(uint(7)))
		Expect(user.Email).To(Equal("grace@example.com"))
	})

	It("accepts the token cookie", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: types.TokenCookieName, Value: token})

		Expect(serve(req).Code).To(Equal(http.StatusOK))
	})

	It("accepts the token query parameter", func() {
		req := httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)

		Expect(serve(req).Code).To(Equal(http.StatusOK))
	})

	It("rejects a malformed Authorization header", func() {
		req := httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)
		req.Header.Set("Authorization", "Token "+token)

		Expect(serve(req).Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a missing token", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)

		Expect(serve(req).Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects an invalid token", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer nope")

		Expect(serve(req).Code).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("WebhookAuth", func() {
	var router *gin.Engine

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		router.POST("/hook", middleware.WebhookAuth("hook-secret"), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
	})

	It("passes with the right secret", func() {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set(types.WebhookSecretHeader, "hook-secret")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusNoContent))
	})

	DescribeTable("rejects",
		func(secret string) {
			req := httptest.NewRequest(http.MethodPost, "/hook", nil)
			if secret != "" {
				req.Header.Set(types.WebhookSecretHeader, secret)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("a missing secret", ""),
		Entry("a wrong secret", "guess"),
	)
})
