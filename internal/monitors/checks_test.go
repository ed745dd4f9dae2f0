package monitors_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/monocle-dev/relay/internal/monitors"
)

var _ = Describe("RunAll", func() {
	It("reports each check sorted by name", func() {
		results := monitors.RunAll(context.Background(), map[string]monitors.Check{
			"redis":    func(context.Context) error { return nil },
			"database": func(context.Context) error { return errors.New("connection refused") },
		}, time.Second)

		Expect(results).To(HaveLen(2))
		Expect(results[0].Name).To(Equal("database"))
		Expect(results[0].Healthy).To(BeFalse())
		Expect(results[0].Error).To(Equal("connection refused"))
		Expect(results[1].Name).To(Equal("redis"))
		Expect(results[1].Healthy).To(BeTrue())
		Expect(monitors.Healthy(results)).To(BeFalse())
	})

	It("bounds slow checks with the timeout", func() {
		results := monitors.RunAll(context.Background(), map[string]monitors.Check{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}, 20*time.Millisecond)

		Expect(results).To(HaveLen(1))
		Expect(results[0].Healthy).To(BeFalse())
		Expect(results[0].Error).To(ContainSubstring("deadline"))
	})

	It("is healthy with no checks", func() {
		Expect(monitors.Healthy(monitors.RunAll(context.Background(), nil, 0))).To(BeTrue())
	})
})
