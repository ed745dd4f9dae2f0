package scheduler_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/metrics"
	"github.com/monocle-dev/relay/internal/models"
	"github.com/monocle-dev/relay/internal/scheduler"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var _ = Describe("Scheduler", func() {
	var s *scheduler.Scheduler

	BeforeEach(func() {
		s = scheduler.NewScheduler(quietLogger())
	})

	AfterEach(func() {
		s.Stop()
	})

	It("runs a job immediately and then on every tick", func() {
		var runs atomic.Int32
		Expect(s.AddJob("tick", 10*time.Millisecond, func(context.Context) error {
			runs.Add(1)
			return nil
		})).To(Succeed())

		Eventually(runs.Load).Should(BeNumerically(">=", 3))
	})

	It("records the last error", func() {
		Expect(s.AddJob("broken", time.Hour, func(context.Context) error {
			return errors.New("nope")
		})).To(Succeed())

		Eventually(s.Status).Should(ConsistOf(SatisfyAll(
			HaveField("Name", "broken"),
			HaveField("Interval", "1h0m0s"),
			HaveField("Runs", 1),
			HaveField("LastRun", Not(BeNil())),
			HaveField("LastError", "nope"),
		)))
	})

	It("refuses non-positive intervals", func() {
		noop := func(context.Context) error { return nil }

		Expect(s.AddJob("zero", 0, noop)).To(MatchError(ContainSubstring("interval must be positive")))
		Expect(s.AddJob("negative", -time.Minute, noop)).To(HaveOccurred())
		Expect(s.Status()).To(BeEmpty())
	})

	It("lists jobs sorted by name", func() {
		noop := func(context.Context) error { return nil }
		Expect(s.AddJob("retention", time.Hour, noop)).To(Succeed())
		Expect(s.AddJob("gauges", time.Hour, noop)).To(Succeed())

		names := []string{}
		for _, st := range s.Status() {
			names = append(names, st.Name)
		}
		Expect(names).To(Equal([]string{"gauges", "retention"}))
	})

	It("replaces a job registered under the same name", func() {
		var first, second atomic.Int32
		Expect(s.AddJob("job", 10*time.Millisecond, func(context.Context) error {
			first.Add(1)
			return nil
		})).To(Succeed())
		Eventually(first.Load).Should(BeNumerically(">=", 1))

		Expect(s.AddJob("job", 10*time.Millisecond, func(context.Context) error {
			second.Add(1)
			return nil
		})).To(Succeed())
		Eventually(second.Load).Should(BeNumerically(">=", 2))

		settled := first.Load()
		Consistently(first.Load, 50*time.Millisecond).Should(Equal(settled))
		Expect(s.Status()).To(HaveLen(1))
	})
})

type pruneStore struct {
	cutoff time.Time
	pruned int64
	err    error
}

func (p *pruneStore) Create(context.Context, *models.Notification) error { return nil }
func (p *pruneStore) ListForUser(context.Context, uint, bool, int) ([]models.Notification, error) {
	return nil, nil
}
func (p *pruneStore) MarkRead(context.Context, uint, uint) (*models.Notification, error) {
	return nil, nil
}
func (p *pruneStore) MarkAllRead(context.Context, uint) (int64, error) { return 0, nil }
func (p *pruneStore) PruneRead(_ context.Context, olderThan time.Time) (int64, error) {
	p.cutoff = olderThan
	return p.pruned, p.err
}

type stats struct{ clients, rooms int }

func (s stats) Stats() (int, int) { return s.clients, s.rooms }

var _ = Describe("jobs", func() {
	It("prunes notifications read before the retention window", func() {
		st := &pruneStore{pruned: 3}
		before := testutil.ToFloat64(metrics.NotificationsPruned)

		Expect(scheduler.NotificationRetention(st, 30)(context.Background())).To(Succeed())

		Expect(st.cutoff).To(BeTemporally("~", time.Now().AddDate(0, 0, -30), time.Minute))
		Expect(testutil.ToFloat64(metrics.NotificationsPruned)).To(Equal(before + 3))
	})

	It("surfaces prune errors", func() {
		st := &pruneStore{err: errors.New("db down")}
		Expect(scheduler.NotificationRetention(st, 30)(context.Background())).To(MatchError("db down"))
	})

	It("syncs hub gauges", func() {
		Expect(scheduler.HubGauges(stats{clients: 4, rooms: 2})(context.Background())).To(Succeed())
		Expect(testutil.ToFloat64(metrics.ConnectedClients)).To(Equal(4.0))
		Expect(testutil.ToFloat64(metrics.ActiveRooms)).To(Equal(2.0))
	})
})
