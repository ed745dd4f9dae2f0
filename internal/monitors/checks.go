package monitors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultTimeout = 3 * time.Second

// Check probes one dependency. A nil error means it is reachable.
type Check func(ctx context.Context) error

type Result struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func CheckDatabase(conn *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return fmt.Errorf("failed to get database handle: %w", err)
		}

		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		return nil
	}
}

func CheckRedis(client *redis.Client) Check {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		return nil
	}
}

// RunAll runs every check concurrently, each under its own timeout, and
// returns the results sorted by name.
func RunAll(ctx context.Context, checks map[string]Check, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]Result, 0, len(checks))
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			res := Result{Name: name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}
